package handler

import (
	"io"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
	"github.com/AikioCorp/buy-web-sub002/internal/feed"
	"github.com/AikioCorp/buy-web-sub002/internal/suggest"
)

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(err error) error {
	return &badRequestError{msg: err.Error()}
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		return nil, badRequest(errors.Wrap(err, "read body"))
	}
	return data, nil
}

// decodeFields walks a JSON object, reporting malformed input as a bad request.
func decodeFields(data []byte, field func(d *jx.Decoder, key string) error) error {
	if err := jx.DecodeBytes(data).Obj(field); err != nil {
		return badRequest(errors.Wrap(err, "decode body"))
	}
	return nil
}

func decodeQuery(data []byte) (text string, err error) {
	err = decodeFields(data, func(d *jx.Decoder, key string) error {
		if key == "text" {
			var err error
			text, err = d.Str()
			return err
		}
		return d.Skip()
	})
	return text, err
}

func decodeFilter(data []byte) (f feed.Filter, err error) {
	err = decodeFields(data, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "search":
			f.SearchText, err = d.Str()
		case "category":
			if d.Next() == jx.Null {
				return d.Null()
			}
			f.CategorySlug, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return f, err
}

func decodeVisible(data []byte) (visible bool, err error) {
	seen := false
	err = decodeFields(data, func(d *jx.Decoder, key string) error {
		if key == "visible" {
			seen = true
			var err error
			visible, err = d.Bool()
			return err
		}
		return d.Skip()
	})
	if err == nil && !seen {
		err = badRequest(errors.New("missing visible"))
	}
	return visible, err
}

func decodeSelection(data []byte) (s suggest.Suggestion, err error) {
	var kind string
	err = decodeFields(data, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "kind":
			kind, err = d.Str()
		case "id":
			s.ID, err = d.Str()
		case "slug":
			s.Slug, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return s, err
	}
	if s.Kind, err = suggest.ParseKind(kind); err != nil {
		return s, badRequest(err)
	}
	if s.ID == "" && s.Slug == "" {
		return s, badRequest(errors.New("id or slug is required"))
	}
	return s, nil
}

// parseDisplay reads the sort, view, min_price and max_price query values.
func parseDisplay(q url.Values) (feed.Display, error) {
	var (
		d   feed.Display
		err error
	)
	if d.Sort, err = feed.ParseSortOrder(q.Get("sort")); err != nil {
		return d, badRequest(err)
	}
	if d.View, err = feed.ParseViewMode(q.Get("view")); err != nil {
		return d, badRequest(err)
	}
	if d.MinPrice, err = parsePrice(q.Get("min_price")); err != nil {
		return d, badRequest(errors.Wrap(err, "min_price"))
	}
	if d.MaxPrice, err = parsePrice(q.Get("max_price")); err != nil {
		return d, badRequest(errors.Wrap(err, "max_price"))
	}
	if d.MinPrice.Valid && d.MaxPrice.Valid && d.MinPrice.Decimal.GreaterThan(d.MaxPrice.Decimal) {
		return d, badRequest(errors.New("min_price exceeds max_price"))
	}
	return d, nil
}

func parsePrice(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if v.IsNegative() {
		return decimal.NullDecimal{}, errors.New("negative price")
	}
	return decimal.NewNullDecimal(v), nil
}

func (h *Handler) encodeSuggestion(e *jx.Encoder, s suggest.Suggestion) {
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(s.Kind.String())
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("name")
	e.Str(s.DisplayName)
	e.FieldStart("slug")
	e.Str(s.Slug)
	e.FieldStart("image")
	e.Str(h.image(s.ImageRef))
	e.FieldStart("price")
	if s.Price.Valid {
		e.Str(s.Price.Decimal.StringFixed(2))
	} else {
		e.Null()
	}
	e.ObjEnd()
}

func (h *Handler) encodeSet(e *jx.Encoder, set suggest.Set) {
	bucket := func(name string, items []suggest.Suggestion) {
		e.FieldStart(name)
		e.ArrStart()
		for _, s := range items {
			h.encodeSuggestion(e, s)
		}
		e.ArrEnd()
	}

	e.ObjStart()
	e.FieldStart("epoch")
	e.UInt64(set.Epoch)
	e.FieldStart("query")
	e.Str(set.Query)
	bucket("products", set.Products)
	bucket("shops", set.Shops)
	bucket("categories", set.Categories)
	e.ObjEnd()
}

func (h *Handler) encodeProduct(e *jx.Encoder, p catalog.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("slug")
	e.Str(p.Slug)
	e.FieldStart("price")
	e.Str(p.Price.StringFixed(2))
	e.FieldStart("image")
	e.Str(h.image(p.Image))
	e.FieldStart("shop_id")
	e.Str(p.ShopID)
	e.FieldStart("category")
	e.Str(p.CategorySlug)
	e.ObjEnd()
}

// encodeFeed writes the feed snapshot with its items projected through d.
// "loaded" counts every item held by the feed, "items" only the projection.
func (h *Handler) encodeFeed(e *jx.Encoder, st feed.State, d feed.Display) {
	items := st.View(d)

	e.ObjStart()
	e.FieldStart("generation")
	e.UInt64(st.Generation)
	e.FieldStart("filter")
	e.ObjStart()
	e.FieldStart("search")
	e.Str(st.Filter.SearchText)
	e.FieldStart("category")
	e.Str(st.Filter.CategorySlug)
	e.ObjEnd()
	e.FieldStart("status")
	e.Str(st.Status.String())
	e.FieldStart("page")
	e.Int(st.CurrentPage)
	e.FieldStart("has_more")
	e.Bool(st.HasMore)
	e.FieldStart("loaded")
	e.Int(len(st.Items))
	e.FieldStart("sort")
	e.Str(d.Sort.String())
	e.FieldStart("view")
	e.Str(d.View.String())
	e.FieldStart("items")
	e.ArrStart()
	for _, p := range items {
		h.encodeProduct(e, p)
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeIntent(e *jx.Encoder, i suggest.Intent) {
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(i.Kind.String())
	e.FieldStart("id")
	e.Str(i.ID)
	e.FieldStart("slug")
	e.Str(i.Slug)
	e.ObjEnd()
}

// render runs fn against a pooled encoder and returns a copy of the output.
func render(fn func(e *jx.Encoder)) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)
	out := make([]byte, len(e.Bytes()))
	copy(out, e.Bytes())
	return out
}
