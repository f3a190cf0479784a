package backend

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
)

// listMeta is the pagination envelope of a list response.
type listMeta struct {
	// Count is the reported total, -1 when absent or null.
	Count int
	// NextKnown reports whether the response carried a "next" key.
	NextKnown bool
	HasNext   bool
}

// decodeList decodes either a paginated envelope
// {"count":N,"next":url|null,"previous":url|null,"results":[...]}
// or a bare array, calling item for every element.
func decodeList(d *jx.Decoder, item func(d *jx.Decoder) error) (listMeta, error) {
	meta := listMeta{Count: -1}
	switch tt := d.Next(); tt {
	case jx.Array:
		return meta, d.Arr(item)
	case jx.Object:
		err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "count":
				if d.Next() == jx.Null {
					return d.Null()
				}
				n, err := d.Int()
				if err != nil {
					return errors.Wrap(err, "count")
				}
				meta.Count = n
				return nil
			case "next":
				s, err := decodeString(d)
				if err != nil {
					return errors.Wrap(err, "next")
				}
				meta.NextKnown = true
				meta.HasNext = s != ""
				return nil
			case "results":
				return d.Arr(item)
			default:
				return d.Skip()
			}
		})
		return meta, err
	default:
		return meta, errors.Errorf("unexpected %s at list root", tt)
	}
}

// decodeString reads a string, treating null as empty.
func decodeString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Null:
		return "", d.Null()
	case jx.String:
		return d.Str()
	default:
		return "", errors.Errorf("expected string, got %s", d.Next())
	}
}

// decodeID reads an identifier that may be a number or a string.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return decodeString(d)
	}
}

// decodeDecimal reads a decimal encoded as a JSON string or number.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	default:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	}
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse decimal %q", raw)
	}
	return v, nil
}

// decodeImage reads an image reference given either as a URL string or as an
// object of renditions, preferring the thumbnail.
func decodeImage(d *jx.Decoder) (string, error) {
	if d.Next() != jx.Object {
		return decodeString(d)
	}
	var thumb, other string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if d.Next() != jx.String {
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		switch {
		case key == "thumbnail":
			thumb = s
		case other == "":
			other = s
		}
		return nil
	})
	if thumb != "" {
		return thumb, err
	}
	return other, err
}

// ref is a nested reference to a shop or category. Scalar is set when the
// reference was given as a bare id or slug.
type ref struct {
	ID     string
	Slug   string
	Name   string
	Scalar bool
}

func decodeRef(d *jx.Decoder) (ref, error) {
	var r ref
	switch d.Next() {
	case jx.Object:
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				r.ID, err = decodeID(d)
			case "slug":
				r.Slug, err = decodeString(d)
			case "name":
				r.Name, err = decodeString(d)
			default:
				err = d.Skip()
			}
			return err
		})
		return r, err
	case jx.Number, jx.String, jx.Null:
		id, err := decodeID(d)
		r.ID = id
		r.Scalar = true
		return r, err
	default:
		return r, d.Skip()
	}
}

func decodeProduct(d *jx.Decoder) (catalog.Product, error) {
	var p catalog.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = decodeID(d)
		case "name":
			p.Name, err = decodeString(d)
		case "slug":
			p.Slug, err = decodeString(d)
		case "price":
			p.Price, err = decodeDecimal(d)
		case "image", "image_url", "thumbnail":
			var img string
			img, err = decodeImage(d)
			if p.Image == "" {
				p.Image = img
			}
		case "shop":
			var r ref
			r, err = decodeRef(d)
			p.ShopID = r.ID
		case "shop_id":
			p.ShopID, err = decodeID(d)
		case "category":
			var r ref
			r, err = decodeRef(d)
			if r.Scalar {
				p.CategorySlug = r.ID
			} else {
				p.CategorySlug = r.Slug
			}
		case "category_slug":
			p.CategorySlug, err = decodeString(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return p, err
}

func decodeShop(d *jx.Decoder) (catalog.Shop, error) {
	var s catalog.Shop
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			s.ID, err = decodeID(d)
		case "name":
			s.Name, err = decodeString(d)
		case "slug":
			s.Slug, err = decodeString(d)
		case "logo", "logo_url", "image":
			s.Logo, err = decodeImage(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return s, err
}

func decodeCategory(d *jx.Decoder) (catalog.Category, error) {
	var c catalog.Category
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = decodeID(d)
		case "name":
			c.Name, err = decodeString(d)
		case "slug":
			c.Slug, err = decodeString(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return c, err
}
