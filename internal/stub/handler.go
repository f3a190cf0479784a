package stub

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
	"github.com/AikioCorp/buy-web-sub002/pkg/httpmiddleware"
)

// Handler serves the marketplace listing endpoints from a catalog.Repository,
// using page-number pagination with a count/next/previous/results envelope.
type Handler struct {
	repo            catalog.Repository
	defaultPageSize int
	maxPageSize     int
}

// NewHandler constructs a Handler.
func NewHandler(repo catalog.Repository, defaultPageSize, maxPageSize int) *Handler {
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	if maxPageSize < defaultPageSize {
		maxPageSize = defaultPageSize
	}
	return &Handler{repo: repo, defaultPageSize: defaultPageSize, maxPageSize: maxPageSize}
}

// Register adds the listing routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /products/{$}", h.listProducts)
	mux.HandleFunc("GET /shops/{$}", h.listShops)
	mux.HandleFunc("GET /categories/{$}", h.listCategories)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize, ok := h.pagination(w, q)
	if !ok {
		return
	}
	res, err := h.repo.ListProducts(r.Context(), catalog.ProductQuery{
		Search:       q.Get("search"),
		CategorySlug: q.Get("category_slug"),
		Page:         page,
		PageSize:     pageSize,
	})
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list products"))
		return
	}
	if len(res.Items) == 0 && page > 0 {
		httpmiddleware.WriteError(w, http.StatusNotFound, "invalid page")
		return
	}

	writeList(w, r.URL, page, res.Total, !res.Last, func(e *jx.Encoder) {
		for _, p := range res.Items {
			encodeProduct(e, p)
		}
	})
}

func (h *Handler) listShops(w http.ResponseWriter, r *http.Request) {
	page, pageSize, ok := h.pagination(w, r.URL.Query())
	if !ok {
		return
	}
	shops, total, err := h.repo.ListShops(r.Context(), page, pageSize)
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list shops"))
		return
	}
	if len(shops) == 0 && page > 0 {
		httpmiddleware.WriteError(w, http.StatusNotFound, "invalid page")
		return
	}

	hasNext := (page+1)*pageSize < total
	writeList(w, r.URL, page, total, hasNext, func(e *jx.Encoder) {
		for _, s := range shops {
			encodeShop(e, s)
		}
	})
}

// listCategories answers with a bare array; the category list is not paginated.
func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.repo.ListCategories(r.Context())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list categories"))
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ArrStart()
	for _, c := range categories {
		encodeCategory(e, c)
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, e.Bytes())
}

// pagination reads the one-based page and page_size query values and returns
// a zero-based page.
func (h *Handler) pagination(w http.ResponseWriter, q url.Values) (page, pageSize int, ok bool) {
	page, pageSize = 1, h.defaultPageSize
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpmiddleware.WriteError(w, http.StatusNotFound, "invalid page")
			return 0, 0, false
		}
		page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid page_size")
			return 0, 0, false
		}
		pageSize = min(n, h.maxPageSize)
	}
	return page - 1, pageSize, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, r.Context().Err()) {
		return
	}
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal error")
}

// writeList writes the paginated envelope. total < 0 is encoded as null.
func writeList(w http.ResponseWriter, u *url.URL, page, total int, hasNext bool, results func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("count")
	if total < 0 {
		e.Null()
	} else {
		e.Int(total)
	}
	e.FieldStart("next")
	if hasNext {
		e.Str(pageURL(u, page+1))
	} else {
		e.Null()
	}
	e.FieldStart("previous")
	if page > 0 {
		e.Str(pageURL(u, page-1))
	} else {
		e.Null()
	}
	e.FieldStart("results")
	e.ArrStart()
	results(e)
	e.ArrEnd()
	e.ObjEnd()

	writeJSON(w, http.StatusOK, e.Bytes())
}

// pageURL returns the request URL pointing at the zero-based page.
func pageURL(u *url.URL, page int) string {
	next := *u
	q := next.Query()
	q.Set("page", strconv.Itoa(page+1))
	next.RawQuery = q.Encode()
	return next.String()
}

func encodeProduct(e *jx.Encoder, p catalog.Product) {
	e.ObjStart()
	e.FieldStart("id")
	encodeID(e, p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("slug")
	e.Str(p.Slug)
	e.FieldStart("price")
	e.Str(p.Price.StringFixed(2))
	e.FieldStart("image")
	e.Str(p.Image)
	e.FieldStart("shop")
	encodeID(e, p.ShopID)
	e.FieldStart("category")
	e.Str(p.CategorySlug)
	e.ObjEnd()
}

func encodeShop(e *jx.Encoder, s catalog.Shop) {
	e.ObjStart()
	e.FieldStart("id")
	encodeID(e, s.ID)
	e.FieldStart("name")
	e.Str(s.Name)
	e.FieldStart("slug")
	e.Str(s.Slug)
	e.FieldStart("logo")
	e.Str(s.Logo)
	e.ObjEnd()
}

func encodeCategory(e *jx.Encoder, c catalog.Category) {
	e.ObjStart()
	e.FieldStart("id")
	encodeID(e, c.ID)
	e.FieldStart("name")
	e.Str(c.Name)
	e.FieldStart("slug")
	e.Str(c.Slug)
	e.ObjEnd()
}

// encodeID writes numeric ids as JSON numbers.
func encodeID(e *jx.Encoder, id string) {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		e.Int64(n)
		return
	}
	e.Str(id)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
