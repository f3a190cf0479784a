// Package backend is the typed client of the marketplace REST backend.
//
// Only transport concerns live here: request construction, rate limiting,
// decoding and error classification. Callers decide staleness; a request is
// never aborted because its result became stale.
package backend

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
)

const (
	maxBodySize       = 8 << 20
	maxDirectoryPages = 1000
)

// Config holds the backend client settings.
type Config struct {
	BaseURL           string        `default:"http://localhost:8081" usage:"Marketplace REST backend base URL" flag:"backend-url"`
	Timeout           time.Duration `default:"10s" usage:"Per-request timeout" flag:"backend-timeout"`
	RPS               float64       `default:"50" usage:"Outbound requests per second (0 disables limiting)" flag:"backend-rps"`
	Burst             int           `default:"100" usage:"Outbound request burst" flag:"backend-burst"`
	DirectoryPageSize int           `default:"100" usage:"Page size used to walk the shop directory" flag:"backend-directory-page-size"`
	Retry             RetryConfig
}

// Option configures a Client.
type Option func(*Client)

// WithTelemetry instruments outgoing requests with the given providers.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(c *Client) {
		c.tp = tp
		c.mp = mp
	}
}

// WithLogger sets the client logger.
func WithLogger(lg *zap.Logger) Option {
	return func(c *Client) { c.lg = lg }
}

// WithTransport replaces the base round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// Client talks to the marketplace REST backend. Safe for concurrent use.
type Client struct {
	baseURL     *url.URL
	http        *http.Client
	limiter     *rate.Limiter
	retry       RetryConfig
	dirPageSize int
	lg          *zap.Logger

	base http.RoundTripper
	tp   trace.TracerProvider
	mp   metric.MeterProvider
}

// NewClient creates a Client for cfg.BaseURL.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	c := &Client{
		baseURL:     u,
		retry:       cfg.Retry,
		dirPageSize: cfg.DirectoryPageSize,
		lg:          zap.NewNop(),
		base:        http.DefaultTransport,
	}
	for _, o := range opts {
		o(c)
	}
	if c.dirPageSize <= 0 {
		c.dirPageSize = 100
	}
	if c.retry.MaxAttempts <= 0 {
		c.retry = DefaultRetryConfig()
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(limit, burst)

	var otelOpts []otelhttp.Option
	if c.tp != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(c.tp))
	}
	if c.mp != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(c.mp))
	}
	c.http = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(c.base, otelOpts...),
	}
	return c, nil
}

// SearchProducts returns up to limit products matching text.
func (c *Client) SearchProducts(ctx context.Context, text string, limit int) ([]catalog.Product, error) {
	q := url.Values{}
	q.Set("search", text)
	q.Set("page_size", strconv.Itoa(limit))

	var out []catalog.Product
	_, err := c.get(ctx, "search products", "/products/", q, func(d *jx.Decoder) error {
		p, err := decodeProduct(d)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListProducts fetches one page of the product listing. Page numbers on the
// wire are one-based.
func (c *Client) ListProducts(ctx context.Context, pq catalog.ProductQuery) (catalog.ProductPage, error) {
	q := url.Values{}
	if pq.Search != "" {
		q.Set("search", pq.Search)
	}
	if pq.CategorySlug != "" {
		q.Set("category_slug", pq.CategorySlug)
	}
	q.Set("page", strconv.Itoa(pq.Page+1))
	q.Set("page_size", strconv.Itoa(pq.PageSize))

	var page catalog.ProductPage
	meta, err := c.get(ctx, "list products", "/products/", q, func(d *jx.Decoder) error {
		p, err := decodeProduct(d)
		if err != nil {
			return err
		}
		page.Items = append(page.Items, p)
		return nil
	})
	if err != nil {
		var se *StatusError
		// Paging past the end is answered with 404.
		if errors.As(err, &se) && se.Status == http.StatusNotFound && pq.Page > 0 {
			return catalog.ProductPage{Last: true, Total: -1}, nil
		}
		return catalog.ProductPage{}, err
	}
	page.Total = meta.Count
	// Without a "next" key the page-size heuristic decides.
	page.Last = meta.NextKnown && !meta.HasNext
	return page, nil
}

// ListShops fetches one page of shops. page is zero-based.
func (c *Client) ListShops(ctx context.Context, page, pageSize int) (shops []catalog.Shop, hasNext bool, err error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page+1))
	q.Set("page_size", strconv.Itoa(pageSize))

	meta, err := c.get(ctx, "list shops", "/shops/", q, func(d *jx.Decoder) error {
		s, err := decodeShop(d)
		if err != nil {
			return err
		}
		shops = append(shops, s)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !meta.NextKnown {
		return shops, len(shops) >= pageSize, nil
	}
	return shops, meta.HasNext, nil
}

// ListCategories fetches the category list.
func (c *Client) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	var out []catalog.Category
	_, err := c.get(ctx, "list categories", "/categories/", nil, func(d *jx.Decoder) error {
		cat, err := decodeCategory(d)
		if err != nil {
			return err
		}
		out = append(out, cat)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadDirectory walks every shop page and loads the categories, retrying
// transient failures.
func (c *Client) LoadDirectory(ctx context.Context) (catalog.StaticDirectory, error) {
	var dir catalog.StaticDirectory

	for page := 0; page < maxDirectoryPages; page++ {
		var (
			shops   []catalog.Shop
			hasNext bool
		)
		err := RetryWithBackoff(ctx, c.retry, func(ctx context.Context) error {
			var err error
			shops, hasNext, err = c.ListShops(ctx, page, c.dirPageSize)
			return err
		})
		if err != nil {
			return catalog.StaticDirectory{}, errors.Wrapf(err, "load shop page %d", page)
		}
		dir.ShopList = append(dir.ShopList, shops...)
		if !hasNext || len(shops) == 0 {
			break
		}
	}

	err := RetryWithBackoff(ctx, c.retry, func(ctx context.Context) error {
		var err error
		dir.CategoryList, err = c.ListCategories(ctx)
		return err
	})
	if err != nil {
		return catalog.StaticDirectory{}, errors.Wrap(err, "load categories")
	}

	c.lg.Debug("Directory loaded",
		zap.Int("shops", len(dir.ShopList)),
		zap.Int("categories", len(dir.CategoryList)),
	)
	return dir, nil
}

// Ping checks that the backend answers the category endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "ping", "/categories/", nil, func(d *jx.Decoder) error { return d.Skip() })
	return err
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, item func(d *jx.Decoder) error) (listMeta, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return listMeta{}, errors.Wrapf(err, "%s: rate limit", op)
	}

	u := *c.baseURL
	u.Path = strings.TrimSuffix(c.baseURL.Path, "/") + path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return listMeta{}, errors.Wrapf(err, "%s: create request", op)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return listMeta{}, &TransientError{Err: errors.Wrap(err, op)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return listMeta{}, classifyStatus(op, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return listMeta{}, &TransientError{Err: errors.Wrapf(err, "%s: read body", op)}
	}

	meta, err := decodeList(jx.DecodeBytes(body), item)
	if err != nil {
		return listMeta{}, errors.Wrapf(err, "%s: decode", op)
	}
	return meta, nil
}
