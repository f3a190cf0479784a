// Package suggest implements the type-ahead suggestion aggregator.
//
// Keystrokes are debounced; each debounce firing issues a query epoch, matches
// the loaded shop and category directory locally and searches products
// remotely. A remote result is applied only if no later epoch was issued
// while it was in flight.
package suggest

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
	"github.com/AikioCorp/buy-web-sub002/internal/epoch"
	"github.com/AikioCorp/buy-web-sub002/internal/loop"
	"github.com/AikioCorp/buy-web-sub002/internal/timer"
)

// ProductSearcher runs the remote product search.
type ProductSearcher interface {
	SearchProducts(ctx context.Context, text string, limit int) ([]catalog.Product, error)
}

// Config tunes the aggregator.
type Config struct {
	Debounce      time.Duration `default:"300ms" usage:"Quiet period before a suggestion fetch"`
	MinChars      int           `default:"2" usage:"Minimum trimmed query length" flag:"suggest-min-chars"`
	ProductLimit  int           `default:"5" usage:"Product suggestions per query" flag:"suggest-products"`
	ShopLimit     int           `default:"3" usage:"Shop suggestions per query" flag:"suggest-shops"`
	CategoryLimit int           `default:"3" usage:"Category suggestions per query" flag:"suggest-categories"`
}

// DefaultConfig returns the storefront defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:      300 * time.Millisecond,
		MinChars:      2,
		ProductLimit:  5,
		ShopLimit:     3,
		CategoryLimit: 3,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.MinChars <= 0 {
		c.MinChars = d.MinChars
	}
	if c.ProductLimit <= 0 {
		c.ProductLimit = d.ProductLimit
	}
	if c.ShopLimit <= 0 {
		c.ShopLimit = d.ShopLimit
	}
	if c.CategoryLimit <= 0 {
		c.CategoryLimit = d.CategoryLimit
	}
}

// Options are the collaborators of an Aggregator.
type Options struct {
	Searcher  ProductSearcher
	Directory catalog.Directory
	Scheduler *timer.Scheduler
	Executor  loop.Executor
	Logger    *zap.Logger
	Meter     metric.Meter

	// OnPublish is called on the loop after every published Set.
	OnPublish func(Set)
	// OnIntent receives navigation intents from Select.
	OnIntent func(Intent)
}

// Aggregator owns the suggestion state of one session. All methods must be
// called on the session loop except Snapshot.
type Aggregator struct {
	cfg      Config
	searcher ProductSearcher
	exec     loop.Executor
	lg       *zap.Logger
	local    *localIndex
	debounce *timer.Debouncer
	epochs   epoch.Guard

	onPublish func(Set)
	onIntent  func(Intent)

	current atomic.Pointer[Set]

	fetches  metric.Int64Counter
	stale    metric.Int64Counter
	failures metric.Int64Counter
}

// NewAggregator creates an Aggregator with an empty published set.
func NewAggregator(cfg Config, opts Options) *Aggregator {
	cfg.setDefaults()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Meter == nil {
		opts.Meter = noop.NewMeterProvider().Meter("")
	}

	a := &Aggregator{
		cfg:       cfg,
		searcher:  opts.Searcher,
		exec:      opts.Executor,
		lg:        opts.Logger,
		local:     newLocalIndex(opts.Directory),
		debounce:  timer.NewDebouncer(opts.Scheduler, cfg.Debounce),
		onPublish: opts.OnPublish,
		onIntent:  opts.OnIntent,
	}
	a.fetches, _ = opts.Meter.Int64Counter("storefront.suggest.fetches",
		metric.WithDescription("Remote suggestion searches issued"))
	a.stale, _ = opts.Meter.Int64Counter("storefront.suggest.stale",
		metric.WithDescription("Suggestion results discarded as superseded"))
	a.failures, _ = opts.Meter.Int64Counter("storefront.suggest.failures",
		metric.WithDescription("Remote suggestion searches that failed"))

	a.current.Store(&Set{})
	return a
}

// Snapshot returns the latest published set. Safe for concurrent use.
func (a *Aggregator) Snapshot() Set {
	return *a.current.Load()
}

// Pending reports whether a debounced fetch is armed.
func (a *Aggregator) Pending() bool {
	return a.debounce.Pending()
}

// OnQueryChanged handles a new query text.
func (a *Aggregator) OnQueryChanged(text string) {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < a.cfg.MinChars {
		a.debounce.Cancel()
		// Bumping the epoch makes any in-flight fetch stale.
		e := a.epochs.Next()
		a.publish(Set{Epoch: e, Query: text})
		return
	}
	a.debounce.Trigger(func() { a.fire(text) })
}

// Select clears the query and suggestions and emits a navigation intent.
func (a *Aggregator) Select(s Suggestion) Intent {
	a.debounce.Cancel()
	e := a.epochs.Next()
	a.publish(Set{Epoch: e})

	intent := Intent{Kind: s.Kind, ID: s.ID, Slug: s.Slug}
	if a.onIntent != nil {
		a.onIntent(intent)
	}
	return intent
}

func (a *Aggregator) fire(text string) {
	e := a.epochs.Next()
	shops, categories := a.local.match(strings.TrimSpace(text), a.cfg.ShopLimit, a.cfg.CategoryLimit)

	a.fetches.Add(context.Background(), 1)
	limit := a.cfg.ProductLimit
	a.exec.Go(func(ctx context.Context) func() {
		products, err := a.searcher.SearchProducts(ctx, text, limit)
		return func() { a.complete(e, text, products, err, shops, categories) }
	})
}

func (a *Aggregator) complete(e uint64, text string, products []catalog.Product, err error, shops, categories []Suggestion) {
	if a.epochs.IsStale(e) {
		a.stale.Add(context.Background(), 1)
		a.lg.Debug("Discarding stale suggestions",
			zap.Uint64("epoch", e),
			zap.String("query", text),
		)
		return
	}
	if err != nil {
		// Local matches are still published.
		a.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", "search")))
		a.lg.Warn("Product suggestion search failed",
			zap.String("query", text),
			zap.Error(err),
		)
		products = nil
	}

	set := Set{
		Epoch:      e,
		Query:      text,
		Shops:      shops,
		Categories: categories,
	}
	for _, p := range products {
		if len(set.Products) >= a.cfg.ProductLimit {
			break
		}
		set.Products = append(set.Products, fromProduct(p))
	}
	a.publish(set)
}

func (a *Aggregator) publish(s Set) {
	a.current.Store(&s)
	if a.onPublish != nil {
		a.onPublish(s)
	}
}
