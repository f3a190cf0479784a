// Package feed implements the infinite-scroll product feed controller.
//
// Pages are fetched strictly one at a time per filter generation. A filter
// change starts a new generation, clears the list in the same loop turn and
// makes every outstanding fetch of older generations stale.
package feed

import (
	"context"
	"slices"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/AikioCorp/buy-web-sub002/internal/epoch"
	"github.com/AikioCorp/buy-web-sub002/internal/loop"
)

// DefaultPageSize is the number of products requested per page.
const DefaultPageSize = 100

// Config tunes the controller.
type Config struct {
	PageSize int `default:"100" usage:"Products per feed page" flag:"feed-page-size"`
}

// Options are the collaborators of a Controller.
type Options struct {
	Fetcher  PageFetcher
	Executor loop.Executor
	Logger   *zap.Logger
	Meter    metric.Meter

	// OnPublish is called on the loop after every published State.
	OnPublish func(State)
}

// Controller owns the feed state of one session. All methods must be called
// on the session loop except Snapshot.
type Controller struct {
	pageSize int
	fetcher  PageFetcher
	exec     loop.Executor
	lg       *zap.Logger

	gens    epoch.Guard
	state   State
	started bool
	// failedPage is the page index whose fetch moved the feed to Errored.
	failedPage int

	onPublish func(State)
	onSettled []func()

	current atomic.Pointer[State]

	pages    metric.Int64Counter
	stale    metric.Int64Counter
	failures metric.Int64Counter
}

// NewController creates an idle Controller. Nothing is fetched until the
// first SetFilter.
func NewController(cfg Config, opts Options) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Meter == nil {
		opts.Meter = noop.NewMeterProvider().Meter("")
	}

	c := &Controller{
		pageSize:  cfg.PageSize,
		fetcher:   opts.Fetcher,
		exec:      opts.Executor,
		lg:        opts.Logger,
		onPublish: opts.OnPublish,
		state:     State{HasMore: true},
	}
	c.pages, _ = opts.Meter.Int64Counter("storefront.feed.pages",
		metric.WithDescription("Feed pages applied"))
	c.stale, _ = opts.Meter.Int64Counter("storefront.feed.stale",
		metric.WithDescription("Feed pages discarded after a filter change"))
	c.failures, _ = opts.Meter.Int64Counter("storefront.feed.errors",
		metric.WithDescription("Feed page fetches that failed"))

	snap := c.state
	c.current.Store(&snap)
	return c
}

// OnSettled registers fn to run after every applied page result, successful
// or not.
func (c *Controller) OnSettled(fn func()) {
	c.onSettled = append(c.onSettled, fn)
}

// Snapshot returns the latest published state. Safe for concurrent use.
func (c *Controller) Snapshot() State {
	return *c.current.Load()
}

// PageSize returns the configured page size.
func (c *Controller) PageSize() int {
	return c.pageSize
}

// SetFilter resets the feed to page zero of f. The first call always loads;
// later calls are no-ops when f equals the current filter.
func (c *Controller) SetFilter(f Filter) {
	if c.started && f == c.state.Filter {
		return
	}
	c.started = true

	gen := c.gens.Next()
	c.state = State{
		Generation: gen,
		Filter:     f,
		HasMore:    true,
		Status:     StatusLoadingFirst,
	}
	c.publish()
	c.fetch(gen, f, 0)
}

// OnNearEndOfList requests the next page when the feed is idle and more
// pages are available.
func (c *Controller) OnNearEndOfList() {
	if c.state.Status != StatusIdle || !c.state.HasMore {
		return
	}
	c.state.Status = StatusLoadingMore
	c.publish()
	c.fetch(c.state.Generation, c.state.Filter, c.state.CurrentPage+1)
}

// Retry refetches the page that failed. It is a no-op unless the feed is
// Errored.
func (c *Controller) Retry() {
	if c.state.Status != StatusErrored {
		return
	}
	c.state.HasMore = true
	if c.failedPage == 0 {
		c.state.Status = StatusLoadingFirst
	} else {
		c.state.Status = StatusLoadingMore
	}
	c.publish()
	c.fetch(c.state.Generation, c.state.Filter, c.failedPage)
}

func (c *Controller) fetch(gen uint64, f Filter, index int) {
	size := c.pageSize
	c.exec.Go(func(ctx context.Context) func() {
		page, err := c.fetcher.FetchPage(ctx, f, index, size)
		return func() { c.apply(gen, index, page, err) }
	})
}

func (c *Controller) apply(gen uint64, index int, page Page, err error) {
	if c.gens.IsStale(gen) {
		c.stale.Add(context.Background(), 1)
		c.lg.Debug("Discarding stale feed page",
			zap.Uint64("generation", gen),
			zap.Int("page", index),
		)
		return
	}

	if err != nil {
		c.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("first_page", index == 0)))
		c.lg.Warn("Feed page fetch failed",
			zap.Int("page", index),
			zap.Error(err),
		)
		if index == 0 {
			c.state.Items = nil
		}
		c.state.HasMore = false
		c.state.Status = StatusErrored
		c.failedPage = index
		c.publish()
		c.settled()
		return
	}

	if index == 0 {
		c.state.Items = slices.Clone(page.Items)
	} else {
		// Clip forces a copy so published snapshots keep their backing array.
		c.state.Items = append(slices.Clip(c.state.Items), page.Items...)
	}
	c.state.CurrentPage = index
	c.state.HasMore = !page.IsLast && len(page.Items) >= c.pageSize
	if c.state.HasMore {
		c.state.Status = StatusIdle
	} else {
		c.state.Status = StatusExhausted
	}
	c.pages.Add(context.Background(), 1)
	c.publish()
	c.settled()
}

func (c *Controller) settled() {
	for _, fn := range c.onSettled {
		fn()
	}
}

func (c *Controller) publish() {
	snap := c.state
	c.current.Store(&snap)
	if c.onPublish != nil {
		c.onPublish(snap)
	}
}
