// Package session hosts storefront sessions: one suggestion aggregator, feed
// controller and visibility sentinel per visitor tab, all driven by a
// dedicated event loop.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
	"github.com/AikioCorp/buy-web-sub002/internal/feed"
	"github.com/AikioCorp/buy-web-sub002/internal/loop"
	"github.com/AikioCorp/buy-web-sub002/internal/sentinel"
	"github.com/AikioCorp/buy-web-sub002/internal/suggest"
	"github.com/AikioCorp/buy-web-sub002/internal/timer"
)

// Backend is the part of the marketplace backend a session talks to.
type Backend interface {
	suggest.ProductSearcher
	ListProducts(ctx context.Context, q catalog.ProductQuery) (catalog.ProductPage, error)
}

// feedSource adapts Backend to feed.PageFetcher.
type feedSource struct {
	b Backend
}

func (s feedSource) FetchPage(ctx context.Context, f feed.Filter, index, size int) (feed.Page, error) {
	p, err := s.b.ListProducts(ctx, catalog.ProductQuery{
		Search:       f.SearchText,
		CategorySlug: f.CategorySlug,
		Page:         index,
		PageSize:     size,
	})
	if err != nil {
		return feed.Page{}, err
	}
	return feed.Page{Index: index, Items: p.Items, IsLast: p.Last}, nil
}

// Session is one storefront session. Commands are executed on the session
// loop; snapshot readers never block it.
type Session struct {
	id        string
	createdAt time.Time
	lastSeen  atomic.Int64
	lg        *zap.Logger

	loop     *loop.Loop
	agg      *suggest.Aggregator
	feed     *feed.Controller
	sentinel *sentinel.Adapter

	subMu     sync.Mutex
	subs      map[*Subscription]struct{}
	closed    bool
	closeOnce sync.Once
}

type sessionParams struct {
	ID        string
	Config    Config
	Backend   Backend
	Directory catalog.Directory
	Logger    *zap.Logger
	Meter     metric.Meter
	// Clock overrides the loop-posting wall clock.
	Clock timer.Clock
}

func newSession(ctx context.Context, p sessionParams) *Session {
	lg := p.Logger.With(zap.String("session", p.ID))
	s := &Session{
		id:        p.ID,
		createdAt: time.Now(),
		lg:        lg,
		loop:      loop.New(ctx, lg),
		subs:      make(map[*Subscription]struct{}),
	}
	s.touch()

	clock := p.Clock
	if clock == nil {
		clock = timer.RealClock{Post: func(fn func()) { s.loop.Post(fn) }}
	}
	sched := timer.NewScheduler(clock)

	s.agg = suggest.NewAggregator(p.Config.Suggest, suggest.Options{
		Searcher:  p.Backend,
		Directory: p.Directory,
		Scheduler: sched,
		Executor:  s.loop,
		Logger:    lg.Named("suggest"),
		Meter:     p.Meter,
		OnPublish: func(set suggest.Set) {
			s.broadcast(Event{Type: EventSuggestions, Suggestions: set})
		},
		OnIntent: func(i suggest.Intent) {
			s.broadcast(Event{Type: EventNavigate, Intent: i})
		},
	})
	s.feed = feed.NewController(p.Config.Feed, feed.Options{
		Fetcher:  feedSource{b: p.Backend},
		Executor: s.loop,
		Logger:   lg.Named("feed"),
		Meter:    p.Meter,
		OnPublish: func(st feed.State) {
			s.broadcast(Event{Type: EventFeed, Feed: st})
		},
	})
	s.sentinel = sentinel.New(s.feed.OnNearEndOfList)
	s.feed.OnSettled(s.sentinel.Rearm)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastSeen returns the time of the last command.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// Query feeds a new query text to the suggestion aggregator.
func (s *Session) Query(ctx context.Context, text string) (suggest.Set, error) {
	if err := s.do(ctx, func() { s.agg.OnQueryChanged(text) }); err != nil {
		return suggest.Set{}, err
	}
	return s.agg.Snapshot(), nil
}

// Select selects a suggestion and returns the navigation intent.
func (s *Session) Select(ctx context.Context, sug suggest.Suggestion) (suggest.Intent, error) {
	var intent suggest.Intent
	if err := s.do(ctx, func() { intent = s.agg.Select(sug) }); err != nil {
		return suggest.Intent{}, err
	}
	return intent, nil
}

// SetFilter changes the feed filter.
func (s *Session) SetFilter(ctx context.Context, f feed.Filter) (feed.State, error) {
	if err := s.do(ctx, func() { s.feed.SetFilter(f) }); err != nil {
		return feed.State{}, err
	}
	return s.feed.Snapshot(), nil
}

// SetVisible forwards the end-of-list marker visibility.
func (s *Session) SetVisible(ctx context.Context, visible bool) error {
	return s.do(ctx, func() { s.sentinel.SetVisible(visible) })
}

// Retry retries a failed feed page.
func (s *Session) Retry(ctx context.Context) (feed.State, error) {
	if err := s.do(ctx, s.feed.Retry); err != nil {
		return feed.State{}, err
	}
	return s.feed.Snapshot(), nil
}

// Suggestions returns the current suggestion snapshot.
func (s *Session) Suggestions() suggest.Set {
	return s.agg.Snapshot()
}

// Feed returns the current feed snapshot.
func (s *Session) Feed() feed.State {
	return s.feed.Snapshot()
}

// Close stops the session loop and ends every subscription.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.loop.Close()

		s.subMu.Lock()
		s.closed = true
		for sub := range s.subs {
			sub.close()
			delete(s.subs, sub)
		}
		s.subMu.Unlock()
	})
}

// Done is closed once the session loop has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.loop.Done()
}

func (s *Session) do(ctx context.Context, fn func()) error {
	s.touch()
	if err := s.loop.Do(ctx, fn); err != nil {
		if errors.Is(err, loop.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}
