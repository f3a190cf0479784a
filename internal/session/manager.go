package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
	"github.com/AikioCorp/buy-web-sub002/internal/feed"
	"github.com/AikioCorp/buy-web-sub002/internal/suggest"
	"github.com/AikioCorp/buy-web-sub002/internal/timer"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrClosed is returned for commands sent to a closed session.
	ErrClosed = errors.New("session closed")
	// ErrTooManySessions is returned when the session cap is reached.
	ErrTooManySessions = errors.New("too many sessions")
)

// Config holds the session settings. Zero IdleTTL disables eviction and zero
// MaxSessions removes the cap.
type Config struct {
	IdleTTL     time.Duration
	MaxSessions int
	Suggest     suggest.Config
	Feed        feed.Config
}

// DirectorySource provides the shop and category lists.
type DirectorySource interface {
	Get(ctx context.Context) (catalog.StaticDirectory, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(lg *zap.Logger) Option {
	return func(m *Manager) { m.lg = lg }
}

// WithMeter sets the meter used by sessions.
func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) { m.meter = meter }
}

// WithClock makes sessions use clock instead of wall-clock timers.
func WithClock(clock timer.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// Manager creates, looks up and evicts sessions. Safe for concurrent use.
type Manager struct {
	ctx     context.Context
	cfg     Config
	backend Backend
	dirs    DirectorySource
	lg      *zap.Logger
	meter   metric.Meter
	clock   timer.Clock

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	active  metric.Int64UpDownCounter
	evicted metric.Int64Counter
}

// NewManager creates a Manager. Session loops are bound to ctx.
func NewManager(ctx context.Context, cfg Config, backend Backend, dirs DirectorySource, opts ...Option) *Manager {
	m := &Manager{
		ctx:      ctx,
		cfg:      cfg,
		backend:  backend,
		dirs:     dirs,
		lg:       zap.NewNop(),
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	if m.meter == nil {
		m.meter = noop.NewMeterProvider().Meter("")
	}
	m.active, _ = m.meter.Int64UpDownCounter("storefront.sessions.active",
		metric.WithDescription("Open storefront sessions"))
	m.evicted, _ = m.meter.Int64Counter("storefront.sessions.evicted",
		metric.WithDescription("Sessions closed after idling"))
	return m
}

// Create opens a session: it loads the directory, starts the loop and loads
// the first feed page with the empty filter.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	if err := m.reserve(); err != nil {
		return nil, err
	}

	dir, err := m.dirs.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get directory")
	}

	s := newSession(m.ctx, sessionParams{
		ID:        uuid.NewString(),
		Config:    m.cfg,
		Backend:   m.backend,
		Directory: dir,
		Logger:    m.lg,
		Meter:     m.meter,
		Clock:     m.clock,
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.Close()
		return nil, ErrClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		s.Close()
		return nil, ErrTooManySessions
	}
	m.sessions[s.id] = s
	m.mu.Unlock()
	m.active.Add(context.Background(), 1)

	if _, err := s.SetFilter(ctx, feed.Filter{}); err != nil {
		m.remove(s.id)
		return nil, errors.Wrap(err, "start feed")
	}

	m.lg.Info("Session created",
		zap.String("session", s.id),
		zap.Int("shops", len(dir.ShopList)),
		zap.Int("categories", len(dir.CategoryList)),
	)
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete closes and forgets a session.
func (m *Manager) Delete(id string) error {
	if !m.remove(id) {
		return ErrNotFound
	}
	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run evicts idle sessions until ctx is done, then closes every session.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.IdleTTL / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case now := <-ticker.C:
			m.EvictIdle(now)
		}
	}
}

// EvictIdle closes sessions not used since IdleTTL before now. Sessions with
// an attached stream are never idle.
func (m *Manager) EvictIdle(now time.Time) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	var idle []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen()) >= m.cfg.IdleTTL && !s.watched() {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, id := range idle {
		if m.remove(id) {
			n++
			m.lg.Debug("Session evicted", zap.String("session", id))
		}
	}
	if n > 0 {
		m.evicted.Add(context.Background(), int64(n))
	}
	return n
}

// Close closes every session and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		m.active.Add(context.Background(), -int64(len(sessions)))
	}
}

func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return ErrTooManySessions
	}
	return nil
}

func (m *Manager) remove(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	m.active.Add(context.Background(), -1)
	return true
}
