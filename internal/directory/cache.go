// Package directory caches the shop and category lists every storefront
// session loads when it mounts.
//
// Lookups go memory first, then Redis when configured, then the backend.
// Concurrent misses share one backend load.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
)

const (
	redisKey           = "storefront:directory:v1"
	defaultLoadTimeout = 10 * time.Second
)

// Loader loads the directory from the backend.
type Loader interface {
	LoadDirectory(ctx context.Context) (catalog.StaticDirectory, error)
}

// Config controls caching.
type Config struct {
	TTL       time.Duration `default:"5m" usage:"Directory cache lifetime" flag:"directory-ttl"`
	RedisAddr string        `default:"" usage:"Redis address for a shared directory cache (empty disables)" flag:"directory-redis"`
}

type entry struct {
	dir     catalog.StaticDirectory
	expires time.Time
}

// Cache is a read-through directory cache. Safe for concurrent use.
type Cache struct {
	loader Loader
	ttl    time.Duration
	rdb    *redis.Client
	lg     *zap.Logger
	now    func() time.Time

	// loadTimeout bounds a shared load, which runs detached from callers.
	loadTimeout time.Duration

	group singleflight.Group

	mu  sync.RWMutex
	cur *entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithRedis enables the shared Redis layer.
func WithRedis(rdb *redis.Client) Option {
	return func(c *Cache) { c.rdb = rdb }
}

// WithLogger sets the cache logger.
func WithLogger(lg *zap.Logger) Option {
	return func(c *Cache) { c.lg = lg }
}

// WithLoadTimeout bounds a single directory load.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Cache) { c.loadTimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a Cache in front of loader.
func NewCache(loader Loader, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		loader: loader,
		ttl:    ttl,
		lg:     zap.NewNop(),
		now:    time.Now,

		loadTimeout: defaultLoadTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the directory, loading it when the cached copy is missing or
// expired. A caller whose ctx ends stops waiting, but the shared load keeps
// running for the others.
func (c *Cache) Get(ctx context.Context) (catalog.StaticDirectory, error) {
	if dir, ok := c.fresh(); ok {
		return dir, nil
	}

	ch := c.group.DoChan("directory", func() (any, error) {
		if dir, ok := c.fresh(); ok {
			return dir, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		dir, err := c.load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.store(dir)
		return dir, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return catalog.StaticDirectory{}, res.Err
		}
		return res.Val.(catalog.StaticDirectory), nil
	case <-ctx.Done():
		return catalog.StaticDirectory{}, ctx.Err()
	}
}

// Invalidate drops the in-memory and shared copies.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()

	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, redisKey).Err(); err != nil {
		return errors.Wrap(err, "delete shared directory")
	}
	return nil
}

// Ping checks the Redis layer, if any.
func (c *Cache) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) fresh() (catalog.StaticDirectory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cur == nil || !c.now().Before(c.cur.expires) {
		return catalog.StaticDirectory{}, false
	}
	return c.cur.dir, true
}

func (c *Cache) store(dir catalog.StaticDirectory) {
	c.mu.Lock()
	c.cur = &entry{dir: dir, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Cache) load(ctx context.Context) (catalog.StaticDirectory, error) {
	if c.rdb != nil {
		dir, ok, err := c.getShared(ctx)
		switch {
		case err != nil:
			// The backend is still authoritative.
			c.lg.Warn("Shared directory cache unavailable", zap.Error(err))
		case ok:
			return dir, nil
		}
	}

	dir, err := c.loader.LoadDirectory(ctx)
	if err != nil {
		return catalog.StaticDirectory{}, errors.Wrap(err, "load directory")
	}

	if c.rdb != nil {
		if err := c.setShared(ctx, dir); err != nil {
			c.lg.Warn("Store shared directory failed", zap.Error(err))
		}
	}
	return dir, nil
}

func (c *Cache) getShared(ctx context.Context) (catalog.StaticDirectory, bool, error) {
	data, err := c.rdb.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return catalog.StaticDirectory{}, false, nil
		}
		return catalog.StaticDirectory{}, false, errors.Wrap(err, "get shared directory")
	}
	dir, err := Decode(data)
	if err != nil {
		return catalog.StaticDirectory{}, false, errors.Wrap(err, "decode shared directory")
	}
	return dir, true, nil
}

func (c *Cache) setShared(ctx context.Context, dir catalog.StaticDirectory) error {
	if err := c.rdb.Set(ctx, redisKey, Encode(dir), c.ttl).Err(); err != nil {
		return errors.Wrap(err, "set shared directory")
	}
	return nil
}
