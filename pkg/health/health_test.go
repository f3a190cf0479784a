package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func get(t *testing.T, fn http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	fn(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	t.Run("NoChecks", func(t *testing.T) {
		w := get(t, New().LiveEndpoint)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})
	t.Run("FailingPastThreshold", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("backend", time.Second, failing("connection refused"))
		runN(h.liveness[0], 3)

		w := get(t, h.LiveEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"unhealthy","checks":{"backend":"connection refused"}}`, w.Body.String())
	})
	t.Run("BelowThreshold", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("flaky", time.Second, failing("temporary"))
		runN(h.liveness[0], 2)

		assert.Equal(t, http.StatusOK, get(t, h.LiveEndpoint).Code)
	})
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("NotMarkedReady", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("backend", time.Second, passing)

		w := get(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())
	})
	t.Run("ReadyAndPassing", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("backend", time.Second, passing)
		h.SetReady(true)

		assert.Equal(t, http.StatusOK, get(t, h.ReadyEndpoint).Code)
		assert.True(t, h.IsReady())
	})
	t.Run("OneFailing", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("backend", time.Second, passing)
		h.AddReadinessCheck("redis", time.Second, failing("dial tcp: refused"), WithThresholds(1, 1))
		h.SetReady(true)
		runN(h.readiness[1], 1)

		w := get(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"unhealthy","checks":{"redis":"dial tcp: refused"}}`, w.Body.String())
		assert.False(t, h.IsReady())
	})
	t.Run("Draining", func(t *testing.T) {
		h := New()
		h.SetReady(true)
		h.SetReady(false)
		assert.Equal(t, http.StatusServiceUnavailable, get(t, h.ReadyEndpoint).Code)
	})
}

func TestVerboseEndpoints(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, passing)
	h.AddReadinessCheck("backend", time.Second, passing)
	h.AddReadinessCheck("directory_cache", time.Second, failing("redis: refused"), WithThresholds(1, 1))
	h.SetReady(true)

	verbose := func(fn http.HandlerFunc) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		fn(w, httptest.NewRequest(http.MethodGet, "/?verbose", nil))
		return w
	}

	w := verbose(h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"goroutines":"ok"}}`, w.Body.String())

	w = verbose(h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"backend":"ok","directory_cache":"ok"}}`, w.Body.String())

	runN(h.readiness[1], 1)
	w = verbose(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"backend":"ok","directory_cache":"redis: refused"}}`, w.Body.String())

	// Without verbose only failures are listed.
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"directory_cache":"redis: refused"}}`, get(t, h.ReadyEndpoint).Body.String())
}

func TestCheckRecovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	h := New()
	h.AddReadinessCheck("backend", time.Second, func(context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}, WithThresholds(2, 2))
	h.SetReady(true)
	c := h.readiness[0]

	runN(c, 2)
	assert.False(t, h.IsReady())

	fail.Store(false)
	runN(c, 1)
	assert.False(t, h.IsReady(), "one success is below the threshold")
	runN(c, 1)
	assert.True(t, h.IsReady())
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithThresholds(1, 1))
	runN(h.readiness[0], 1)

	msg, failed := h.readiness[0].failure()
	assert.True(t, failed)
	assert.Contains(t, msg, "deadline exceeded")
}

func TestStartAndStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.AddLivenessCheck("count", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	h.Start(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
	time.Sleep(30 * time.Millisecond)
	n := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("a", time.Second, passing)
	h.AddReadinessCheck("b", time.Second, failing("x"))
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				get(t, h.LiveEndpoint)
				get(t, h.ReadyEndpoint)
				h.IsReady()
			}
		}()
	}
	wg.Wait()
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckers(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))

	pingErr := errors.New("no route")
	assert.ErrorIs(t, PingCheck(pingerFunc(func(context.Context) error { return pingErr }))(context.Background()), pingErr)
	assert.NoError(t, PingCheck(pingerFunc(func(context.Context) error { return nil }))(context.Background()))
}
