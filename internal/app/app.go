// Package app wires the storefront edge server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AikioCorp/buy-web-sub002/internal/backend"
	"github.com/AikioCorp/buy-web-sub002/internal/directory"
	"github.com/AikioCorp/buy-web-sub002/internal/handler"
	"github.com/AikioCorp/buy-web-sub002/internal/session"
	"github.com/AikioCorp/buy-web-sub002/pkg/health"
	"github.com/AikioCorp/buy-web-sub002/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the storefront.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("backend", cfg.Backend.BaseURL),
	)

	client, err := backend.NewClient(cfg.Backend,
		backend.WithTelemetry(m.TracerProvider(), m.MeterProvider()),
		backend.WithLogger(lg.Named("backend")),
	)
	if err != nil {
		return errors.Wrap(err, "create backend client")
	}

	// Directory cache, optionally shared through Redis.
	cacheOpts := []directory.Option{directory.WithLogger(lg.Named("directory"))}
	if cfg.Directory.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Directory.RedisAddr})
		defer func() { _ = rdb.Close() }()
		cacheOpts = append(cacheOpts, directory.WithRedis(rdb))
	}
	dirs := directory.NewCache(client, cfg.Directory.TTL, cacheOpts...)

	// Warm the cache; a cold backend is not fatal, sessions retry on mount.
	if _, err := dirs.Get(ctx); err != nil {
		lg.Warn("Directory warmup failed", zap.Error(err))
	}

	sessions := session.NewManager(ctx, cfg.SessionManagerConfig(), client, dirs,
		session.WithLogger(lg.Named("session")),
		session.WithMeter(m.MeterProvider().Meter("storefront")),
	)
	go func() {
		if err := sessions.Run(ctx); err != nil {
			lg.Error("Session sweeper stopped", zap.Error(err))
		}
	}()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("backend", 5*time.Second, health.PingCheck(client))
	healthSvc.AddReadinessCheck("directory_cache", 2*time.Second, health.PingCheck(dirs))
	healthSvc.AddLivenessCheck("goroutines", time.Second,
		health.GoroutineCountCheck(10000+4*cfg.Session.MaxSessions))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Mux: health endpoints + session API on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(handler.Config{ImageBaseURL: cfg.ImageBaseURL}, sessions).Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", httpmiddleware.HeaderRequestID},
				ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				RPS:   cfg.RateLimit.RPS,
				Burst: cfg.RateLimit.Burst,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		// Streams are hijacked and not tracked by Shutdown; closing the
		// sessions ends them.
		sessions.Close()
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
