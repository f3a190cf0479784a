package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/AikioCorp/buy-web-sub002/internal/backend"
	"github.com/AikioCorp/buy-web-sub002/internal/directory"
	"github.com/AikioCorp/buy-web-sub002/internal/feed"
	"github.com/AikioCorp/buy-web-sub002/internal/session"
	"github.com/AikioCorp/buy-web-sub002/internal/suggest"
)

// Config holds the complete storefront configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"Storefront listen address"`
	ImageBaseURL string `default:"" usage:"Base URL for relative image paths (e.g. https://cdn.example.com/media)" flag:"image-base-url"`
	Backend      backend.Config
	Suggest      suggest.Config
	Feed         feed.Config
	Session      SessionConfig
	Directory    directory.Config
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	IdleTTL     time.Duration `default:"30m" usage:"Idle time before an unwatched session is evicted" flag:"session-idle-ttl"`
	MaxSessions int           `default:"10000" usage:"Maximum concurrent sessions" flag:"session-max"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	RPS   float64 `default:"20" usage:"Sustained requests per second per client" flag:"ratelimit-rps"`
	Burst int     `default:"60" usage:"Request burst per client" flag:"ratelimit-burst"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// SessionManagerConfig assembles the per-session settings.
func (c *Config) SessionManagerConfig() session.Config {
	return session.Config{
		IdleTTL:     c.Session.IdleTTL,
		MaxSessions: c.Session.MaxSessions,
		Suggest:     c.Suggest,
		Feed:        c.Feed,
	}
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend URL is required: set STOREFRONT_BACKEND_BASEURL or BACKEND_URL")
	}
	if c.Suggest.MinChars < 0 {
		return errors.New("suggest min chars must not be negative")
	}
	if c.Feed.PageSize < 0 {
		return errors.New("feed page size must not be negative")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) such as PORT, BACKEND_URL and REDIS_ADDR onto the
// STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if v := os.Getenv("BACKEND_URL"); v != "" && c.Backend.BaseURL == "http://localhost:8081" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" && c.Directory.RedisAddr == "" {
		c.Directory.RedisAddr = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
