package backend

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls RetryWithBackoff.
type RetryConfig struct {
	MaxAttempts  int           `default:"3" usage:"Directory load attempts" flag:"backend-retry-attempts"`
	InitialDelay time.Duration `default:"500ms" usage:"Delay before the first retry" flag:"backend-retry-delay"`
	MaxDelay     time.Duration `default:"5s" usage:"Maximum delay between retries" flag:"backend-retry-max-delay"`
	Multiplier   float64       `default:"2" usage:"Backoff multiplier" flag:"backend-retry-multiplier"`
}

// DefaultRetryConfig returns 3 attempts with 500ms, 1s backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryWithBackoff retries fn on transient errors with exponential backoff
// and ±25% jitter. It returns the last error when all attempts fail.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}

	var lastErr error
	delay := cfg.InitialDelay
	for attempt := range cfg.MaxAttempts {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) || attempt == cfg.MaxAttempts-1 {
			break
		}

		wait := applyJitter(delay)
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}

func applyJitter(d time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * factor)
}
