// Package retry re-runs backend calls whose failures are classified as
// transient. Only idempotent calls should go through it; creates and
// deletes are the caller's responsibility to not double-issue.
package retry

import (
	"context"
	"math/rand"
	"time"

	cherrors "github.com/yoko36/public-AI-APP/internal/errors"
)

// Config bounds one retry loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultConfig returns sensible retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// delayFor returns the pause before retry number attempt (zero-based):
// BaseDelay doubled per prior attempt, capped at MaxDelay, with the upper
// half randomized when jitter is on.
func (c Config) delayFor(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < attempt && d < c.MaxDelay; i++ {
		d *= 2
	}
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.Jitter && d > 1 {
		half := int64(d / 2)
		d = time.Duration(half + rand.Int63n(half+1))
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// attempt budget is spent, or the context ends. The last error is returned.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !cherrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.delayFor(attempt)):
		}
	}
	return lastErr
}
