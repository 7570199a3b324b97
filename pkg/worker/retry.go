package worker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryConfig controls the delay between detector attempts.
type RetryConfig struct {
	// BaseDelay is doubled per attempt.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps the delay.
	// Default: 5s
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseDelay: time.Second,
		MaxDelay:  5 * time.Second,
	}
}

// Delay returns the wait after the given 1-based failed attempt:
// min(BaseDelay * 2^attempt, MaxDelay).
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if c.BaseDelay <= 0 {
		return 0
	}
	// Clamp the shift so the multiplication cannot overflow.
	if attempt > 30 {
		attempt = 30
	}
	backoff := c.BaseDelay * (1 << attempt)
	if c.MaxDelay > 0 && (backoff > c.MaxDelay || backoff <= 0) {
		backoff = c.MaxDelay
	}
	return backoff
}

// Sleeper waits between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// ClockSleeper sleeps on clock and returns early with the context error.
func ClockSleeper(clock clockwork.Clock) Sleeper {
	return SleeperFunc(func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(d):
			return nil
		}
	})
}
