package schedule

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// LoopOption configures Loop.
type LoopOption interface {
	applyLoop(*loopConfig)
}

type loopConfig struct {
	logger  *slog.Logger
	maxRuns int
}

type loopOptionFunc func(*loopConfig)

func (f loopOptionFunc) applyLoop(c *loopConfig) { f(c) }

// WithLogger sets the logger used to report tick failures.
func WithLogger(l *slog.Logger) LoopOption {
	return loopOptionFunc(func(c *loopConfig) {
		c.logger = l
	})
}

// MaxRuns stops the loop after n invocations. Zero means no limit.
func MaxRuns(n int) LoopOption {
	return loopOptionFunc(func(c *loopConfig) {
		c.maxRuns = n
	})
}

// Loop calls fn at every tick of s until ctx is cancelled or the run limit
// is reached. Errors from fn are logged and do not stop the loop. A tick
// that falls due while fn is still running fires as soon as it returns.
func Loop(ctx context.Context, clock clockwork.Clock, s Schedule, fn func(context.Context) error, opts ...LoopOption) error {
	cfg := loopConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt.applyLoop(&cfg)
	}

	for runs := 0; cfg.maxRuns == 0 || runs < cfg.maxRuns; runs++ {
		now := clock.Now()
		next := s.Next(now)
		cfg.logger.Debug("next scheduled run", "at", next)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(next.Sub(now)):
		}

		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cfg.logger.Error("scheduled run failed", "run", runs+1, "error", err)
		}
	}
	return nil
}
