package scheduler

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// Option configures a Scheduler.
type Option interface {
	apply(*Scheduler)
}

type optionFunc func(*Scheduler)

func (f optionFunc) apply(s *Scheduler) { f(s) }

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *Scheduler) {
		s.logger = l
	})
}

// WithClock sets the clock used for event timestamps and durations.
func WithClock(c clockwork.Clock) Option {
	return optionFunc(func(s *Scheduler) {
		s.clock = c
	})
}

// EventBuffer sets the buffer size of channels returned by Events.
func EventBuffer(n int) Option {
	return optionFunc(func(s *Scheduler) {
		if n > 0 {
			s.eventBuffer = n
		}
	})
}
