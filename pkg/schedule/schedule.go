package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next fire time after from.
type Schedule interface {
	Next(from time.Time) time.Time
}

// Func adapts a plain function to Schedule.
type Func func(from time.Time) time.Time

// Next calls f.
func (f Func) Next(from time.Time) time.Time { return f(from) }

// Every fires d after the previous tick.
func Every(d time.Duration) Schedule {
	return Func(func(from time.Time) time.Time { return from.Add(d) })
}

// Daily fires once a day at hour:minute UTC.
func Daily(hour, minute int) Schedule {
	return MustCron(fmt.Sprintf("CRON_TZ=UTC %d %d * * *", minute, hour))
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cron parses a five-field expression or a descriptor such as @hourly. A
// CRON_TZ= prefix selects the time zone.
func Cron(expr string) (Schedule, error) {
	spec, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("badc: invalid cron expression %q: %w", expr, err)
	}
	return Func(spec.Next), nil
}

// MustCron is like Cron but panics on an invalid expression.
func MustCron(expr string) Schedule {
	s, err := Cron(expr)
	if err != nil {
		panic(err)
	}
	return s
}
