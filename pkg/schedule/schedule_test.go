package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(day, hour, minute int) time.Time {
	return time.Date(2024, 1, day, hour, minute, 0, 0, time.UTC)
}

func TestNext(t *testing.T) {
	tests := []struct {
		name  string
		sched Schedule
		from  time.Time
		want  time.Time
	}{
		{"every", Every(time.Hour), utc(1, 12, 0), utc(1, 13, 0)},
		{"daily later today", Daily(9, 30), utc(1, 8, 0), utc(1, 9, 30)},
		{"daily tomorrow", Daily(9, 30), utc(1, 10, 0), utc(2, 9, 30)},
		{"cron", MustCron("0 9 * * *"), utc(1, 8, 0), utc(1, 9, 0)},
		{"cron skips weekend", MustCron("30 14 * * 1-5"), utc(6, 0, 0), utc(8, 14, 30)},
		{"descriptor", MustCron("@hourly"), utc(1, 8, 15), utc(1, 9, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(tt.sched.Next(tt.from)), "got %s", tt.sched.Next(tt.from))
		})
	}
}

func TestEvery_Chains(t *testing.T) {
	s := Every(15 * time.Minute)
	at := utc(1, 0, 0)
	for range 4 {
		at = s.Next(at)
	}
	assert.Equal(t, utc(1, 1, 0), at)
}

func TestCron_TimeZone(t *testing.T) {
	s, err := Cron("CRON_TZ=America/Edmonton 0 5 * * *")
	require.NoError(t, err)

	// 05:00 MST is 12:00 UTC in January.
	assert.True(t, utc(1, 12, 0).Equal(s.Next(utc(1, 0, 0))))
}

func TestCron_InvalidExpression(t *testing.T) {
	_, err := Cron("invalid cron")
	assert.ErrorContains(t, err, `invalid cron expression "invalid cron"`)

	assert.Panics(t, func() {
		MustCron("61 * * * *")
	})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoop_RunsAtEachTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ran := make(chan time.Time, 3)

	done := make(chan error, 1)
	go func() {
		done <- Loop(context.Background(), clock, Every(time.Minute), func(context.Context) error {
			ran <- clock.Now()
			return nil
		}, MaxRuns(3), WithLogger(quietLogger()))
	}()

	for i := 1; i <= 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Minute)
		at := <-ran
		assert.Equal(t, time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC), at)
	}
	assert.NoError(t, <-done)
}

func TestLoop_ErrorsDoNotStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan struct{}, 2)

	done := make(chan error, 1)
	go func() {
		done <- Loop(context.Background(), clock, Every(time.Second), func(context.Context) error {
			calls <- struct{}{}
			return errors.New("manifest missing")
		}, MaxRuns(2), WithLogger(quietLogger()))
	}()

	for range 2 {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
		<-calls
	}
	assert.NoError(t, <-done)
}

func TestLoop_StopsOnCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Loop(ctx, clock, Every(time.Hour), func(context.Context) error {
			t.Error("fn should not run")
			return nil
		}, WithLogger(quietLogger()))
	}()

	clock.BlockUntil(1)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
