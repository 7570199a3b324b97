package worker

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, time.Second, cfg.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
}

func TestRetryConfig_Delay(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 2*time.Second, cfg.Delay(1))
	assert.Equal(t, 4*time.Second, cfg.Delay(2))
	assert.Equal(t, 5*time.Second, cfg.Delay(3))
	assert.Equal(t, 5*time.Second, cfg.Delay(10))
	assert.Equal(t, 5*time.Second, cfg.Delay(500))
	assert.Equal(t, time.Second, cfg.Delay(0))
}

func TestRetryConfig_DelayZeroBase(t *testing.T) {
	assert.Equal(t, time.Duration(0), RetryConfig{}.Delay(3))
}

func TestClockSleeper_WaitsOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sleeper := ClockSleeper(clock)

	done := make(chan error, 1)
	go func() {
		done <- sleeper.Sleep(context.Background(), 4*time.Second)
	}()

	clock.BlockUntil(1)
	clock.Advance(4 * time.Second)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sleeper did not wake after clock advanced")
	}
}

func TestClockSleeper_RespectsContextCancellation(t *testing.T) {
	sleeper := ClockSleeper(clockwork.NewFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sleeper.Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleeper.Sleep(ctx, 0), context.Canceled)
}
