package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/scheduler"
)

// fakeSource hands out a single buffered channel.
type fakeSource struct {
	mu           sync.Mutex
	ch           chan core.Event
	unsubscribed bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan core.Event, 16)}
}

func (f *fakeSource) Events() <-chan core.Event { return f.ch }

func (f *fakeSource) Unsubscribe(<-chan core.Event) {
	f.mu.Lock()
	f.unsubscribed = true
	f.mu.Unlock()
}

func slot(label string) core.WorkerSlot {
	return core.WorkerSlot{Label: label}
}

func TestObserve(t *testing.T) {
	c := NewCollector()
	job := core.InferenceJob{ChunkID: "c1", RecordingID: "r"}

	c.Observe(&core.JobStarted{Job: job, Slot: slot("gpu-0")})
	c.Observe(&core.JobRetrying{Job: job, Slot: slot("gpu-0"), Attempt: 1})
	c.Observe(&core.JobSucceeded{Job: job, Slot: slot("gpu-0"), Duration: 3 * time.Second})
	c.Observe(&core.JobStarted{Job: job, Slot: slot("cpu-1")})
	c.Observe(&core.JobFailed{Job: job, Slot: slot("cpu-1"), Attempts: 3, Error: errors.New("boom")})
	c.Observe(&core.JobSkipped{Job: job, Reason: "stopped"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobs.WithLabelValues("gpu-0", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobs.WithLabelValues("cpu-1", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobs.WithLabelValues("none", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("gpu-0")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.runtime))
	assert.Equal(t, 0, testutil.CollectAndCount(c.inFlight))
}

func TestTrack_GaugeIgnoresDroppedEvents(t *testing.T) {
	c := NewCollector()
	var during []float64
	var mu sync.Mutex
	sched := scheduler.New(scheduler.RunnerFunc(func(_ context.Context, job core.InferenceJob, s core.WorkerSlot) (core.JobResult, error) {
		mu.Lock()
		during = append(during, testutil.ToFloat64(c.inFlight.WithLabelValues(s.Label)))
		mu.Unlock()
		if job.ChunkID == "c3" {
			return core.JobResult{}, &core.JobExecutionError{ChunkID: job.ChunkID, Attempts: 1, Err: errors.New("exit 1")}
		}
		return core.JobResult{Attempts: 1}, nil
	}), scheduler.EventBuffer(1))
	c.Track(sched)
	// Subscribed but never read: every event after the first is dropped.
	events := sched.Events()
	defer sched.Unsubscribe(events)

	jobs := []core.InferenceJob{{ChunkID: "c1"}, {ChunkID: "c2"}, {ChunkID: "c3"}}
	_, err := sched.Run(context.Background(), jobs, []core.WorkerSlot{slot("cpu-0")})
	require.Error(t, err)

	assert.Equal(t, []float64{1, 1, 1}, during)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.inFlight.WithLabelValues("cpu-0")))
}

func TestStart_ConsumesAndDrains(t *testing.T) {
	c := NewCollector()
	src := newFakeSource()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Start(ctx, src)
		close(done)
	}()
	c.WaitReady()

	for i := range 3 {
		src.ch <- &core.JobSucceeded{Slot: slot("cpu-0"), Duration: time.Duration(i) * time.Second}
	}
	cancel()
	<-done

	assert.Equal(t, 3.0, testutil.ToFloat64(c.jobs.WithLabelValues("cpu-0", "success")))
	src.mu.Lock()
	assert.True(t, src.unsubscribed)
	src.mu.Unlock()
}

func TestConsume_ReturnsWhenChannelCloses(t *testing.T) {
	c := NewCollector()
	events := make(chan core.Event, 2)
	events <- &core.JobStarted{Slot: slot("gpu-0")}
	events <- &core.JobFailed{Slot: slot("gpu-0"), Attempts: 1}
	close(events)

	c.Consume(context.Background(), events)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobs.WithLabelValues("gpu-0", "failure")))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.Observe(&core.JobSucceeded{Slot: slot("gpu-1"), Duration: time.Second})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `badc_jobs_total{status="success",worker="gpu-1"} 1`)
	assert.True(t, strings.Contains(body, "badc_job_runtime_seconds_bucket"))
}

func TestServe_StopsOnCancel(t *testing.T) {
	c := NewCollector()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(ctx, "127.0.0.1:0", nil) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
