package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventsImplementEvent(t *testing.T) {
	job := InferenceJob{ChunkID: "c1", RecordingID: "r1"}
	slot := WorkerSlot{Label: "cpu-0"}

	events := []Event{
		&JobStarted{Job: job, Slot: slot, Timestamp: time.Now()},
		&JobSucceeded{Job: job, Slot: slot, Result: JobResult{Attempts: 1}, Duration: time.Second},
		&JobFailed{Job: job, Slot: slot, Attempts: 2, Error: errors.New("failed")},
		&JobRetrying{Job: job, Slot: slot, Attempt: 1, Delay: 2 * time.Second},
		&JobSkipped{Job: job, Reason: "stopped"},
	}
	for _, e := range events {
		assert.NotNil(t, e)
	}
}

func TestDetailsAttemptNumber(t *testing.T) {
	var d Details = &StartDetails{Attempt: 2}
	assert.Equal(t, 2, d.AttemptNumber())

	d = &SuccessDetails{Attempt: 3}
	assert.Equal(t, 3, d.AttemptNumber())

	d = &FailureDetails{Attempt: 1, ExitCode: 2}
	assert.Equal(t, 1, d.AttemptNumber())
}

func TestMetricsSnapshotLatest(t *testing.T) {
	var nilSnap *MetricsSnapshot
	assert.True(t, nilSnap.Empty())
	assert.Nil(t, nilSnap.Latest())

	before := &GPUMetrics{Index: 0}
	after := &GPUMetrics{Index: 0}
	assert.Same(t, before, (&MetricsSnapshot{Before: before}).Latest())
	assert.Same(t, after, (&MetricsSnapshot{Before: before, After: after}).Latest())
}

func TestRunSummaryCounts(t *testing.T) {
	s := RunSummary{Jobs: map[string]JobOutcome{
		"a": {Status: StatusSuccess},
		"b": {Status: StatusFailure},
		"c": {Status: StatusSuccess},
	}}

	assert.Equal(t, 2, s.Succeeded())
	assert.Equal(t, 1, s.Failed())
}

func TestInferenceJobKey(t *testing.T) {
	job := InferenceJob{ChunkID: "c1", RecordingID: "r1"}
	assert.Equal(t, ChunkKey{RecordingID: "r1", ChunkID: "c1"}, job.Key())
}
