package core

import "time"

// Event is the interface for all scheduler events.
type Event interface {
	eventMarker()
}

// JobStarted is emitted when a worker picks a job off the queue.
type JobStarted struct {
	Job       InferenceJob
	Slot      WorkerSlot
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobSucceeded is emitted when a job completes successfully.
type JobSucceeded struct {
	Job       InferenceJob
	Slot      WorkerSlot
	Result    JobResult
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobSucceeded) eventMarker() {}

// JobFailed is emitted when a job fails permanently.
type JobFailed struct {
	Job       InferenceJob
	Slot      WorkerSlot
	Attempts  int
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobRetrying is emitted when an attempt fails and another one is scheduled.
type JobRetrying struct {
	Job       InferenceJob
	Slot      WorkerSlot
	Attempt   int
	Error     error
	Delay     time.Duration
	Timestamp time.Time
}

func (*JobRetrying) eventMarker() {}

// JobSkipped is emitted for jobs drained without running after the scheduler stopped.
type JobSkipped struct {
	Job       InferenceJob
	Reason    string
	Timestamp time.Time
}

func (*JobSkipped) eventMarker() {}
