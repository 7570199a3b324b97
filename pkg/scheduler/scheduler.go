package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/security"
)

// JobRunner executes one job on one slot, including its retries.
type JobRunner interface {
	Run(ctx context.Context, job core.InferenceJob, slot core.WorkerSlot) (core.JobResult, error)
}

// RunnerFunc adapts a function to JobRunner.
type RunnerFunc func(ctx context.Context, job core.InferenceJob, slot core.WorkerSlot) (core.JobResult, error)

// Run implements JobRunner.
func (f RunnerFunc) Run(ctx context.Context, job core.InferenceJob, slot core.WorkerSlot) (core.JobResult, error) {
	return f(ctx, job, slot)
}

// Scheduler drains a job list across worker slots.
type Scheduler struct {
	runner      JobRunner
	logger      *slog.Logger
	clock       clockwork.Clock
	eventBuffer int

	mu sync.RWMutex

	// Hooks
	onStart    []func(context.Context, core.InferenceJob, core.WorkerSlot)
	onComplete []func(context.Context, core.InferenceJob, core.WorkerSlot, core.JobResult)
	onFail     []func(context.Context, core.InferenceJob, core.WorkerSlot, error)
	onRetry    []func(context.Context, core.InferenceJob, core.WorkerSlot, int, error)

	// Event stream
	eventSubs []chan core.Event
}

// New creates a scheduler that executes jobs with runner.
func New(runner JobRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:      runner,
		logger:      slog.Default(),
		clock:       clockwork.NewRealClock(),
		eventBuffer: 256,
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

// Result is the aggregate of one scheduler run.
type Result struct {
	Workers map[string]core.WorkerStats
	Jobs    map[string]core.JobOutcome
}

// Summary converts the result into a run summary document.
func (r *Result) Summary(runID, telemetryLog string) *core.RunSummary {
	return &core.RunSummary{
		RunID:        runID,
		TelemetryLog: telemetryLog,
		Workers:      r.Workers,
		Jobs:         r.Jobs,
	}
}

// run holds the state shared by the worker goroutines of one Run call.
type run struct {
	stopped atomic.Bool
	skipped atomic.Int64

	statsMu sync.Mutex
	workers map[string]core.WorkerStats

	jobsMu sync.Mutex
	jobs   map[string]core.JobOutcome

	errMu    sync.Mutex
	firstErr error
}

func (r *run) fail(err error) {
	r.stopped.Store(true)
	r.errMu.Lock()
	if r.firstErr == nil {
		r.firstErr = err
	}
	r.errMu.Unlock()
}

func (r *run) setOutcome(chunkID string, outcome core.JobOutcome) {
	r.jobsMu.Lock()
	r.jobs[chunkID] = outcome
	r.jobsMu.Unlock()
}

func (r *run) updateStats(label string, fn func(*core.WorkerStats)) {
	r.statsMu.Lock()
	stats := r.workers[label]
	fn(&stats)
	r.workers[label] = stats
	r.statsMu.Unlock()
}

// Run executes every job exactly once across slots and returns per-worker
// statistics and one outcome per job. Jobs are dequeued in order; completion
// order is unspecified.
//
// Chunk ids must be unique across jobs; outcomes are keyed by chunk id.
//
// After the first terminal failure no further jobs start. Jobs that never
// started are recorded as failures with zero attempts. The returned Result is
// complete even when the error is non-nil; the error is the first failure.
func (s *Scheduler) Run(ctx context.Context, jobs []core.InferenceJob, slots []core.WorkerSlot) (*Result, error) {
	if len(slots) == 0 {
		return nil, core.ErrEmptyWorkerPool
	}
	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if _, ok := seen[job.ChunkID]; ok {
			return nil, fmt.Errorf("%w: %q", core.ErrDuplicateChunkID, job.ChunkID)
		}
		seen[job.ChunkID] = struct{}{}
	}

	state := &run{
		workers: make(map[string]core.WorkerStats, len(slots)),
		jobs:    make(map[string]core.JobOutcome, len(jobs)),
	}
	for _, slot := range slots {
		state.workers[slot.Label] = core.WorkerStats{}
	}

	queue := make(chan core.InferenceJob, len(jobs))
	for _, job := range jobs {
		queue <- job
	}
	close(queue)

	s.logger.Info("scheduler started", "jobs", len(jobs), "workers", len(slots))

	var g errgroup.Group
	for _, slot := range slots {
		g.Go(func() error {
			return s.workerLoop(ctx, slot, queue, state)
		})
	}
	waitErr := g.Wait()

	result := &Result{Workers: state.workers, Jobs: state.jobs}
	err := state.firstErr
	if err == nil {
		err = waitErr
	}
	if err == nil && state.skipped.Load() > 0 {
		err = ctx.Err()
	}
	if err != nil {
		s.logger.Error("scheduler finished with errors", "jobs", len(jobs), "error", err)
		return result, err
	}
	s.logger.Info("scheduler finished", "jobs", len(jobs))
	return result, nil
}

func (s *Scheduler) workerLoop(ctx context.Context, slot core.WorkerSlot, queue <-chan core.InferenceJob, state *run) error {
	var firstErr error
	for job := range queue {
		if state.stopped.Load() || ctx.Err() != nil {
			s.skip(ctx, job, state)
			continue
		}
		if err := s.processJob(ctx, slot, job, state); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) skip(ctx context.Context, job core.InferenceJob, state *run) {
	reason := core.ErrSchedulerStopped.Error()
	if err := ctx.Err(); err != nil && !state.stopped.Load() {
		reason = err.Error()
	}
	state.skipped.Add(1)
	state.setOutcome(job.ChunkID, core.JobOutcome{
		Status:      core.StatusFailure,
		RecordingID: job.RecordingID,
		Error:       "not started: " + reason,
	})
	s.Emit(&core.JobSkipped{Job: job, Reason: reason, Timestamp: s.clock.Now()})
}

func (s *Scheduler) processJob(ctx context.Context, slot core.WorkerSlot, job core.InferenceJob, state *run) error {
	startTime := s.clock.Now()

	s.callStartHooks(ctx, job, slot)
	s.Emit(&core.JobStarted{Job: job, Slot: slot, Timestamp: startTime})

	result, err := s.execute(ctx, job, slot)
	if err != nil {
		state.fail(err)

		attempts := 0
		if jobErr, ok := asJobError(err); ok {
			attempts = jobErr.Attempts
		}
		state.updateStats(slot.Label, func(st *core.WorkerStats) {
			st.Failure++
			st.FailedRetries += max(attempts-1, 0)
		})
		state.setOutcome(job.ChunkID, core.JobOutcome{
			Status:      core.StatusFailure,
			RecordingID: job.RecordingID,
			Attempts:    attempts,
			Error:       security.SanitizeErrorMessage(err.Error()),
			Worker:      slot.Label,
		})

		s.logger.Error("job failed", "chunk_id", job.ChunkID, "worker", slot.Label, "attempts", attempts, "error", err)
		s.callFailHooks(ctx, job, slot, err)
		s.Emit(&core.JobFailed{Job: job, Slot: slot, Attempts: attempts, Error: err, Timestamp: s.clock.Now()})
		return err
	}

	state.updateStats(slot.Label, func(st *core.WorkerStats) {
		st.Success++
		st.Retries += result.Retries
	})
	state.setOutcome(job.ChunkID, core.JobOutcome{
		Status:      core.StatusSuccess,
		RecordingID: job.RecordingID,
		Attempts:    result.Attempts,
		Retries:     result.Retries,
		Output:      result.OutputPath,
		Worker:      slot.Label,
	})

	s.callCompleteHooks(ctx, job, slot, result)
	s.Emit(&core.JobSucceeded{
		Job:       job,
		Slot:      slot,
		Result:    result,
		Duration:  s.clock.Since(startTime),
		Timestamp: s.clock.Now(),
	})
	return nil
}

func (s *Scheduler) execute(ctx context.Context, job core.InferenceJob, slot core.WorkerSlot) (result core.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.runner.Run(ctx, job, slot)
}

func asJobError(err error) (*core.JobExecutionError, bool) {
	var jobErr *core.JobExecutionError
	if errors.As(err, &jobErr) {
		return jobErr, true
	}
	return nil, false
}

// NotifyRetry reports a failed attempt that will be retried after delay. It
// matches worker.RetryHook so a runner can feed retries into the event stream.
func (s *Scheduler) NotifyRetry(ctx context.Context, job core.InferenceJob, slot core.WorkerSlot, attempt int, err error, delay time.Duration) {
	s.callRetryHooks(ctx, job, slot, attempt, err)
	s.Emit(&core.JobRetrying{
		Job:       job,
		Slot:      slot,
		Attempt:   attempt,
		Error:     err,
		Delay:     delay,
		Timestamp: s.clock.Now(),
	})
}
