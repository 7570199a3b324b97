package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/security"
	"github.com/jdziat/badc/pkg/telemetry"
)

// Recorder receives telemetry records.
type Recorder interface {
	Append(v any) error
}

// Runner executes inference jobs on worker slots.
type Runner struct {
	detector Detector
	recorder Recorder
	config   RunnerConfig
	logger   *slog.Logger
}

// NewRunner creates a runner. A nil detector selects stub mode, which writes a
// placeholder payload and always succeeds on the first attempt.
func NewRunner(detector Detector, recorder Recorder, opts ...RunnerOption) *Runner {
	config := RunnerConfig{
		OutputDir:  "artifacts/infer",
		MaxRetries: 2,
		Retry:      DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt.ApplyRunner(&config)
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Sleeper == nil {
		config.Sleeper = ClockSleeper(config.Clock)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		detector: detector,
		recorder: recorder,
		config:   config,
		logger:   logger,
	}
}

// Config returns the effective configuration.
func (r *Runner) Config() RunnerConfig {
	return r.config
}

// OutputPath returns where the payload for job is written.
func (r *Runner) OutputPath(job core.InferenceJob) string {
	return filepath.Join(r.config.OutputDir, job.RecordingID, job.ChunkID+".json")
}

// RawDir returns the directory the detector writes raw results for job into.
func (r *Runner) RawDir(job core.InferenceJob) string {
	return filepath.Join(r.config.OutputDir, job.RecordingID, "_raw", job.ChunkID)
}

// Run executes job on slot until it succeeds or exhausts its retries. The
// terminal error is a *core.JobExecutionError.
func (r *Runner) Run(ctx context.Context, job core.InferenceJob, slot core.WorkerSlot) (core.JobResult, error) {
	outputPath := r.OutputPath(job)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return core.JobResult{}, &core.JobExecutionError{ChunkID: job.ChunkID, Err: err}
	}

	if r.detector == nil {
		return r.runStub(job, slot, outputPath)
	}

	rawDir := r.RawDir(job)
	attempts := 0
	for attempts <= r.config.MaxRetries {
		attempts++
		started := r.config.Clock.Now()
		if err := r.record(telemetry.NewRecord(job, slot, core.StatusStart, started, &core.StartDetails{Attempt: attempts})); err != nil {
			return core.JobResult{}, &core.JobExecutionError{ChunkID: job.ChunkID, Attempts: attempts, Err: err}
		}
		r.logger.Debug("detector attempt", "chunk_id", job.ChunkID, "worker", slot.Label, "attempt", attempts)

		if err := os.MkdirAll(rawDir, 0o755); err != nil {
			return core.JobResult{}, r.fail(job, slot, started, attempts, -1, nil, err)
		}

		snapshot := &core.MetricsSnapshot{Before: r.sample(ctx, slot)}
		res, invokeErr := r.detector.Invoke(ctx, Invocation{Job: job, Slot: slot, Attempt: attempts, OutputDir: rawDir})
		snapshot.After = r.sample(ctx, slot)
		if snapshot.Empty() {
			snapshot = nil
		}

		if invokeErr != nil {
			r.recordFailure(job, slot, started, &core.FailureDetails{
				Attempt:  attempts,
				ExitCode: -1,
				Error:    security.SanitizeErrorMessage(invokeErr.Error()),
				Metrics:  snapshot,
			})
			r.logger.Error("detector could not be started", "chunk_id", job.ChunkID, "error", invokeErr)
			return core.JobResult{}, &core.JobExecutionError{ChunkID: job.ChunkID, Attempts: attempts, Err: invokeErr}
		}

		if res.ExitCode == 0 {
			if err := r.writeResult(job, rawDir, outputPath, attempts, snapshot); err != nil {
				return core.JobResult{}, r.fail(job, slot, started, attempts, res.ExitCode, snapshot, err)
			}
			rec := telemetry.NewRecord(job, slot, core.StatusSuccess, started, &core.SuccessDetails{
				Attempt: attempts,
				Output:  outputPath,
				Stdout:  security.Tail(res.Stdout, security.OutputTailLength),
				Metrics: snapshot,
			})
			rec.Finish(started, r.config.Clock.Now())
			if err := r.record(rec); err != nil {
				return core.JobResult{}, &core.JobExecutionError{ChunkID: job.ChunkID, Attempts: attempts, Err: err}
			}
			return core.JobResult{OutputPath: outputPath, Attempts: attempts, Retries: attempts - 1}, nil
		}

		exitErr := &core.ExitError{Code: res.ExitCode, Stderr: security.Tail(res.Stderr, security.OutputTailLength)}
		r.recordFailure(job, slot, started, &core.FailureDetails{
			Attempt:  attempts,
			ExitCode: res.ExitCode,
			Stderr:   exitErr.Stderr,
			Metrics:  snapshot,
		})

		if attempts > r.config.MaxRetries {
			r.logger.Error("detector failed, retries exhausted",
				"chunk_id", job.ChunkID, "worker", slot.Label, "attempts", attempts, "exit_code", res.ExitCode)
			return core.JobResult{}, &core.JobExecutionError{ChunkID: job.ChunkID, Attempts: attempts, Err: exitErr}
		}

		delay := r.config.Retry.Delay(attempts)
		r.logger.Warn("detector failed, retrying",
			"chunk_id", job.ChunkID, "worker", slot.Label, "attempt", attempts, "exit_code", res.ExitCode, "delay", delay)
		if r.config.OnRetry != nil {
			r.config.OnRetry(ctx, job, slot, attempts, exitErr, delay)
		}
		if err := r.config.Sleeper.Sleep(ctx, delay); err != nil {
			return core.JobResult{}, &core.JobExecutionError{ChunkID: job.ChunkID, Attempts: attempts, Err: err}
		}
	}
	// Unreachable: the loop returns on the final attempt.
	return core.JobResult{}, &core.JobExecutionError{ChunkID: job.ChunkID, Attempts: attempts, Err: fmt.Errorf("no attempts made")}
}

func (r *Runner) runStub(job core.InferenceJob, slot core.WorkerSlot, outputPath string) (core.JobResult, error) {
	started := r.config.Clock.Now()
	if err := r.record(telemetry.NewRecord(job, slot, core.StatusStart, started, &core.StartDetails{Attempt: 1})); err != nil {
		return core.JobResult{}, &core.JobExecutionError{ChunkID: job.ChunkID, Attempts: 1, Err: err}
	}

	payload := NewPayload(job, "stub", PayloadStub)
	payload.Attempt = 1
	payload.ModelVersion = r.config.ModelVersion
	payload.DatasetRoot = r.config.DatasetRoot
	if err := WritePayload(outputPath, payload); err != nil {
		return core.JobResult{}, r.fail(job, slot, started, 1, -1, nil, err)
	}

	rec := telemetry.NewRecord(job, slot, core.StatusSuccess, started, &core.SuccessDetails{
		Attempt: 1,
		Output:  outputPath,
		Note:    "stub runner",
	})
	rec.Finish(started, r.config.Clock.Now())
	if err := r.record(rec); err != nil {
		return core.JobResult{}, &core.JobExecutionError{ChunkID: job.ChunkID, Attempts: 1, Err: err}
	}
	return core.JobResult{OutputPath: outputPath, Attempts: 1}, nil
}

func (r *Runner) writeResult(job core.InferenceJob, rawDir, outputPath string, attempt int, snapshot *core.MetricsSnapshot) error {
	detections, status, err := ParseLabels(filepath.Join(rawDir, LabelsFilename), job.ChunkPath)
	if err != nil {
		return fmt.Errorf("parse detector output: %w", err)
	}

	payload := NewPayload(job, r.detectorName(), status)
	payload.Detections = detections
	payload.Attempt = attempt
	payload.GPUMetrics = snapshot
	payload.ModelVersion = r.config.ModelVersion
	payload.DatasetRoot = r.config.DatasetRoot
	if status != PayloadNoOutput {
		payload.HawkEarsOutput = rawDir
	}
	return WritePayload(outputPath, payload)
}

func (r *Runner) detectorName() string {
	if named, ok := r.detector.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "custom"
}

func (r *Runner) sample(ctx context.Context, slot core.WorkerSlot) *core.GPUMetrics {
	if !slot.IsGPU() || r.config.Inventory == nil {
		return nil
	}
	m, ok := r.config.Inventory.Metrics(ctx, slot.GPU.Index)
	if !ok {
		return nil
	}
	return &m
}

// fail records a terminal failure that is not a detector exit code, such as
// unreadable detector output, and returns the error for the scheduler.
func (r *Runner) fail(job core.InferenceJob, slot core.WorkerSlot, started time.Time, attempt, exitCode int, snapshot *core.MetricsSnapshot, err error) error {
	r.recordFailure(job, slot, started, &core.FailureDetails{
		Attempt:  attempt,
		ExitCode: exitCode,
		Error:    security.SanitizeErrorMessage(err.Error()),
		Metrics:  snapshot,
	})
	r.logger.Error("job failed", "chunk_id", job.ChunkID, "worker", slot.Label, "attempt", attempt, "error", err)
	return &core.JobExecutionError{ChunkID: job.ChunkID, Attempts: attempt, Err: err}
}

func (r *Runner) recordFailure(job core.InferenceJob, slot core.WorkerSlot, started time.Time, details *core.FailureDetails) {
	rec := telemetry.NewRecord(job, slot, core.StatusFailure, started, details)
	rec.Finish(started, r.config.Clock.Now())
	if err := r.record(rec); err != nil {
		r.logger.Error("failed to record failure telemetry", "chunk_id", job.ChunkID, "error", err)
	}
}

func (r *Runner) record(rec telemetry.Record) error {
	if r.recorder == nil {
		return nil
	}
	if err := r.recorder.Append(rec); err != nil {
		return fmt.Errorf("record telemetry: %w", err)
	}
	return nil
}
