// Package badc schedules bioacoustic detector runs over chunked recordings.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages and provides Infer, which runs a chunk
// manifest end to end: resume filtering, worker planning, scheduling,
// telemetry and the run summary.
//
// Basic usage:
//
//	report, err := badc.Infer(ctx, badc.InferOptions{
//	    Manifest:  "manifests/site4.csv",
//	    OutputDir: "artifacts/infer",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(report.Summary.Succeeded(), "chunks done")
package badc

import (
	"context"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/gpu"
	"github.com/jdziat/badc/pkg/manifest"
	"github.com/jdziat/badc/pkg/probe"
	"github.com/jdziat/badc/pkg/resume"
	"github.com/jdziat/badc/pkg/scheduler"
	"github.com/jdziat/badc/pkg/security"
	"github.com/jdziat/badc/pkg/storage"
	"github.com/jdziat/badc/pkg/telemetry"
	"github.com/jdziat/badc/pkg/worker"
)

// Type aliases for the public surface.
type (
	// InferenceJob is one chunk to run through the detector.
	InferenceJob = core.InferenceJob

	// WorkerSlot is one execution lane, bound to a GPU or to the CPU.
	WorkerSlot = core.WorkerSlot

	// GPUWorker identifies the device behind a GPU slot.
	GPUWorker = core.GPUWorker

	// JobResult is returned by a successful job.
	JobResult = core.JobResult

	// JobOutcome is the final state of one chunk in a run.
	JobOutcome = core.JobOutcome

	// RunSummary is the end-of-run document used for resuming.
	RunSummary = core.RunSummary

	// JobExecutionError is returned when a job exhausts its retries.
	JobExecutionError = core.JobExecutionError

	// ChunkProbeResult is the recommendation of a chunk duration probe.
	ChunkProbeResult = core.ChunkProbeResult

	// Event is the interface for all scheduler events.
	Event = core.Event

	// Scheduler drains jobs across worker slots.
	Scheduler = scheduler.Scheduler

	// Runner executes a single job with retries.
	Runner = worker.Runner

	// RunnerOption configures a Runner.
	RunnerOption = worker.RunnerOption

	// Detector invokes the external classification program.
	Detector = worker.Detector

	// DetectorFunc adapts a function to Detector.
	DetectorFunc = worker.DetectorFunc

	// Inventory reports GPUs and their live metrics.
	Inventory = gpu.Inventory

	// ResumeFilter removes jobs a previous run completed.
	ResumeFilter = resume.Filter

	// Ledger records runs in a database.
	Ledger = storage.Ledger

	// ProbeRequest describes one chunk duration probe.
	ProbeRequest = probe.Request
)

// Telemetry statuses
const (
	StatusStart   = core.StatusStart
	StatusSuccess = core.StatusSuccess
	StatusFailure = core.StatusFailure
)

// Limits
const (
	MaxRetries            = security.MaxRetries
	MaxWorkers            = security.MaxWorkers
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// Error variables
var (
	ErrInvalidManifest      = core.ErrInvalidManifest
	ErrMissingColumn        = core.ErrMissingColumn
	ErrNonPositiveDuration  = core.ErrNonPositiveDuration
	ErrNonPositiveTolerance = core.ErrNonPositiveTolerance
	ErrRunnerConflict       = core.ErrRunnerConflict
	ErrInvalidSummary       = core.ErrInvalidSummary
	ErrLedgerUnavailable    = core.ErrLedgerUnavailable
	ErrEmptyWorkerPool      = core.ErrEmptyWorkerPool
	ErrSchedulerStopped     = core.ErrSchedulerStopped
)

// LoadManifest reads a chunk manifest CSV.
func LoadManifest(path string) ([]InferenceJob, error) {
	return manifest.Load(path)
}

// LoadSummary reads a run summary written by a previous run.
func LoadSummary(path string) (*RunSummary, error) {
	return telemetry.LoadSummary(path)
}

// NewScheduler creates a scheduler for runner.
func NewScheduler(runner scheduler.JobRunner, opts ...scheduler.Option) *Scheduler {
	return scheduler.New(runner, opts...)
}

// NewRunner creates a job runner. A nil detector selects stub mode.
func NewRunner(detector Detector, recorder worker.Recorder, opts ...RunnerOption) *Runner {
	return worker.NewRunner(detector, recorder, opts...)
}

// OpenLedger opens or creates a run ledger.
func OpenLedger(dsn string, opts ...storage.LedgerOption) (*Ledger, error) {
	return storage.Open(dsn, opts...)
}

// Probe estimates the longest chunk duration that fits the GPU budget.
func Probe(ctx context.Context, req ProbeRequest, opts ...probe.ProberOption) (*ChunkProbeResult, error) {
	return probe.NewProber(opts...).Probe(ctx, req)
}

// DetectGPUs queries nvidia-smi for the local GPU inventory.
func DetectGPUs(ctx context.Context) gpu.Detection {
	return gpu.NewNvidiaSMI("").Detect(ctx)
}
