package badc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/gpu"
	"github.com/jdziat/badc/pkg/manifest"
	"github.com/jdziat/badc/pkg/resume"
	"github.com/jdziat/badc/pkg/scheduler"
	"github.com/jdziat/badc/pkg/storage"
	"github.com/jdziat/badc/pkg/telemetry"
	"github.com/jdziat/badc/pkg/worker"
)

// InferOptions configures one Infer call. Zero values select the defaults
// noted on each field.
type InferOptions struct {
	// Manifest is the chunk manifest CSV. Required.
	Manifest string
	// OutputDir receives per-chunk payloads. Default: artifacts/infer.
	OutputDir string
	// TelemetryLog overrides the log path derived from TelemetryDir.
	TelemetryLog string
	// TelemetryDir holds default telemetry logs. Default: artifacts/telemetry.
	TelemetryDir string

	// RunnerCmd is a shell-style command line run once per chunk attempt.
	RunnerCmd string
	// UseHawkEars runs analyze.py from HawkEarsRoot with Python.
	UseHawkEars  bool
	HawkEarsRoot string
	Python       string
	// DetectorArgs are appended to every detector invocation.
	DetectorArgs []string
	// Detector, when set, is used instead of RunnerCmd or UseHawkEars.
	Detector worker.Detector

	MaxRetries int
	MaxGPUs    *int
	CPUWorkers int
	Retry      *worker.RetryConfig
	Sleeper    worker.Sleeper

	// ResumeSummary skips chunks marked successful in this run summary.
	ResumeSummary string
	// Resume skips the chunks it holds, in addition to the other sources.
	Resume *resume.Filter
	// Ledger, when set, records the run. With ResumeFromLedger its
	// completed chunks for the manifest are skipped as well.
	Ledger           *storage.Ledger
	ResumeFromLedger bool

	// Inventory defaults to nvidia-smi on PATH.
	Inventory gpu.Inventory

	ModelVersion string
	DatasetRoot  string

	Logger *slog.Logger
	Clock  clockwork.Clock
	// Observe is called with the scheduler before the run starts so callers
	// can register hooks or subscribe to events. scheduled is the number of
	// jobs left after resume filtering.
	Observe func(s *scheduler.Scheduler, scheduled int)
}

// InferReport describes what Infer did.
type InferReport struct {
	// Jobs is the number of rows in the manifest.
	Jobs int
	// Scheduled is the number of jobs handed to the scheduler.
	Scheduled int
	Skipped   int
	Orphaned  int

	Plan         worker.Plan
	RunID        string
	TelemetryLog string
	SummaryPath  string
	// Summary is nil when nothing was scheduled.
	Summary *core.RunSummary
}

// Infer runs every chunk of a manifest through the detector. The run summary
// is written even when the run fails, so a later call with ResumeSummary
// only repeats what did not succeed.
func Infer(ctx context.Context, opts InferOptions) (*InferReport, error) {
	if opts.RunnerCmd != "" && opts.UseHawkEars {
		return nil, core.ErrRunnerConflict
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	jobs, err := manifest.Load(opts.Manifest)
	if err != nil {
		return nil, err
	}
	report := &InferReport{Jobs: len(jobs)}

	source, err := filepath.Abs(opts.Manifest)
	if err != nil {
		return nil, err
	}
	filter, err := resumeFilter(ctx, opts, source)
	if err != nil {
		return nil, err
	}
	if filter.Len() > 0 {
		logger.Info("resume filter loaded", "completed", filter.Len())
		var r resume.Report
		jobs, r = filter.Apply(jobs)
		report.Skipped, report.Orphaned = r.Skipped, r.Orphaned
		if r.Skipped > 0 {
			logger.Info("skipping completed chunks", "skipped", r.Skipped)
		}
		if r.Orphaned > 0 {
			logger.Warn("resume entries not present in manifest", "orphaned", r.Orphaned)
		}
	}
	report.Scheduled = len(jobs)
	if len(jobs) == 0 {
		logger.Info("no jobs to run", "manifest", opts.Manifest, "skipped", report.Skipped)
		return report, nil
	}

	detector, err := buildDetector(opts)
	if err != nil {
		return nil, err
	}

	inventory := opts.Inventory
	if inventory == nil {
		inventory = gpu.NewNvidiaSMI("")
	}
	report.Plan = worker.PlanSlots(inventory.Detect(ctx), opts.MaxGPUs, opts.CPUWorkers)
	for _, note := range report.Plan.Notes {
		logger.Warn(note)
	}

	report.TelemetryLog = opts.TelemetryLog
	if report.TelemetryLog == "" {
		dir := opts.TelemetryDir
		if dir == "" {
			dir = filepath.Join("artifacts", "telemetry")
		}
		report.TelemetryLog = telemetry.DefaultLogPath(opts.Manifest, dir, clock.Now())
	}
	report.SummaryPath = telemetry.SummaryPath(report.TelemetryLog)

	sink, err := telemetry.Open(report.TelemetryLog)
	if err != nil {
		return nil, err
	}
	defer sink.Close()

	report.RunID = uuid.NewString()
	if opts.Ledger != nil {
		run, err := opts.Ledger.BeginRun(ctx, source, report.TelemetryLog, report.SummaryPath)
		if err != nil {
			return nil, err
		}
		report.RunID = run.ID
	}

	var runner *worker.Runner
	sched := scheduler.New(scheduler.RunnerFunc(func(ctx context.Context, job core.InferenceJob, slot core.WorkerSlot) (core.JobResult, error) {
		return runner.Run(ctx, job, slot)
	}), scheduler.WithLogger(logger), scheduler.WithClock(clock))
	runner = worker.NewRunner(detector, sink, runnerOptions(opts, inventory, logger, clock, sched)...)
	if opts.Observe != nil {
		opts.Observe(sched, len(jobs))
	}

	logger.Info("inference run starting",
		"run_id", report.RunID, "jobs", len(jobs), "workers", report.Plan.Labels(), "telemetry_log", report.TelemetryLog)
	result, runErr := sched.Run(ctx, jobs, report.Plan.Slots)
	if result == nil {
		if opts.Ledger != nil {
			if err := opts.Ledger.FinishRun(context.WithoutCancel(ctx), report.RunID, runErr); err != nil {
				logger.Error("failed to finish ledger run", "run_id", report.RunID, "error", err)
			}
		}
		return report, runErr
	}

	report.Summary = result.Summary(report.RunID, report.TelemetryLog)
	if err := telemetry.WriteSummary(report.SummaryPath, report.Summary); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("writing run summary: %w", err))
	}
	if opts.Ledger != nil {
		// The run context may already be cancelled; the ledger still gets the outcome.
		ledgerCtx := context.WithoutCancel(ctx)
		if err := opts.Ledger.RecordSummary(ledgerCtx, report.RunID, report.Summary); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("recording run in ledger: %w", err))
		}
		if err := opts.Ledger.FinishRun(ledgerCtx, report.RunID, runErr); err != nil {
			logger.Error("failed to finish ledger run", "run_id", report.RunID, "error", err)
		}
	}

	logger.Info("inference run finished",
		"run_id", report.RunID, "succeeded", report.Summary.Succeeded(), "failed", report.Summary.Failed(),
		"summary", report.SummaryPath)
	return report, runErr
}

func resumeFilter(ctx context.Context, opts InferOptions, source string) (*resume.Filter, error) {
	filter := resume.FromKeys(nil).Merge(opts.Resume)
	if opts.ResumeSummary != "" {
		f, err := resume.LoadSummary(opts.ResumeSummary)
		if err != nil {
			return nil, fmt.Errorf("resume summary: %w", err)
		}
		filter = filter.Merge(f)
	}
	if opts.ResumeFromLedger && opts.Ledger != nil {
		keys, err := opts.Ledger.CompletedChunks(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("resume ledger: %w", err)
		}
		filter = filter.Merge(resume.FromKeys(keys))
	}
	return filter, nil
}

func buildDetector(opts InferOptions) (worker.Detector, error) {
	switch {
	case opts.Detector != nil:
		return opts.Detector, nil
	case opts.RunnerCmd != "":
		return worker.NewExecDetector(opts.RunnerCmd, opts.DetectorArgs)
	case opts.UseHawkEars:
		return worker.NewHawkEarsDetector(opts.Python, opts.HawkEarsRoot, opts.DetectorArgs)
	}
	return nil, nil
}

func runnerOptions(opts InferOptions, inv gpu.Inventory, logger *slog.Logger, clock clockwork.Clock, sched *scheduler.Scheduler) []worker.RunnerOption {
	ro := []worker.RunnerOption{
		worker.MaxRetries(opts.MaxRetries),
		worker.WithInventory(inv),
		worker.WithLogger(logger),
		worker.WithClock(clock),
		worker.OnRetry(sched.NotifyRetry),
		worker.Provenance(opts.ModelVersion, opts.DatasetRoot),
	}
	if opts.OutputDir != "" {
		ro = append(ro, worker.OutputDir(opts.OutputDir))
	}
	if opts.Retry != nil {
		ro = append(ro, worker.WithRetryConfig(*opts.Retry))
	}
	if opts.Sleeper != nil {
		ro = append(ro, worker.WithSleeper(opts.Sleeper))
	}
	return ro
}
