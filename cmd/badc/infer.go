package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jdziat/badc"
	"github.com/jdziat/badc/pkg/gpu"
	"github.com/jdziat/badc/pkg/manifest"
	"github.com/jdziat/badc/pkg/metrics"
	"github.com/jdziat/badc/pkg/plan"
	"github.com/jdziat/badc/pkg/scheduler"
	"github.com/jdziat/badc/pkg/storage"
)

func inferCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Run the detector over chunk manifests",
	}
	cmd.AddCommand(
		inferRunCmd(c),
		inferRunConfigCmd(c),
		inferOrchestrateCmd(c),
		inferWatchCmd(c),
	)
	return cmd
}

// runFlags are the flags shared by every command that starts a run.
type runFlags struct {
	maxGPUs       int
	outputDir     string
	runnerCmd     string
	telemetryLog  string
	maxRetries    int
	useHawkEars   bool
	hawkEarsArgs  []string
	cpuWorkers    int
	cpuOnly       bool
	resumeSummary string
}

func (f *runFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&f.maxGPUs, "max-gpus", 0, "Limit the number of GPUs to use (default all detected)")
	flags.StringVar(&f.outputDir, "output-dir", "", "Directory for inference outputs (default $BADC_OUTPUT_DIR)")
	flags.StringVar(&f.runnerCmd, "runner-cmd", "", "Command used to run the detector on one chunk (default stub runner)")
	flags.StringVar(&f.telemetryLog, "telemetry-log", "", "Telemetry log path (JSONL)")
	flags.IntVar(&f.maxRetries, "max-retries", 0, "Maximum retries per chunk (default $BADC_MAX_RETRIES)")
	flags.BoolVar(&f.useHawkEars, "use-hawkears", false, "Invoke HawkEars analyze.py instead of the stub runner")
	flags.StringArrayVar(&f.hawkEarsArgs, "hawkears-arg", nil, "Extra argument passed to HawkEars (repeatable)")
	flags.IntVar(&f.cpuWorkers, "cpu-workers", 0, "Additional CPU workers (default $BADC_CPU_WORKERS)")
	flags.BoolVar(&f.cpuOnly, "cpu-only", false, "Skip GPU detection and run on CPU workers only")
	flags.StringVar(&f.resumeSummary, "resume-summary", "", "Skip chunks marked success in this run summary")
	cmd.MarkFlagsMutuallyExclusive("runner-cmd", "use-hawkears")
}

// options builds the run options for manifest, filling unset flags from the
// environment defaults.
func (f *runFlags) options(c *cli, cmd *cobra.Command, manifestPath string) badc.InferOptions {
	changed := cmd.Flags().Changed
	opts := badc.InferOptions{
		Manifest:      manifestPath,
		OutputDir:     f.outputDir,
		RunnerCmd:     f.runnerCmd,
		TelemetryLog:  f.telemetryLog,
		TelemetryDir:  c.defaults.TelemetryDir,
		UseHawkEars:   f.useHawkEars,
		HawkEarsRoot:  c.defaults.HawkEarsRoot,
		Python:        c.defaults.Python,
		DetectorArgs:  f.hawkEarsArgs,
		MaxRetries:    f.maxRetries,
		CPUWorkers:    f.cpuWorkers,
		ResumeSummary: f.resumeSummary,
	}
	if opts.OutputDir == "" {
		opts.OutputDir = c.defaults.OutputDir
	}
	if !changed("max-retries") {
		opts.MaxRetries = c.defaults.MaxRetries
	}
	if !changed("cpu-workers") {
		opts.CPUWorkers = c.defaults.CPUWorkers
	}
	if changed("max-gpus") {
		n := f.maxGPUs
		opts.MaxGPUs = &n
	}
	if opts.RunnerCmd == "" && !opts.UseHawkEars {
		opts.RunnerCmd = c.defaults.RunnerCmd
	}
	opts.Inventory = c.inventory(f.cpuOnly)
	return opts
}

// monitorFlags control the ledger, metrics endpoint and progress display.
type monitorFlags struct {
	ledger       string
	resumeLedger bool
	metricsAddr  string
	noProgress   bool
}

func (f *monitorFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.ledger, "ledger", "", "Run ledger DSN: a SQLite path or postgres:// URL (default $BADC_LEDGER)")
	flags.BoolVar(&f.resumeLedger, "resume-ledger", false, "Skip chunks the ledger records as completed for this manifest")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090 (default $BADC_METRICS_ADDR)")
	flags.BoolVar(&f.noProgress, "no-progress", false, "Disable the progress bar")
}

// session holds the resources a command keeps open across one or more runs.
type session struct {
	c         *cli
	ledger    *storage.Ledger
	collector *metrics.Collector
	progress  bool
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// startSession opens the ledger and starts the metrics endpoint requested by f.
func (c *cli) startSession(ctx context.Context, f *monitorFlags) (*session, context.Context, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &session{c: c, cancel: cancel, progress: !f.noProgress}

	dsn := f.ledger
	if dsn == "" {
		dsn = c.defaults.Ledger
	}
	if dsn != "" {
		ledger, err := storage.Open(dsn, storage.WithLogger(c.logger))
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("opening ledger: %w", err)
		}
		s.ledger = ledger
	} else if f.resumeLedger {
		cancel()
		return nil, nil, fmt.Errorf("--resume-ledger: %w", badc.ErrLedgerUnavailable)
	}

	addr := f.metricsAddr
	if addr == "" {
		addr = c.defaults.MetricsAddr
	}
	if addr != "" {
		s.collector = metrics.NewCollector()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.collector.Serve(ctx, addr, c.logger); err != nil {
				c.logger.Error("metrics endpoint stopped", "addr", addr, "error", err)
			}
		}()
	}
	return s, ctx, nil
}

// Close stops the metrics endpoint and closes the ledger.
func (s *session) Close() error {
	s.cancel()
	s.wg.Wait()
	if s.ledger != nil {
		return s.ledger.Close()
	}
	return nil
}

// infer runs one manifest with the session's ledger, metrics and progress bar.
func (s *session) infer(ctx context.Context, cmd *cobra.Command, opts badc.InferOptions, resumeLedger bool) (*badc.InferReport, error) {
	opts.Logger = s.c.logger
	opts.Ledger = s.ledger
	opts.ResumeFromLedger = resumeLedger && s.ledger != nil

	runCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	opts.Observe = func(sched *scheduler.Scheduler, scheduled int) {
		if s.collector != nil {
			s.collector.Track(sched)
			events := sched.Events()
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sched.Unsubscribe(events)
				s.collector.Consume(runCtx, events)
			}()
		}
		if errOut := cmd.ErrOrStderr(); s.progress && isTerminal(errOut) {
			events := sched.Events()
			bar := newProgress(errOut, scheduled)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sched.Unsubscribe(events)
				bar.run(runCtx, events)
			}()
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Runner: %s\n", describeRunner(opts))
	report, err := badc.Infer(ctx, opts)
	stop()
	wg.Wait()
	return report, err
}

func inferRunCmd(c *cli) *cobra.Command {
	var (
		rf           runFlags
		mf           monitorFlags
		printDatalad bool
		datasetRoot  string
	)
	cmd := &cobra.Command{
		Use:   "run MANIFEST",
		Short: "Run the detector for every chunk in a manifest",
		Long: `Runs the detector (or the stub runner) for every chunk listed in a manifest CSV,
one worker per GPU plus optional CPU workers. Chunks that fail are retried with
exponential backoff; a run summary is written next to the telemetry log and can
be passed to --resume-summary to repeat only what did not succeed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := rf.options(c, cmd, args[0])
			if printDatalad {
				return printDataladRun(cmd.OutOrStdout(), datasetRoot, opts)
			}

			s, ctx, err := c.startSession(cmd.Context(), &mf)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.infer(ctx, cmd, opts, mf.resumeLedger)
			printReport(cmd.OutOrStdout(), report, opts.OutputDir)
			return err
		},
	}
	rf.bind(cmd)
	mf.bind(cmd)
	cmd.Flags().BoolVar(&printDatalad, "print-datalad-run", false, "Print a `datalad run` command instead of running inference")
	cmd.Flags().StringVar(&datasetRoot, "dataset-root", ".", "Dataset root used by --print-datalad-run")
	return cmd
}

func printDataladRun(w io.Writer, datasetRoot string, opts badc.InferOptions) error {
	if opts.TelemetryLog == "" {
		return errors.New("--print-datalad-run requires --telemetry-log so the log is recorded as an output")
	}
	p := plan.Plan{
		RecordingID:  manifest.RecordingSlug(opts.Manifest),
		ManifestPath: absPath(opts.Manifest),
		OutputDir:    absPath(opts.OutputDir),
		TelemetryLog: absPath(opts.TelemetryLog),
		UseHawkEars:  opts.UseHawkEars,
		HawkEarsArgs: opts.DetectorArgs,
		MaxGPUs:      opts.MaxGPUs,
	}
	command, err := p.DataladCommand(datasetRoot)
	if err != nil {
		return err
	}
	heading(w, "Datalad command (run from dataset root):")
	fmt.Fprintln(w, command)
	return nil
}

// printReport writes the operator-facing summary of a run. report may be nil
// when the run failed before scheduling.
func printReport(w io.Writer, report *badc.InferReport, outputDir string) {
	if report == nil {
		return
	}
	for _, n := range report.Plan.Notes {
		note(w, "%s", n)
	}
	if report.Skipped > 0 {
		note(w, "Skipping %d chunk(s) already completed.", report.Skipped)
	}
	if report.Orphaned > 0 {
		note(w, "%d completed chunk entry(ies) were not present in this manifest.", report.Orphaned)
	}
	if report.Summary == nil {
		if report.Skipped > 0 {
			note(w, "All chunks in this manifest are already complete.")
		} else if report.Jobs == 0 {
			note(w, "No jobs found in manifest.")
		}
		return
	}

	fmt.Fprintf(w, "Telemetry log: %s\n", report.TelemetryLog)
	fmt.Fprintf(w, "Processed %d jobs; outputs stored in %s\n", report.Scheduled, outputDir)
	if len(report.Summary.Workers) > 0 {
		labels := make([]string, 0, len(report.Summary.Workers))
		for label := range report.Summary.Workers {
			labels = append(labels, label)
		}
		sort.Strings(labels)

		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Worker", "Jobs", "Failures", "Retries", "Failed attempts"})
		table.SetAutoFormatHeaders(false)
		for _, label := range labels {
			st := report.Summary.Workers[label]
			table.Append([]string{
				label,
				strconv.Itoa(st.Success + st.Failure),
				strconv.Itoa(st.Failure),
				strconv.Itoa(st.Retries),
				strconv.Itoa(st.FailedRetries),
			})
		}
		table.Render()
	}
	fmt.Fprintf(w, "Scheduler summary: %s\n", report.SummaryPath)
}

// inventory returns the GPU inventory for a run.
func (c *cli) inventory(cpuOnly bool) gpu.Inventory {
	if cpuOnly {
		return &gpu.Static{Diagnostic: "GPU detection skipped (--cpu-only)."}
	}
	inv := gpu.NewNvidiaSMI(c.defaults.NvidiaSMI)
	inv.Logger = c.logger
	return inv
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
