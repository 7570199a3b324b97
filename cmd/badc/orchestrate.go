package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jdziat/badc/pkg/plan"
	"github.com/jdziat/badc/pkg/telemetry"
)

func inferOrchestrateCmd(c *cli) *cobra.Command {
	var (
		mf              monitorFlags
		opts            = plan.DefaultOptions()
		chunkPlan       string
		maxGPUs         int
		maxRetries      int
		cpuWorkers      int
		cpuOnly         bool
		printDatalad    bool
		apply           bool
		planJSON        string
		resumeCompleted bool
	)
	cmd := &cobra.Command{
		Use:   "orchestrate DATASET",
		Short: "Plan (and optionally run) inference for every manifest in a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]
			out := cmd.OutOrStdout()
			if cmd.Flags().Changed("max-gpus") {
				n := maxGPUs
				opts.MaxGPUs = &n
			}
			if chunkPlan != "" {
				paths, err := plan.LoadManifestPaths(chunkPlan)
				if err != nil {
					return err
				}
				opts.ManifestPaths = paths
			}

			plans, err := plan.Build(root, opts)
			if err != nil {
				return err
			}
			if len(plans) == 0 {
				note(out, "No manifests matched the provided criteria.")
				return nil
			}
			printPlans(out, root, plans)

			if planJSON != "" {
				if err := plan.Save(planJSON, plans); err != nil {
					return err
				}
				fmt.Fprintf(out, "Saved inference plan JSON to %s\n", planJSON)
			}
			if printDatalad {
				fmt.Fprintln(out)
				heading(out, "Datalad commands (run from dataset root):")
				for _, p := range plans {
					command, err := p.DataladCommand(root)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, " - %s\n", command)
				}
			}
			if !apply {
				return nil
			}

			s, ctx, err := c.startSession(cmd.Context(), &mf)
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintln(out)
			heading(out, "Executing inference plan...")
			var errs []error
			for _, p := range plans {
				if ctx.Err() != nil {
					errs = append(errs, ctx.Err())
					break
				}
				fmt.Fprintf(out, "Inferring %s\n", p.RecordingID)
				run := runFlags{
					outputDir:    p.OutputDir,
					telemetryLog: p.TelemetryLog,
					maxRetries:   maxRetries,
					useHawkEars:  p.UseHawkEars,
					hawkEarsArgs: p.HawkEarsArgs,
					cpuWorkers:   cpuWorkers,
					cpuOnly:      cpuOnly,
				}
				runOpts := run.options(c, cmd, p.ManifestPath)
				runOpts.MaxGPUs = p.MaxGPUs
				if resumeCompleted {
					summary := telemetry.SummaryPath(p.TelemetryLog)
					if _, err := os.Stat(summary); err == nil {
						note(out, "Resuming %s from %s", p.RecordingID, summary)
						runOpts.ResumeSummary = summary
					} else {
						note(out, "No previous summary for %s; running every chunk.", p.RecordingID)
					}
				}

				report, err := s.infer(ctx, cmd, runOpts, mf.resumeLedger)
				printReport(out, report, runOpts.OutputDir)
				if err != nil {
					note(out, "Inference failed for %s: %v", p.RecordingID, err)
					errs = append(errs, fmt.Errorf("%s: %w", p.RecordingID, err))
				}
			}
			return errors.Join(errs...)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ManifestDir, "manifest-dir", opts.ManifestDir, "Directory that stores chunk manifests, relative to the dataset")
	flags.StringVar(&opts.Pattern, "pattern", opts.Pattern, "Glob used to select manifests (supports **)")
	flags.StringVar(&opts.OutputDir, "output-dir", opts.OutputDir, "Root directory for inference outputs")
	flags.StringVar(&opts.TelemetryDir, "telemetry-dir", opts.TelemetryDir, "Directory for telemetry logs")
	flags.StringVar(&chunkPlan, "chunk-plan", "", "Chunk plan CSV/JSON listing the manifests to use")
	flags.BoolVar(&opts.IncludeExisting, "include-existing", false, "Plan recordings whose output directory already exists")
	flags.IntVar(&opts.Limit, "limit", 0, "Cap the number of planned manifests")
	flags.IntVar(&maxGPUs, "max-gpus", 0, "Max GPUs recorded in each plan")
	flags.BoolVar(&opts.UseHawkEars, "use-hawkears", opts.UseHawkEars, "Run HawkEars for each plan (false selects the stub runner)")
	flags.StringArrayVar(&opts.HawkEarsArgs, "hawkears-arg", nil, "Extra HawkEars argument baked into the plan (repeatable)")
	flags.BoolVar(&printDatalad, "print-datalad-run", false, "Print `datalad run` commands for each manifest")
	flags.BoolVar(&apply, "apply", false, "Run inference for every plan")
	flags.StringVar(&planJSON, "plan-json", "", "Save the plan as JSON to this path")
	flags.BoolVar(&resumeCompleted, "resume-completed", false, "Resume each plan from its existing run summary")
	flags.IntVar(&maxRetries, "max-retries", 0, "Maximum retries per chunk (default $BADC_MAX_RETRIES)")
	flags.IntVar(&cpuWorkers, "cpu-workers", 0, "Additional CPU workers (default $BADC_CPU_WORKERS)")
	flags.BoolVar(&cpuOnly, "cpu-only", false, "Skip GPU detection and run on CPU workers only")
	mf.bind(cmd)
	return cmd
}

func printPlans(w io.Writer, root string, plans []plan.Plan) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Recording", "Manifest", "Outputs", "Telemetry"})
	table.SetAutoFormatHeaders(false)
	for _, p := range plans {
		table.Append([]string{p.RecordingID, relTo(root, p.ManifestPath), relTo(root, p.OutputDir), relTo(root, p.TelemetryLog)})
	}
	table.Render()
}

func relTo(root, path string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(abs, path); err == nil {
		return rel
	}
	return path
}
