package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jdziat/badc"
	"github.com/jdziat/badc/internal/config"
)

func inferRunConfigCmd(c *cli) *cobra.Command {
	var (
		mf           monitorFlags
		cpuOnly      bool
		printDatalad bool
		datasetRoot  string
	)
	cmd := &cobra.Command{
		Use:   "run-config FILE",
		Short: "Run inference from a TOML run configuration",
		Long: `Runs inference with the settings of a TOML file:

  [runner]
  manifest = "manifests/site4.csv"
  use_hawkears = true
  max_gpus = 2

  [hawkears]
  extra_args = ["--min_score", "0.6"]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := config.LoadRunConfig(args[0], c.defaults)
			if err != nil {
				return err
			}
			if len(rc.Unknown) > 0 {
				note(cmd.ErrOrStderr(), "Ignoring unknown keys in %s: %s", args[0], strings.Join(rc.Unknown, ", "))
			}
			opts := runConfigOptions(c, rc, cpuOnly)
			if printDatalad {
				return printDataladRun(cmd.OutOrStdout(), datasetRoot, opts)
			}

			if mf.ledger == "" {
				mf.ledger = rc.Ledger
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
	mf.bind(cmd)
	cmd.Flags().BoolVar(&cpuOnly, "cpu-only", false, "Skip GPU detection and run on CPU workers only")
	cmd.Flags().BoolVar(&printDatalad, "print-datalad-run", false, "Print a `datalad run` command instead of running inference")
	cmd.Flags().StringVar(&datasetRoot, "dataset-root", ".", "Dataset root used by --print-datalad-run")
	return cmd
}

func runConfigOptions(c *cli, rc *config.RunConfig, cpuOnly bool) badc.InferOptions {
	opts := badc.InferOptions{
		Manifest:      rc.Manifest,
		OutputDir:     rc.OutputDir,
		RunnerCmd:     rc.RunnerCmd,
		TelemetryLog:  rc.TelemetryLog,
		TelemetryDir:  c.defaults.TelemetryDir,
		UseHawkEars:   rc.UseHawkEars,
		HawkEarsRoot:  c.defaults.HawkEarsRoot,
		Python:        c.defaults.Python,
		DetectorArgs:  rc.HawkEarsArgs,
		MaxRetries:    rc.MaxRetries,
		MaxGPUs:       rc.MaxGPUs,
		CPUWorkers:    rc.CPUWorkers,
		ResumeSummary: rc.ResumeSummary,
		Inventory:     c.inventory(cpuOnly),
	}
	if opts.RunnerCmd == "" && !opts.UseHawkEars {
		opts.RunnerCmd = c.defaults.RunnerCmd
	}
	return opts
}

// describeRunner names the detector a run will use.
func describeRunner(opts badc.InferOptions) string {
	switch {
	case opts.RunnerCmd != "":
		return fmt.Sprintf("command %q", opts.RunnerCmd)
	case opts.UseHawkEars:
		return "HawkEars"
	}
	return "stub"
}
