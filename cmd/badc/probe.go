package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jdziat/badc/pkg/probe"
)

func chunkCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Chunk sizing tools",
	}
	cmd.AddCommand(chunkProbeCmd(c))
	return cmd
}

func chunkProbeCmd(c *cli) *cobra.Command {
	var (
		req         probe.Request
		maxDuration float64
		gpuIndex    int
		cpuOnly     bool
	)
	cmd := &cobra.Command{
		Use:   "probe FILE",
		Short: "Estimate the longest chunk duration of a WAV file that fits GPU memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.AudioPath = args[0]
			if cmd.Flags().Changed("max-duration") {
				req.MaxDuration = &maxDuration
			}
			if cmd.Flags().Changed("gpu-index") {
				req.GPUIndex = &gpuIndex
			}

			prober := probe.NewProber(
				probe.WithInventory(c.inventory(cpuOnly)),
				probe.WithLogger(c.logger),
				probe.LogDir(c.defaults.ProbeTelemetryDir),
			)
			result, err := prober.Probe(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recommended chunk duration: %s (strategy: %s)\n",
				color.New(color.Bold).Sprintf("%.2f s", result.MaxDurationSeconds), result.Strategy)
			fmt.Fprintf(out, "Notes: %s\n", result.Notes)
			if result.LogPath != "" {
				fmt.Fprintf(out, "Telemetry log: %s\n", result.LogPath)
			}
			if len(result.Attempts) > 0 {
				fmt.Fprintln(out, "Recent attempts:")
				recent := result.Attempts[max(0, len(result.Attempts)-3):]
				for _, a := range recent {
					status := color.GreenString("fits")
					if !a.Fits {
						status = color.YellowString("fails")
					}
					fmt.Fprintf(out, " - %.2fs -> %.1f MiB %s (%s)\n", a.DurationSeconds, a.EstimatedMemoryMB, status, a.Reason)
				}
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.Float64Var(&req.InitialDuration, "initial-duration", 60, "Starting chunk duration in seconds")
	flags.Float64Var(&maxDuration, "max-duration", 0, "Upper bound for the search in seconds (default the recording length)")
	flags.Float64Var(&req.Tolerance, "tolerance", 5, "Stop when the bounds differ by at most this many seconds")
	flags.IntVar(&gpuIndex, "gpu-index", 0, "GPU whose memory defines the budget (default first GPU)")
	flags.StringVar(&req.LogPath, "log", "", "Attempt log path (JSONL); default under $BADC_PROBE_TELEMETRY_DIR")
	flags.BoolVar(&cpuOnly, "cpu-only", false, "Skip GPU detection and use the fallback budget")
	return cmd
}
