package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jdziat/badc/pkg/telemetry"
)

func telemetryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Inspect run telemetry",
	}
	cmd.AddCommand(telemetrySummaryCmd(c))
	return cmd
}

func telemetrySummaryCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary LOG",
		Short: "Summarize a telemetry log per device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := telemetry.Load(args[0])
			if err != nil {
				return err
			}
			devices := telemetry.Summarize(records)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}
			if len(devices) == 0 {
				note(out, "No telemetry records in %s.", args[0])
				return nil
			}
			printDevices(out, devices)

			summary, err := telemetry.LoadSummary(telemetry.SummaryPath(args[0]))
			switch {
			case err == nil:
				fmt.Fprintf(out, "Run %s: %d succeeded, %d failed\n", summary.RunID, summary.Succeeded(), summary.Failed())
			case errors.Is(err, fs.ErrNotExist):
			default:
				c.logger.Warn("run summary unreadable", "path", telemetry.SummaryPath(args[0]), "error", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the rollup as JSON")
	return cmd
}

func printDevices(w io.Writer, devices []telemetry.DeviceSummary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Device", "Name", "Events", "Success", "Failures", "Retries", "Avg runtime", "Util min/avg/max", "Peak memory", "Last"})
	table.SetAutoFormatHeaders(false)
	for _, d := range devices {
		runtime := "-"
		if d.AvgRuntime != nil {
			runtime = fmt.Sprintf("%.1fs", *d.AvgRuntime)
		}
		util := "-"
		if d.Utilization != nil {
			util = fmt.Sprintf("%.0f/%.0f/%.0f%%", d.Utilization.Min, d.Utilization.Avg, d.Utilization.Max)
		}
		memory := "-"
		if d.PeakMemoryMB != nil {
			memory = humanize.IBytes(uint64(*d.PeakMemoryMB) << 20)
			if d.MemoryTotalMB != nil {
				memory += " / " + humanize.IBytes(uint64(*d.MemoryTotalMB)<<20)
			}
		}
		table.Append([]string{
			d.Label,
			d.Name,
			strconv.Itoa(d.Events),
			strconv.Itoa(d.Successes),
			strconv.Itoa(d.Failures),
			strconv.Itoa(d.RetryAttempts),
			runtime,
			util,
			memory,
			fmt.Sprintf("%s %s", d.LastStatus, d.LastChunk),
		})
	}
	table.Render()
}
