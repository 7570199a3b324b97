package main

import (
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jdziat/badc/pkg/gpu"
)

func gpusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "gpus",
		Short: "Display the GPU inventory reported by nvidia-smi",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv := gpu.NewNvidiaSMI(c.defaults.NvidiaSMI)
			inv.Logger = c.logger
			det := inv.Detect(cmd.Context())

			out := cmd.OutOrStdout()
			if det.Diagnostic != "" {
				note(out, "%s", det.Diagnostic)
			}
			if len(det.Devices) == 0 {
				note(out, "No GPUs detected via nvidia-smi.")
				return nil
			}

			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"Index", "Name", "Memory"})
			table.SetAutoFormatHeaders(false)
			for _, d := range det.Devices {
				table.Append([]string{
					strconv.Itoa(d.Index),
					d.Name,
					humanize.IBytes(uint64(d.MemoryTotalMB) << 20),
				})
			}
			table.Render()
			return nil
		},
	}
}
