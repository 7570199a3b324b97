package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jdziat/badc/internal/config"
	"github.com/jdziat/badc/internal/logging"
)

// cli carries the state shared by every subcommand. It is filled in by the
// root command's PersistentPreRunE before any RunE executes.
type cli struct {
	envFile   string
	logLevel  string
	logFormat string

	defaults config.Defaults
	logger   *slog.Logger
}

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands are registered here.
func RootCmd() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:           "badc",
		Short:         "badc schedules bioacoustic detector runs across local GPUs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.envFile, "env-file", "", "Load BADC_* defaults from this .env file first")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn or error (default $BADC_LOG_LEVEL or info)")
	flags.StringVar(&c.logFormat, "log-format", "", "Log format: text or json (default $BADC_LOG_FORMAT or text)")

	cmd.AddCommand(
		gpusCmd(c),
		inferCmd(c),
		chunkCmd(c),
		telemetryCmd(c),
		versionCmd(),
	)
	return cmd
}

func (c *cli) init(cmd *cobra.Command) error {
	d, err := config.LoadDefaults(c.envFile)
	if err != nil {
		return err
	}
	level := c.logLevel
	if level == "" {
		level = d.LogLevel
	}
	format := c.logFormat
	if format == "" {
		format = d.LogFormat
	}
	logger, err := logging.New(cmd.ErrOrStderr(), level, format)
	if err != nil {
		return err
	}
	c.defaults = d
	c.logger = logger
	return nil
}

// note prints a highlighted operator message.
func note(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, color.YellowString(format, args...))
}

// heading prints a bold section title.
func heading(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, color.New(color.Bold).Sprintf(format, args...))
}
