package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/jdziat/badc/pkg/resume"
	"github.com/jdziat/badc/pkg/schedule"
)

func inferWatchCmd(c *cli) *cobra.Command {
	var (
		rf      runFlags
		mf      monitorFlags
		every   time.Duration
		cronExp string
		maxRuns int
	)
	cmd := &cobra.Command{
		Use:   "watch MANIFEST",
		Short: "Re-run a growing manifest on a schedule",
		Long: `Runs the manifest once, then again at every tick of --every or --cron.
Each run skips the chunks earlier runs completed, so only chunks appended to
the manifest since the last tick (and earlier failures) are processed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("telemetry-log") {
				return errors.New("--telemetry-log cannot be used with watch: every run writes its own log")
			}
			var sched schedule.Schedule
			switch {
			case cronExp != "":
				s, err := schedule.Cron(cronExp)
				if err != nil {
					return err
				}
				sched = s
			case every > 0:
				sched = schedule.Every(every)
			default:
				return errors.New("one of --every or --cron is required")
			}

			s, ctx, err := c.startSession(cmd.Context(), &mf)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			completed := resume.FromKeys(nil)
			if rf.resumeSummary != "" {
				f, err := resume.LoadSummary(rf.resumeSummary)
				if err != nil {
					return fmt.Errorf("resume summary: %w", err)
				}
				completed = f
			}

			tick := func(ctx context.Context) error {
				opts := rf.options(c, cmd, args[0])
				opts.ResumeSummary = ""
				opts.Resume = completed
				report, err := s.infer(ctx, cmd, opts, mf.resumeLedger)
				printReport(out, report, opts.OutputDir)
				if report != nil && report.Summary != nil {
					completed = completed.Merge(resume.FromSummary(report.Summary))
				}
				return err
			}

			if err := tick(ctx); err != nil {
				c.logger.Error("watch run failed", "manifest", args[0], "error", err)
			}
			if maxRuns == 1 {
				return nil
			}
			loopOpts := []schedule.LoopOption{schedule.WithLogger(c.logger)}
			if maxRuns > 1 {
				loopOpts = append(loopOpts, schedule.MaxRuns(maxRuns-1))
			}
			note(out, "Watching %s (Ctrl+C to stop)...", args[0])
			err = schedule.Loop(ctx, clockwork.NewRealClock(), sched, tick, loopOpts...)
			if errors.Is(err, context.Canceled) {
				note(out, "Stopped watching.")
				return nil
			}
			return err
		},
	}
	rf.bind(cmd)
	mf.bind(cmd)
	cmd.Flags().DurationVar(&every, "every", 0, "Interval between runs, e.g. 30m")
	cmd.Flags().StringVar(&cronExp, "cron", "", "Cron expression for runs, e.g. \"0 */2 * * *\"")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 0, "Stop after this many runs (0 runs until interrupted)")
	cmd.MarkFlagsMutuallyExclusive("every", "cron")
	return cmd
}
