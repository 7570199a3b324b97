package main

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/jdziat/badc/pkg/core"
)

// progress advances a terminal bar once per finished job.
type progress struct {
	bar *progressbar.ProgressBar
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newProgress(w io.Writer, total int) *progress {
	return &progress{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("inferring"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)}
}

// run consumes events until ctx ends, then drains what is already buffered.
func (p *progress) run(ctx context.Context, events <-chan core.Event) {
	defer p.bar.Finish()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-events:
					p.observe(e)
				default:
					return
				}
			}
		case e := <-events:
			p.observe(e)
		}
	}
}

func (p *progress) observe(e core.Event) {
	switch ev := e.(type) {
	case *core.JobSucceeded, *core.JobFailed, *core.JobSkipped:
		_ = p.bar.Add(1)
	case *core.JobRetrying:
		p.bar.Describe("retrying " + ev.Job.ChunkID)
	case *core.JobStarted:
		p.bar.Describe(ev.Job.ChunkID)
	}
}
