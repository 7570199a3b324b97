package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/google/shlex"

	"github.com/jdziat/badc/pkg/core"
)

// DefaultGPUEnv selects the visible GPU for the detector process.
const DefaultGPUEnv = "CUDA_VISIBLE_DEVICES"

// Invocation is one detector call.
type Invocation struct {
	Job     core.InferenceJob
	Slot    core.WorkerSlot
	Attempt int
	// OutputDir is the directory the detector writes its raw results into.
	OutputDir string
}

// Execution is the outcome of a detector process that ran.
type Execution struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Detector runs the detection model on one chunk. A non-nil error means the
// program could not be run at all; a non-zero ExitCode is a retryable failure.
type Detector interface {
	Invoke(ctx context.Context, inv Invocation) (Execution, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, inv Invocation) (Execution, error)

// Invoke implements Detector.
func (f DetectorFunc) Invoke(ctx context.Context, inv Invocation) (Execution, error) {
	return f(ctx, inv)
}

// ExecDetector runs an external program:
//
//	Command... <InputFlag> <chunk> <OutputFlag> <dir> ExtraArgs...
type ExecDetector struct {
	Command    []string
	ExtraArgs  []string
	InputFlag  string
	OutputFlag string
	// GPUEnv names the variable set to the slot's device index.
	GPUEnv string
	// Dir is the working directory; empty means the current one.
	Dir string
}

// NewExecDetector splits a shell-style command line into an ExecDetector.
func NewExecDetector(commandLine string, extraArgs []string) (*ExecDetector, error) {
	parts, err := shlex.Split(commandLine)
	if err != nil {
		return nil, fmt.Errorf("parse runner command: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("parse runner command: %w", core.ErrDetectorNotFound)
	}
	return &ExecDetector{
		Command:    parts,
		ExtraArgs:  extraArgs,
		InputFlag:  "--input",
		OutputFlag: "--output",
		GPUEnv:     DefaultGPUEnv,
	}, nil
}

// NewHawkEarsDetector runs analyze.py from a HawkEars checkout at root.
func NewHawkEarsDetector(python, root string, extraArgs []string) (*ExecDetector, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	script := filepath.Join(root, "analyze.py")
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrDetectorNotFound, script)
	}
	if python == "" {
		python = "python3"
	}
	return &ExecDetector{
		Command:    []string{python, script},
		ExtraArgs:  extraArgs,
		InputFlag:  "-i",
		OutputFlag: "-o",
		GPUEnv:     DefaultGPUEnv,
		Dir:        root,
	}, nil
}

// Args returns the full argument list for inv, excluding the program name.
// Paths are made absolute when the detector runs in another directory.
func (d *ExecDetector) Args(inv Invocation) []string {
	input, output := inv.Job.ChunkPath, inv.OutputDir
	if d.Dir != "" {
		input, output = absPath(input), absPath(output)
	}
	args := make([]string, 0, len(d.Command)+4+len(d.ExtraArgs))
	args = append(args, d.Command[1:]...)
	args = append(args, flagOr(d.InputFlag, "--input"), input)
	args = append(args, flagOr(d.OutputFlag, "--output"), output)
	return append(args, d.ExtraArgs...)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Invoke implements Detector. A started process always runs to completion:
// cancelling ctx stops the retries and jobs that follow, not the detector.
func (d *ExecDetector) Invoke(_ context.Context, inv Invocation) (Execution, error) {
	if len(d.Command) == 0 {
		return Execution{}, core.ErrDetectorNotFound
	}

	cmd := exec.Command(d.Command[0], d.Args(inv)...)
	cmd.Dir = d.Dir
	cmd.Env = os.Environ()
	if inv.Slot.IsGPU() {
		cmd.Env = append(cmd.Env, flagOr(d.GPUEnv, DefaultGPUEnv)+"="+strconv.Itoa(inv.Slot.GPU.Index))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Execution{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// ExitCode is -1 when the process was killed by a signal.
			res.ExitCode = exitErr.ExitCode()
			if res.ExitCode == 0 {
				res.ExitCode = -1
			}
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// Name identifies the detector in payloads.
func (d *ExecDetector) Name() string {
	if len(d.Command) == 0 {
		return "exec"
	}
	if len(d.Command) > 1 && filepath.Base(d.Command[1]) == "analyze.py" {
		return "hawkears"
	}
	return filepath.Base(d.Command[0])
}

func flagOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
