package gpu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jdziat/badc/pkg/core"
)

// DefaultBinary is the nvidia-smi executable looked up on PATH.
const DefaultBinary = "nvidia-smi"

// CommandRunner runs a program and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// NvidiaSMI queries devices through the nvidia-smi tool.
type NvidiaSMI struct {
	Binary string
	Run    CommandRunner
	Logger *slog.Logger
}

// NewNvidiaSMI returns an inventory backed by binary, or DefaultBinary when empty.
func NewNvidiaSMI(binary string) *NvidiaSMI {
	if binary == "" {
		binary = DefaultBinary
	}
	return &NvidiaSMI{Binary: binary, Run: execRunner, Logger: slog.Default()}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(string(out))
		}
		if msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

func (n *NvidiaSMI) run(ctx context.Context, args ...string) ([]byte, error) {
	run := n.Run
	if run == nil {
		run = execRunner
	}
	binary := n.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	return run(ctx, binary, args...)
}

func (n *NvidiaSMI) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

// Detect implements Inventory.
func (n *NvidiaSMI) Detect(ctx context.Context) Detection {
	out, err := n.run(ctx, "--query-gpu=index,name,memory.total", "--format=csv,noheader")
	if err != nil {
		return Detection{Diagnostic: diagnose(err)}
	}
	devices, err := ParseInventory(string(out))
	if err != nil {
		return Detection{Diagnostic: fmt.Sprintf("Unable to parse nvidia-smi output: %v", err)}
	}
	if len(devices) == 0 {
		return Detection{Diagnostic: "nvidia-smi reported no GPUs."}
	}
	return Detection{Devices: devices}
}

// Metrics implements Inventory.
func (n *NvidiaSMI) Metrics(ctx context.Context, index int) (core.GPUMetrics, bool) {
	out, err := n.run(ctx,
		fmt.Sprintf("--id=%d", index),
		"--query-gpu=utilization.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		n.logger().Debug("gpu metrics unavailable", "gpu_index", index, "error", err)
		return core.GPUMetrics{}, false
	}
	return ParseMetrics(index, string(out))
}

func diagnose(err error) string {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return "nvidia-smi not found on PATH; running without GPU acceleration."
	}
	msg := err.Error()
	if strings.Contains(msg, "Insufficient Permissions") {
		return "nvidia-smi reported 'Insufficient Permissions'. Ensure the current user can access the NVIDIA driver (e.g. via the video group)."
	}
	return fmt.Sprintf("nvidia-smi failed: %s", msg)
}

// ParseInventory parses `index, name, memory.total` CSV rows as printed by
// nvidia-smi with --format=csv,noheader. Memory may carry a " MiB" suffix.
func ParseInventory(out string) ([]Device, error) {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			return nil, fmt.Errorf("unexpected row %q", line)
		}
		index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("bad index in %q: %w", line, err)
		}
		memField := strings.TrimSpace(parts[len(parts)-1])
		name := strings.TrimSpace(strings.Join(parts[1:len(parts)-1], ","))
		mem, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(memField, "MiB")))
		if err != nil {
			return nil, fmt.Errorf("bad memory in %q: %w", line, err)
		}
		devices = append(devices, Device{Index: index, Name: name, MemoryTotalMB: mem})
	}
	return devices, nil
}

// ParseMetrics parses one `utilization, memory.used, memory.total` row printed
// with nounits. Fields that do not parse are left nil.
func ParseMetrics(index int, out string) (core.GPUMetrics, bool) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	if line == "" {
		return core.GPUMetrics{}, false
	}
	parts := strings.Split(line, ",")
	if len(parts) < 3 {
		return core.GPUMetrics{}, false
	}
	return core.GPUMetrics{
		Index:         index,
		Utilization:   parseOptional(parts[0]),
		MemoryUsedMB:  parseOptional(parts[1]),
		MemoryTotalMB: parseOptional(parts[2]),
	}, true
}

func parseOptional(s string) *int {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		v := int(f)
		return &v
	}
	return nil
}
