package probe

import (
	"fmt"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/gpu"
)

const (
	// float32 upcast during feature extraction.
	upcastFactor = 4
	// Convolution padding and intermediate tensors.
	overheadFactor = 1.35

	// FallbackBudgetMB is used when no GPU is available.
	FallbackBudgetMB = 4096.0
	// BudgetFraction of a device's total memory is considered usable.
	BudgetFraction = 0.8
)

// EstimateMemoryMB approximates the GPU memory in MiB needed for a chunk.
func EstimateMemoryMB(durationSeconds float64, meta core.AudioMetadata) float64 {
	bytesPerSecond := float64(meta.SampleRate * meta.Channels * meta.SampleWidthBytes)
	total := bytesPerSecond * upcastFactor * overheadFactor * durationSeconds
	return total / (1 << 20)
}

// Budget is the memory ceiling used to judge candidate durations.
type Budget struct {
	// Device is nil when the fallback budget applies.
	Device  *gpu.Device
	LimitMB float64
	Notes   string
}

// SelectBudget picks the preferred device when present, else the first one,
// else the fallback budget.
func SelectBudget(det gpu.Detection, preferred *int) Budget {
	if len(det.Devices) == 0 {
		notes := "Assumed 4 GiB limit (no GPUs detected)"
		if det.Diagnostic != "" {
			notes = fmt.Sprintf("Assumed 4 GiB limit (GPU detection failed: %s)", det.Diagnostic)
		}
		return Budget{LimitMB: FallbackBudgetMB, Notes: notes}
	}

	dev := det.Devices[0]
	if preferred != nil {
		if d, ok := det.Find(*preferred); ok {
			dev = d
		}
	}
	limit := max(1.0, float64(dev.MemoryTotalMB)*BudgetFraction)
	return Budget{
		Device:  &dev,
		LimitMB: limit,
		Notes:   fmt.Sprintf("GPU %d (%s) limit %.0f MiB", dev.Index, dev.Name, limit),
	}
}
