package worker

import (
	"fmt"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/gpu"
	"github.com/jdziat/badc/pkg/security"
)

// Plan is an ordered, non-empty list of worker slots plus display notes.
type Plan struct {
	Slots []core.WorkerSlot
	Notes []string
}

// Labels returns the slot labels in order.
func (p Plan) Labels() []string {
	labels := make([]string, len(p.Slots))
	for i, s := range p.Slots {
		labels[i] = s.Label
	}
	return labels
}

// GPUCount returns the number of GPU-bound slots.
func (p Plan) GPUCount() int {
	n := 0
	for _, s := range p.Slots {
		if s.IsGPU() {
			n++
		}
	}
	return n
}

// PlanSlots builds one slot per detected GPU, capped at maxGPUs when it is
// non-nil, followed by cpuWorkers CPU slots. With no GPUs at least one CPU
// slot is planned.
func PlanSlots(det gpu.Detection, maxGPUs *int, cpuWorkers int) Plan {
	var plan Plan
	if det.Diagnostic != "" {
		plan.Notes = append(plan.Notes, det.Diagnostic)
	}

	devices := det.Devices
	if maxGPUs != nil {
		limit := *maxGPUs
		if limit < 0 {
			limit = 0
		}
		if limit < len(devices) {
			devices = devices[:limit]
		}
	}
	if len(devices) > security.MaxWorkers {
		devices = devices[:security.MaxWorkers]
	}
	for _, d := range devices {
		w := d.Worker()
		plan.Slots = append(plan.Slots, core.WorkerSlot{GPU: &w, Label: fmt.Sprintf("gpu-%d", d.Index)})
	}

	cpuCount := security.ClampWorkers(cpuWorkers)
	if len(plan.Slots) == 0 {
		cpuCount = max(cpuCount, 1)
		if len(det.Devices) > 0 {
			plan.Notes = append(plan.Notes, fmt.Sprintf("GPU use disabled (max-gpus=%d); running on CPU with %d worker(s).", *maxGPUs, cpuCount))
		} else {
			plan.Notes = append(plan.Notes, fmt.Sprintf("No GPUs detected; running on CPU with %d worker(s).", cpuCount))
		}
	} else if cpuCount > 0 {
		plan.Notes = append(plan.Notes, fmt.Sprintf("Adding %d CPU worker(s) alongside %d GPU worker(s).", cpuCount, len(plan.Slots)))
	}
	for i := 0; i < cpuCount; i++ {
		plan.Slots = append(plan.Slots, core.WorkerSlot{Label: fmt.Sprintf("cpu-%d", i)})
	}
	return plan
}
