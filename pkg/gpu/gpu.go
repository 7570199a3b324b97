package gpu

import (
	"context"

	"github.com/jdziat/badc/pkg/core"
)

// Device is one detected GPU.
type Device struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	MemoryTotalMB int    `json:"memory_total_mb"`
}

// Worker returns the worker identity for the device.
func (d Device) Worker() core.GPUWorker {
	return core.GPUWorker{Index: d.Index, Name: d.Name}
}

// Detection is the result of an inventory query.
type Detection struct {
	Devices []Device
	// Diagnostic explains why detection found nothing. Display only.
	Diagnostic string
}

// Find returns the device with the given index.
func (d Detection) Find(index int) (Device, bool) {
	for _, dev := range d.Devices {
		if dev.Index == index {
			return dev, true
		}
	}
	return Device{}, false
}

// Inventory supplies the device list and point-in-time device metrics.
type Inventory interface {
	Detect(ctx context.Context) Detection
	// Metrics samples one device. The bool is false when the sample is unavailable.
	Metrics(ctx context.Context, index int) (core.GPUMetrics, bool)
}

// Static is a fixed inventory, used for CPU-only runs and tests.
type Static struct {
	Devices    []Device
	Diagnostic string
	// Samples maps a device index to the metrics Metrics returns for it.
	Samples map[int]core.GPUMetrics
}

// Detect implements Inventory.
func (s *Static) Detect(context.Context) Detection {
	devices := make([]Device, len(s.Devices))
	copy(devices, s.Devices)
	return Detection{Devices: devices, Diagnostic: s.Diagnostic}
}

// Metrics implements Inventory.
func (s *Static) Metrics(_ context.Context, index int) (core.GPUMetrics, bool) {
	m, ok := s.Samples[index]
	return m, ok
}
