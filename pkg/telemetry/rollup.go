package telemetry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jdziat/badc/pkg/core"
)

// UtilizationStats summarizes utilization samples in percent.
type UtilizationStats struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// DeviceSummary aggregates the records of one device ("GPU n" or "CPU").
type DeviceSummary struct {
	Label           string            `json:"label"`
	Name            string            `json:"name"`
	Events          int               `json:"events"`
	Successes       int               `json:"success"`
	Failures        int               `json:"failures"`
	RetryAttempts   int               `json:"retry_attempts"`
	RetryEvents     int               `json:"retry_events"`
	FailureAttempts int               `json:"failure_attempts"`
	AvgRuntime      *float64          `json:"avg_runtime"`
	Utilization     *UtilizationStats `json:"util_stats"`
	PeakMemoryMB    *int              `json:"max_memory"`
	MemoryTotalMB   *int              `json:"memory_total"`
	LastStatus      core.Status       `json:"last_status"`
	LastChunk       string            `json:"last_chunk"`
}

// Summarize rolls records up per device, sorted by label.
func Summarize(records []Record) []DeviceSummary {
	type acc struct {
		DeviceSummary
		runtimeSum   float64
		runtimeCount int
		util         []float64
	}
	byLabel := make(map[string]*acc)

	for _, rec := range records {
		label := "CPU"
		if rec.GPUIndex != nil {
			label = fmt.Sprintf("GPU %d", *rec.GPUIndex)
		}
		a, ok := byLabel[label]
		if !ok {
			a = &acc{DeviceSummary: DeviceSummary{Label: label, Name: label}}
			byLabel[label] = a
		}
		if rec.GPUName != nil && *rec.GPUName != "" {
			a.Name = *rec.GPUName
		}
		a.Events++

		attempt := 1
		if rec.Details != nil && rec.Details.AttemptNumber() > 1 {
			attempt = rec.Details.AttemptNumber()
		}
		switch core.Status(strings.ToLower(string(rec.Status))) {
		case core.StatusSuccess:
			a.Successes++
			if attempt > 1 {
				a.RetryAttempts += attempt - 1
				a.RetryEvents++
			}
		case core.StatusFailure:
			a.Failures++
			a.FailureAttempts += attempt
		}

		if rec.RuntimeSeconds != nil {
			a.runtimeSum += *rec.RuntimeSeconds
			a.runtimeCount++
		}

		if m := latestMetrics(rec.Details); m != nil {
			if m.Utilization != nil {
				a.util = append(a.util, float64(*m.Utilization))
			}
			if m.MemoryUsedMB != nil && (a.PeakMemoryMB == nil || *m.MemoryUsedMB > *a.PeakMemoryMB) {
				peak := *m.MemoryUsedMB
				a.PeakMemoryMB = &peak
			}
			if m.MemoryTotalMB != nil {
				total := *m.MemoryTotalMB
				a.MemoryTotalMB = &total
			}
		}
		a.LastStatus = rec.Status
		a.LastChunk = rec.ChunkID
	}

	out := make([]DeviceSummary, 0, len(byLabel))
	for _, a := range byLabel {
		s := a.DeviceSummary
		if a.runtimeCount > 0 {
			avg := a.runtimeSum / float64(a.runtimeCount)
			s.AvgRuntime = &avg
		}
		if len(a.util) > 0 {
			stats := UtilizationStats{Min: a.util[0], Max: a.util[0]}
			sum := 0.0
			for _, u := range a.util {
				sum += u
				if u < stats.Min {
					stats.Min = u
				}
				if u > stats.Max {
					stats.Max = u
				}
			}
			stats.Avg = sum / float64(len(a.util))
			s.Utilization = &stats
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func latestMetrics(d core.Details) *core.GPUMetrics {
	switch v := d.(type) {
	case *core.SuccessDetails:
		return v.Metrics.Latest()
	case *core.FailureDetails:
		return v.Metrics.Latest()
	}
	return nil
}
