package core

// GPUMetrics is a point-in-time utilization and memory sample for one device.
// Nil fields were not reported.
type GPUMetrics struct {
	Index         int  `json:"index"`
	Utilization   *int `json:"utilization"`
	MemoryUsedMB  *int `json:"memory_used_mb"`
	MemoryTotalMB *int `json:"memory_total_mb"`
}

// MetricsSnapshot holds the samples taken around one detector invocation.
type MetricsSnapshot struct {
	Before *GPUMetrics `json:"before,omitempty"`
	After  *GPUMetrics `json:"after,omitempty"`
}

// Empty reports whether neither sample was captured.
func (m *MetricsSnapshot) Empty() bool {
	return m == nil || (m.Before == nil && m.After == nil)
}

// Latest returns the after sample when present, otherwise the before sample.
func (m *MetricsSnapshot) Latest() *GPUMetrics {
	if m == nil {
		return nil
	}
	if m.After != nil {
		return m.After
	}
	return m.Before
}
