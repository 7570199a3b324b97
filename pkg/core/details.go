package core

// Details is the payload attached to a telemetry record.
// It is one of StartDetails, SuccessDetails or FailureDetails.
type Details interface {
	detailsMarker()
	AttemptNumber() int
}

// StartDetails accompanies a start event.
type StartDetails struct {
	Attempt int `json:"attempt"`
}

func (*StartDetails) detailsMarker() {}

// AttemptNumber returns the 1-based attempt.
func (d *StartDetails) AttemptNumber() int { return d.Attempt }

// SuccessDetails accompanies a success event.
type SuccessDetails struct {
	Attempt int              `json:"attempt"`
	Output  string           `json:"output"`
	Stdout  string           `json:"stdout,omitempty"`
	Note    string           `json:"note,omitempty"`
	Metrics *MetricsSnapshot `json:"gpu_metrics,omitempty"`
}

func (*SuccessDetails) detailsMarker() {}

// AttemptNumber returns the 1-based attempt.
func (d *SuccessDetails) AttemptNumber() int { return d.Attempt }

// FailureDetails accompanies a failure event.
type FailureDetails struct {
	Attempt  int              `json:"attempt"`
	ExitCode int              `json:"returncode"`
	Stderr   string           `json:"stderr,omitempty"`
	Error    string           `json:"error,omitempty"`
	Metrics  *MetricsSnapshot `json:"gpu_metrics,omitempty"`
}

func (*FailureDetails) detailsMarker() {}

// AttemptNumber returns the 1-based attempt.
func (d *FailureDetails) AttemptNumber() int { return d.Attempt }
