package core

// WorkerStats accumulates per-slot outcomes over a run.
type WorkerStats struct {
	Success       int `json:"success"`
	Failure       int `json:"failure"`
	Retries       int `json:"retries"`
	FailedRetries int `json:"failed_retries"`
}

// JobOutcome is the final state of one chunk in a run.
type JobOutcome struct {
	Status      Status `json:"status"`
	RecordingID string `json:"recording_id"`
	Attempts    int    `json:"attempts,omitempty"`
	Retries     int    `json:"retries,omitempty"`
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	Worker      string `json:"worker,omitempty"`
}

// RunSummary is written once at the end of a scheduler run and read back to resume.
type RunSummary struct {
	RunID        string                 `json:"run_id,omitempty"`
	TelemetryLog string                 `json:"telemetry_log"`
	Workers      map[string]WorkerStats `json:"workers"`
	Jobs         map[string]JobOutcome  `json:"jobs"`
}

// Succeeded returns the number of jobs with a success outcome.
func (s *RunSummary) Succeeded() int {
	n := 0
	for _, o := range s.Jobs {
		if o.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// Failed returns the number of jobs with a failure outcome.
func (s *RunSummary) Failed() int {
	return len(s.Jobs) - s.Succeeded()
}
