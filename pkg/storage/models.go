package storage

import (
	"time"

	"github.com/jdziat/badc/pkg/core"
)

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one scheduler run over a job source.
type Run struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Source       string    `gorm:"size:1024;index"`
	TelemetryLog string    `gorm:"size:1024"`
	SummaryPath  string    `gorm:"size:1024"`
	Status       RunStatus `gorm:"size:16;index"`
	Error        string    `gorm:"type:text"`
	Jobs         int
	Failed       int
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   *time.Time
}

// ChunkOutcome is the final state of one chunk within a run.
type ChunkOutcome struct {
	RunID       string      `gorm:"primaryKey;size:36"`
	RecordingID string      `gorm:"primaryKey;size:255"`
	ChunkID     string      `gorm:"primaryKey;size:255"`
	Status      core.Status `gorm:"size:16;index"`
	Attempts    int
	Retries     int
	Output      string `gorm:"size:1024"`
	Error       string `gorm:"type:text"`
	Worker      string `gorm:"size:64"`
	UpdatedAt   time.Time
}
