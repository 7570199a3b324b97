package core

import (
	"errors"
	"fmt"
)

// Configuration errors
var (
	ErrInvalidManifest      = errors.New("badc: invalid manifest")
	ErrMissingColumn        = errors.New("badc: manifest is missing a required column")
	ErrInvalidChunkID       = errors.New("badc: invalid chunk id")
	ErrInvalidRecordingID   = errors.New("badc: invalid recording id")
	ErrDuplicateChunkID     = errors.New("badc: duplicate chunk id")
	ErrNonPositiveDuration  = errors.New("badc: duration must be positive")
	ErrNonPositiveTolerance = errors.New("badc: tolerance must be positive")
	ErrEmptyAudio           = errors.New("badc: audio has zero duration or unreadable metadata")
	ErrInvalidWAV           = errors.New("badc: not a readable WAV file")
	ErrRunnerConflict       = errors.New("badc: use either a runner command or hawkears, not both")
	ErrInvalidSummary       = errors.New("badc: invalid run summary")
)

// Scheduling errors
var (
	ErrEmptyWorkerPool   = errors.New("badc: worker pool is empty")
	ErrSchedulerStopped  = errors.New("badc: scheduler stopped after a fatal error")
	ErrDetectorNotFound  = errors.New("badc: detector executable not found")
	ErrNoJobs            = errors.New("badc: no jobs to schedule")
	ErrLedgerUnavailable = errors.New("badc: run ledger unavailable")
)

// JobExecutionError is raised once a job has exhausted its retry budget.
type JobExecutionError struct {
	ChunkID  string
	Attempts int
	Err      error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("detector failed for %s after %d attempt(s): %v", e.ChunkID, e.Attempts, e.Err)
}

func (e *JobExecutionError) Unwrap() error {
	return e.Err
}

// ExitError reports a detector process that exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ManifestError locates a bad manifest row.
type ManifestError struct {
	Line int
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest line %d: %v", e.Line, e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// ConfigError names the configuration field that failed validation.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
