package core

// AudioMetadata describes the source recording being probed.
type AudioMetadata struct {
	DurationSeconds  float64
	SampleRate       int
	Channels         int
	SampleWidthBytes int
}

// ChunkProbeAttempt records one candidate duration evaluation.
type ChunkProbeAttempt struct {
	DurationSeconds   float64 `json:"duration_s"`
	EstimatedMemoryMB float64 `json:"estimated_vram_mb"`
	Fits              bool    `json:"fits"`
	Reason            string  `json:"reason"`
}

// ChunkProbeResult is the recommendation produced by a probe run.
type ChunkProbeResult struct {
	File               string              `json:"file"`
	MaxDurationSeconds float64             `json:"max_duration_s"`
	Strategy           string              `json:"strategy"`
	Notes              string              `json:"notes"`
	Attempts           []ChunkProbeAttempt `json:"attempts"`
	LogPath            string              `json:"log_path,omitempty"`
}
