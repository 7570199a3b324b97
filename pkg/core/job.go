package core

// Status is the state carried by telemetry events and job outcomes.
type Status string

const (
	StatusStart   Status = "start"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// InferenceJob is one audio chunk to run through the detector.
// Jobs are parsed from a chunk manifest and never mutated afterwards.
type InferenceJob struct {
	ChunkID     string
	ChunkPath   string
	RecordingID string

	// Provenance carried through from the manifest. Nil offsets were blank.
	StartMS   *int64
	EndMS     *int64
	OverlapMS *int64
	SHA256    string
	Notes     string
}

// Key returns the (recording, chunk) pair identifying the job across runs.
func (j InferenceJob) Key() ChunkKey {
	return ChunkKey{RecordingID: j.RecordingID, ChunkID: j.ChunkID}
}

// ChunkKey identifies a chunk within a recording.
// An empty RecordingID matches any recording.
type ChunkKey struct {
	RecordingID string
	ChunkID     string
}

// GPUWorker identifies a GPU device slot.
type GPUWorker struct {
	Index int
	Name  string
}

// WorkerSlot is one concurrent execution lane. A nil GPU denotes a CPU-only slot.
type WorkerSlot struct {
	GPU   *GPUWorker
	Label string
}

// IsGPU reports whether the slot is bound to a GPU device.
func (s WorkerSlot) IsGPU() bool {
	return s.GPU != nil
}

// JobResult is the success outcome of one job.
type JobResult struct {
	OutputPath string
	Attempts   int
	Retries    int
}
