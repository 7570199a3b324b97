package telemetry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jdziat/badc/pkg/core"
)

// Record is one scheduler event. Details holds the shape matching Status.
type Record struct {
	ChunkID        string       `json:"chunk_id"`
	GPUIndex       *int         `json:"gpu_index"`
	GPUName        *string      `json:"gpu_name"`
	Status         core.Status  `json:"status"`
	Timestamp      time.Time    `json:"timestamp"`
	FinishedAt     *time.Time   `json:"finished_at"`
	RuntimeSeconds *float64     `json:"runtime_s"`
	Details        core.Details `json:"details"`
}

// NewRecord builds a record for slot. CPU slots leave the GPU fields null.
func NewRecord(job core.InferenceJob, slot core.WorkerSlot, status core.Status, at time.Time, details core.Details) Record {
	rec := Record{
		ChunkID:   job.ChunkID,
		Status:    status,
		Timestamp: at.UTC(),
		Details:   details,
	}
	if slot.GPU != nil {
		index, name := slot.GPU.Index, slot.GPU.Name
		rec.GPUIndex = &index
		rec.GPUName = &name
	}
	return rec
}

// Finish stamps the completion time and the runtime since started.
func (r *Record) Finish(started, finished time.Time) {
	runtime := finished.Sub(started).Seconds()
	finished = finished.UTC()
	r.FinishedAt = &finished
	r.RuntimeSeconds = &runtime
}

// UnmarshalJSON decodes details into the type selected by status.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var raw struct {
		plain
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record(raw.plain)

	var details core.Details
	switch r.Status {
	case core.StatusStart:
		details = &core.StartDetails{}
	case core.StatusSuccess:
		details = &core.SuccessDetails{}
	case core.StatusFailure:
		details = &core.FailureDetails{}
	default:
		r.Details = nil
		return nil
	}
	if len(raw.Details) > 0 && string(raw.Details) != "null" {
		if err := json.Unmarshal(raw.Details, details); err != nil {
			return fmt.Errorf("decode %s details: %w", r.Status, err)
		}
	}
	r.Details = details
	return nil
}

// Load reads every record in a log. A missing file yields no records.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
