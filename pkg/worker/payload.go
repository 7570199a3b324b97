package worker

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/telemetry"
)

// LabelsFilename is the CSV HawkEars writes into its output directory.
const LabelsFilename = "HawkEars_labels.csv"

// Payload statuses.
const (
	PayloadOK           = "ok"
	PayloadNoDetections = "no_detections"
	PayloadNoOutput     = "no_output"
	PayloadStub         = "stub"
)

// Detection is one labelled interval within a chunk.
type Detection struct {
	TimestampMS *int64   `json:"timestamp_ms"`
	EndMS       *int64   `json:"end_ms"`
	Label       string   `json:"label"`
	LabelCode   *string  `json:"label_code"`
	LabelName   *string  `json:"label_name"`
	Confidence  *float64 `json:"confidence"`
}

// ChunkInfo carries manifest provenance into the payload.
type ChunkInfo struct {
	StartMS   *int64 `json:"start_ms"`
	EndMS     *int64 `json:"end_ms"`
	OverlapMS *int64 `json:"overlap_ms"`
	SHA256    string `json:"sha256"`
	Notes     string `json:"notes"`
}

// Payload is the canonical per-chunk result document.
type Payload struct {
	ChunkID        string                `json:"chunk_id"`
	RecordingID    string                `json:"recording_id"`
	SourcePath     string                `json:"source_path"`
	Status         string                `json:"status"`
	Detections     []Detection           `json:"detections"`
	Chunk          ChunkInfo             `json:"chunk"`
	Runner         string                `json:"runner"`
	Attempt        int                   `json:"attempt,omitempty"`
	ModelVersion   string                `json:"model_version,omitempty"`
	DatasetRoot    string                `json:"dataset_root,omitempty"`
	HawkEarsOutput string                `json:"hawkears_output,omitempty"`
	GPUMetrics     *core.MetricsSnapshot `json:"gpu_metrics,omitempty"`
}

// NewPayload fills the job fields of a payload.
func NewPayload(job core.InferenceJob, runner, status string) Payload {
	return Payload{
		ChunkID:     job.ChunkID,
		RecordingID: job.RecordingID,
		SourcePath:  job.ChunkPath,
		Status:      status,
		Detections:  []Detection{},
		Chunk: ChunkInfo{
			StartMS:   job.StartMS,
			EndMS:     job.EndMS,
			OverlapMS: job.OverlapMS,
			SHA256:    job.SHA256,
			Notes:     job.Notes,
		},
		Runner: runner,
	}
}

// ParseLabels reads detections for the named chunk files from a HawkEars
// labels CSV. Rows for other files are dropped unless chunkNames is empty.
// The status is PayloadNoOutput when the file does not exist.
func ParseLabels(path string, chunkNames ...string) ([]Detection, string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Detection{}, PayloadNoOutput, nil
	}
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	detections, err := parseLabels(f, chunkNames)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	if len(detections) == 0 {
		return detections, PayloadNoDetections, nil
	}
	return detections, PayloadOK, nil
}

func parseLabels(r io.Reader, chunkNames []string) ([]Detection, error) {
	names := make(map[string]bool, len(chunkNames))
	for _, n := range chunkNames {
		if n != "" {
			names[filepath.Base(n)] = true
		}
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []Detection{}, nil
	}
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}

	detections := []Detection{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		filename := filepath.Base(get("filename"))
		if len(names) > 0 && get("filename") != "" && !names[filename] {
			continue
		}

		d := Detection{
			TimestampMS: secondsToMS(get("start_time")),
			EndMS:       secondsToMS(get("end_time")),
			LabelCode:   nonEmpty(get("class_code")),
			LabelName:   nonEmpty(get("class_name")),
		}
		switch {
		case d.LabelCode != nil:
			d.Label = *d.LabelCode
		case d.LabelName != nil:
			d.Label = *d.LabelName
		default:
			d.Label = "unknown"
		}
		if score, err := strconv.ParseFloat(get("score"), 64); err == nil {
			d.Confidence = &score
		}
		detections = append(detections, d)
	}
	return detections, nil
}

func secondsToMS(v string) *int64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	ms := int64(f * 1000)
	return &ms
}

func nonEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// WritePayload writes p as indented JSON, replacing any previous file atomically.
func WritePayload(path string, p Payload) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return telemetry.WriteFileAtomic(path, append(data, '\n'))
}
