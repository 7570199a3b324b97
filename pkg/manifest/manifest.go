package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/security"
)

// Column names understood by the parser.
const (
	ColRecordingID = "recording_id"
	ColChunkID     = "chunk_id"
	ColSourcePath  = "source_path"
	ColStartMS     = "start_ms"
	ColEndMS       = "end_ms"
	ColOverlapMS   = "overlap_ms"
	ColSHA256      = "sha256"
	ColNotes       = "notes"
)

var requiredColumns = []string{ColRecordingID, ColChunkID, ColSourcePath}

// Load opens path and parses it as a chunk manifest.
func Load(path string) ([]core.InferenceJob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	jobs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return jobs, nil
}

// Parse reads a chunk manifest from r.
func Parse(r io.Reader) ([]core.InferenceJob, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty manifest", core.ErrInvalidManifest)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidManifest, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		index[name] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrMissingColumn, col)
		}
	}

	var jobs []core.InferenceJob
	seen := make(map[string]int)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, &core.ManifestError{Line: line, Err: err}
		}
		if isBlank(record) {
			continue
		}

		job, err := parseRow(index, record)
		if err != nil {
			return nil, &core.ManifestError{Line: line, Err: err}
		}
		// Run summaries are keyed by chunk id alone.
		if first, ok := seen[job.ChunkID]; ok {
			return nil, &core.ManifestError{Line: line, Err: fmt.Errorf("%w: %q already on line %d", core.ErrDuplicateChunkID, job.ChunkID, first)}
		}
		seen[job.ChunkID] = line
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func parseRow(index map[string]int, record []string) (core.InferenceJob, error) {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	job := core.InferenceJob{
		RecordingID: field(ColRecordingID),
		ChunkID:     field(ColChunkID),
		ChunkPath:   field(ColSourcePath),
		SHA256:      field(ColSHA256),
		Notes:       field(ColNotes),
	}

	if err := security.ValidateChunkID(job.ChunkID); err != nil {
		return job, fmt.Errorf("%w: %q", err, job.ChunkID)
	}
	if err := security.ValidateRecordingID(job.RecordingID); err != nil {
		return job, fmt.Errorf("%w: %q", err, job.RecordingID)
	}
	if job.ChunkPath == "" {
		return job, fmt.Errorf("%w: empty source_path", core.ErrInvalidManifest)
	}

	var err error
	if job.StartMS, err = optionalInt(ColStartMS, field(ColStartMS)); err != nil {
		return job, err
	}
	if job.EndMS, err = optionalInt(ColEndMS, field(ColEndMS)); err != nil {
		return job, err
	}
	if job.OverlapMS, err = optionalInt(ColOverlapMS, field(ColOverlapMS)); err != nil {
		return job, err
	}
	return job, nil
}

func optionalInt(column, value string) (*int64, error) {
	if value == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q is not an integer", core.ErrInvalidManifest, column, value)
	}
	return &n, nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// RecordingSlug derives a job-source identifier from a manifest or audio path:
// the file stem with spaces replaced by underscores.
func RecordingSlug(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "run"
	}
	return strings.ReplaceAll(stem, " ", "_")
}
