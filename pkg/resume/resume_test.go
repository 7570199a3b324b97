package resume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/telemetry"
)

func job(recording, chunk string) core.InferenceJob {
	return core.InferenceJob{RecordingID: recording, ChunkID: chunk, ChunkPath: "/" + chunk + ".wav"}
}

func summaryWith(jobs map[string]core.JobOutcome) *core.RunSummary {
	return &core.RunSummary{TelemetryLog: "run.jsonl", Workers: map[string]core.WorkerStats{}, Jobs: jobs}
}

func TestApply_SkipsCompletedChunk(t *testing.T) {
	f := FromSummary(summaryWith(map[string]core.JobOutcome{
		"c1": {Status: core.StatusSuccess, RecordingID: "r1"},
	}))

	kept, report := f.Apply([]core.InferenceJob{job("r1", "c1"), job("r1", "c2")})

	assert.Equal(t, []core.InferenceJob{job("r1", "c2")}, kept)
	assert.Equal(t, Report{Skipped: 1, Orphaned: 0}, report)
}

func TestApply_IgnoresFailures(t *testing.T) {
	f := FromSummary(summaryWith(map[string]core.JobOutcome{
		"c1": {Status: core.StatusFailure, RecordingID: "r1", Attempts: 3},
		"c2": {Status: core.StatusFailure, RecordingID: "r1", Error: "not started: badc: scheduler stopped after a fatal error"},
	}))

	kept, report := f.Apply([]core.InferenceJob{job("r1", "c1"), job("r1", "c2")})
	assert.Len(t, kept, 2)
	assert.Zero(t, report.Skipped)
	assert.Zero(t, f.Len())
}

func TestApply_RecordingMustMatch(t *testing.T) {
	f := FromSummary(summaryWith(map[string]core.JobOutcome{
		"c1": {Status: core.StatusSuccess, RecordingID: "r2"},
	}))

	kept, report := f.Apply([]core.InferenceJob{job("r1", "c1")})
	assert.Len(t, kept, 1)
	assert.Equal(t, Report{Skipped: 0, Orphaned: 1}, report)
}

func TestApply_NullRecordingIsWildcard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.summary.json")
	legacy := `{"telemetry_log":"x","workers":{},"jobs":{"c1":{"status":"success","recording_id":null},"c9":{"status":"success"}}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	f, err := LoadSummary(path)
	require.NoError(t, err)

	kept, report := f.Apply([]core.InferenceJob{job("r1", "c1"), job("r7", "c2")})
	assert.Equal(t, []core.InferenceJob{job("r7", "c2")}, kept)
	assert.Equal(t, Report{Skipped: 1, Orphaned: 1}, report)
}

func TestApply_Idempotent(t *testing.T) {
	f := FromSummary(summaryWith(map[string]core.JobOutcome{
		"c1": {Status: core.StatusSuccess, RecordingID: "r1"},
		"c3": {Status: core.StatusSuccess, RecordingID: "r1"},
	}))
	jobs := []core.InferenceJob{job("r1", "c1"), job("r1", "c2"), job("r1", "c3"), job("r1", "c4")}

	once, _ := f.Apply(jobs)
	twice, report := f.Apply(once)

	assert.Equal(t, once, twice)
	assert.Zero(t, report.Skipped)
}

func TestApply_EmptyFilterKeepsEverything(t *testing.T) {
	var f *Filter
	jobs := []core.InferenceJob{job("r1", "c1")}

	kept, report := f.Apply(jobs)
	assert.Equal(t, jobs, kept)
	assert.Equal(t, Report{}, report)
}

func TestFromKeysAndMerge(t *testing.T) {
	ledger := FromKeys([]core.ChunkKey{{RecordingID: "r1", ChunkID: "c1"}})
	summary := FromSummary(summaryWith(map[string]core.JobOutcome{
		"c2": {Status: core.StatusSuccess, RecordingID: "r1"},
	}))

	merged := ledger.Merge(summary)
	assert.Equal(t, 2, merged.Len())
	assert.True(t, merged.Completed(job("r1", "c1")))
	assert.True(t, merged.Completed(job("r1", "c2")))
	assert.False(t, merged.Completed(job("r1", "c3")))
	assert.Equal(t, 1, ledger.Len(), "merge must not modify its inputs")
}

func TestLoadSummary_Errors(t *testing.T) {
	_, err := LoadSummary(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))
	_, err = LoadSummary(path)
	assert.ErrorIs(t, err, core.ErrInvalidSummary)
}

func TestLoadSummary_RoundTripWithWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl.summary.json")
	require.NoError(t, telemetry.WriteSummary(path, summaryWith(map[string]core.JobOutcome{
		"c1": {Status: core.StatusSuccess, RecordingID: "r1"},
	})))

	f, err := LoadSummary(path)
	require.NoError(t, err)
	assert.True(t, f.Completed(job("r1", "c1")))
}
