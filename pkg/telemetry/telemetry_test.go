package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/badc/pkg/core"
)

func intPtr(v int) *int { return &v }

var (
	testJob = core.InferenceJob{ChunkID: "rec1_0_1000", RecordingID: "rec1", ChunkPath: "/tmp/rec1_0.wav"}
	gpuSlot = core.WorkerSlot{GPU: &core.GPUWorker{Index: 0, Name: "Quadro"}, Label: "gpu-0"}
	cpuSlot = core.WorkerSlot{Label: "cpu-0"}
	t0      = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func TestSink_AppendWritesOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.jsonl")
	sink, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, sink.Append(NewRecord(testJob, gpuSlot, core.StatusStart, t0, &core.StartDetails{Attempt: 1})))
	require.NoError(t, sink.Append(map[string]any{"probe": true}))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, path, sink.Path())
}

func TestSink_AppendAfterClose(t *testing.T) {
	sink, err := Open(filepath.Join(t.TempDir(), "run.jsonl"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	assert.ErrorIs(t, sink.Append(map[string]int{"a": 1}), os.ErrClosed)
}

func TestSink_ConcurrentAppendsDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	sink, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				job := core.InferenceJob{ChunkID: fmt.Sprintf("w%d_%d", w, i)}
				rec := NewRecord(job, cpuSlot, core.StatusFailure, t0, &core.FailureDetails{
					Attempt: 1, ExitCode: 1, Stderr: strings.Repeat("x", 400),
				})
				assert.NoError(t, sink.Append(rec))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	records, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, records, 400)
}

func TestRecord_JSONShape(t *testing.T) {
	rec := NewRecord(testJob, gpuSlot, core.StatusSuccess, t0, &core.SuccessDetails{
		Attempt: 2,
		Output:  "/out/rec1/rec1_0_1000.json",
		Metrics: &core.MetricsSnapshot{
			Before: &core.GPUMetrics{Index: 0, Utilization: intPtr(10), MemoryUsedMB: intPtr(100), MemoryTotalMB: intPtr(8000)},
		},
	})
	rec.Finish(t0, t0.Add(1500*time.Millisecond))

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "rec1_0_1000", raw["chunk_id"])
	assert.Equal(t, float64(0), raw["gpu_index"])
	assert.Equal(t, "Quadro", raw["gpu_name"])
	assert.Equal(t, "success", raw["status"])
	assert.Equal(t, 1.5, raw["runtime_s"])

	details := raw["details"].(map[string]any)
	assert.Equal(t, float64(2), details["attempt"])
	before := details["gpu_metrics"].(map[string]any)["before"].(map[string]any)
	assert.Equal(t, float64(100), before["memory_used_mb"])
}

func TestRecord_CPUSlotHasNullGPUFields(t *testing.T) {
	data, err := json.Marshal(NewRecord(testJob, cpuSlot, core.StatusStart, t0, &core.StartDetails{Attempt: 1}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"gpu_index":null`)
	assert.Contains(t, string(data), `"gpu_name":null`)
	assert.Contains(t, string(data), `"finished_at":null`)
}

func TestRecord_UnmarshalSelectsDetails(t *testing.T) {
	tests := []struct {
		status core.Status
		body   string
		check  func(t *testing.T, d core.Details)
	}{
		{core.StatusStart, `{"attempt":1}`, func(t *testing.T, d core.Details) {
			assert.IsType(t, &core.StartDetails{}, d)
		}},
		{core.StatusSuccess, `{"attempt":3,"output":"o.json","stdout":"ok"}`, func(t *testing.T, d core.Details) {
			s := d.(*core.SuccessDetails)
			assert.Equal(t, "o.json", s.Output)
			assert.Equal(t, 3, s.AttemptNumber())
		}},
		{core.StatusFailure, `{"attempt":2,"returncode":137,"stderr":"oom"}`, func(t *testing.T, d core.Details) {
			f := d.(*core.FailureDetails)
			assert.Equal(t, 137, f.ExitCode)
			assert.Equal(t, "oom", f.Stderr)
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			line := fmt.Sprintf(`{"chunk_id":"c1","gpu_index":null,"gpu_name":null,"status":%q,"timestamp":"2025-03-01T12:00:00.123456+00:00","finished_at":null,"runtime_s":null,"details":%s}`, tt.status, tt.body)
			var rec Record
			require.NoError(t, json.Unmarshal([]byte(line), &rec))
			assert.Equal(t, "c1", rec.ChunkID)
			assert.Nil(t, rec.GPUIndex)
			tt.check(t, rec.Details)
		})
	}
}

func TestRecord_UnknownStatusDropsDetails(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"chunk_id":"c1","status":"queued","timestamp":"2025-03-01T12:00:00Z","details":{"x":1}}`), &rec))
	assert.Nil(t, rec.Details)
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	records, err := Load(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	log := DefaultLogPath("/data/manifests/GLL site 4.csv", "/tmp/telemetry", now)
	assert.Equal(t, filepath.Join("/tmp/telemetry", "GLL_site_4_20250102T030405Z.jsonl"), log)
	assert.Equal(t, log+".summary.json", SummaryPath(log))
	assert.Equal(t, filepath.Join("p", "rec_20250102T030405Z.jsonl"), ProbeLogPath("rec.wav", "p", now))
}

func TestSummary_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl.summary.json")
	summary := &core.RunSummary{
		RunID:        "run-1",
		TelemetryLog: "run.jsonl",
		Workers:      map[string]core.WorkerStats{"cpu-0": {Success: 1, Failure: 1, FailedRetries: 2}},
		Jobs: map[string]core.JobOutcome{
			"c1": {Status: core.StatusSuccess, RecordingID: "r1", Output: "o.json", Worker: "cpu-0"},
			"c2": {Status: core.StatusFailure, RecordingID: "r1", Attempts: 3, Error: "boom", Worker: "cpu-0"},
		},
	}
	require.NoError(t, WriteSummary(path, summary))

	loaded, err := LoadSummary(path)
	require.NoError(t, err)
	assert.Equal(t, summary, loaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file should be renamed away")
}

func TestLoadSummary_Invalid(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("[1,2"), 0o644))
	_, err := LoadSummary(garbage)
	assert.ErrorIs(t, err, core.ErrInvalidSummary)

	noJobs := filepath.Join(dir, "nojobs.json")
	require.NoError(t, os.WriteFile(noJobs, []byte(`{"telemetry_log":"x"}`), 0o644))
	_, err = LoadSummary(noJobs)
	assert.ErrorIs(t, err, core.ErrInvalidSummary)

	_, err = LoadSummary(filepath.Join(dir, "absent.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSummarize(t *testing.T) {
	gpuMetrics := func(util, used int) *core.MetricsSnapshot {
		return &core.MetricsSnapshot{After: &core.GPUMetrics{Utilization: intPtr(util), MemoryUsedMB: intPtr(used), MemoryTotalMB: intPtr(8000)}}
	}
	success := NewRecord(testJob, gpuSlot, core.StatusSuccess, t0, &core.SuccessDetails{Attempt: 3, Metrics: gpuMetrics(40, 2000)})
	success.Finish(t0, t0.Add(2*time.Second))
	failure := NewRecord(testJob, gpuSlot, core.StatusFailure, t0, &core.FailureDetails{Attempt: 2, Metrics: gpuMetrics(80, 3000)})
	failure.Finish(t0, t0.Add(4*time.Second))

	records := []Record{
		NewRecord(testJob, gpuSlot, core.StatusStart, t0, &core.StartDetails{Attempt: 1}),
		failure,
		success,
		NewRecord(core.InferenceJob{ChunkID: "cpu-chunk"}, cpuSlot, core.StatusStart, t0, &core.StartDetails{Attempt: 1}),
	}

	summaries := Summarize(records)
	require.Len(t, summaries, 2)

	cpu, gpu := summaries[0], summaries[1]
	assert.Equal(t, "CPU", cpu.Label)
	assert.Equal(t, 1, cpu.Events)
	assert.Equal(t, "cpu-chunk", cpu.LastChunk)
	assert.Nil(t, cpu.AvgRuntime)

	assert.Equal(t, "GPU 0", gpu.Label)
	assert.Equal(t, "Quadro", gpu.Name)
	assert.Equal(t, 3, gpu.Events)
	assert.Equal(t, 1, gpu.Successes)
	assert.Equal(t, 1, gpu.Failures)
	assert.Equal(t, 2, gpu.RetryAttempts)
	assert.Equal(t, 1, gpu.RetryEvents)
	assert.Equal(t, 2, gpu.FailureAttempts)
	require.NotNil(t, gpu.AvgRuntime)
	assert.InDelta(t, 3.0, *gpu.AvgRuntime, 1e-9)
	require.NotNil(t, gpu.Utilization)
	assert.Equal(t, UtilizationStats{Min: 40, Avg: 60, Max: 80}, *gpu.Utilization)
	assert.Equal(t, 3000, *gpu.PeakMemoryMB)
	assert.Equal(t, 8000, *gpu.MemoryTotalMB)
	assert.Equal(t, core.StatusSuccess, gpu.LastStatus)
}
