// Package resume removes jobs that a previous run already completed.
package resume

import (
	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/telemetry"
)

// Filter holds the (recording, chunk) pairs a previous run completed. An
// entry with an empty recording id matches the chunk in any recording.
type Filter struct {
	completed map[core.ChunkKey]struct{}
}

// Report describes one Apply call.
type Report struct {
	// Skipped is the number of jobs removed.
	Skipped int
	// Orphaned is the number of completed entries that matched no job.
	Orphaned int
}

// FromKeys builds a filter from completed chunk keys.
func FromKeys(keys []core.ChunkKey) *Filter {
	f := &Filter{completed: make(map[core.ChunkKey]struct{}, len(keys))}
	for _, k := range keys {
		f.completed[k] = struct{}{}
	}
	return f
}

// FromSummary builds a filter from the successful jobs in summary.
func FromSummary(summary *core.RunSummary) *Filter {
	f := &Filter{completed: make(map[core.ChunkKey]struct{})}
	if summary == nil {
		return f
	}
	for chunkID, outcome := range summary.Jobs {
		if outcome.Status != core.StatusSuccess {
			continue
		}
		f.completed[core.ChunkKey{RecordingID: outcome.RecordingID, ChunkID: chunkID}] = struct{}{}
	}
	return f
}

// LoadSummary reads a run summary file and builds a filter from it.
func LoadSummary(path string) (*Filter, error) {
	summary, err := telemetry.LoadSummary(path)
	if err != nil {
		return nil, err
	}
	return FromSummary(summary), nil
}

// Merge returns a filter holding the entries of both filters.
func (f *Filter) Merge(other *Filter) *Filter {
	merged := &Filter{completed: make(map[core.ChunkKey]struct{}, f.Len()+other.Len())}
	for _, src := range []*Filter{f, other} {
		if src == nil {
			continue
		}
		for k := range src.completed {
			merged.completed[k] = struct{}{}
		}
	}
	return merged
}

// Len returns the number of completed entries.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.completed)
}

// Completed reports whether job was completed by the previous run.
func (f *Filter) Completed(job core.InferenceJob) bool {
	_, ok := f.match(job)
	return ok
}

func (f *Filter) match(job core.InferenceJob) (core.ChunkKey, bool) {
	if f.Len() == 0 {
		return core.ChunkKey{}, false
	}
	if _, ok := f.completed[job.Key()]; ok {
		return job.Key(), true
	}
	wildcard := core.ChunkKey{ChunkID: job.ChunkID}
	if _, ok := f.completed[wildcard]; ok {
		return wildcard, true
	}
	return core.ChunkKey{}, false
}

// Apply returns the jobs not yet completed, in their original order.
func (f *Filter) Apply(jobs []core.InferenceJob) ([]core.InferenceJob, Report) {
	kept := make([]core.InferenceJob, 0, len(jobs))
	matched := make(map[core.ChunkKey]struct{})
	var report Report

	for _, job := range jobs {
		if key, ok := f.match(job); ok {
			matched[key] = struct{}{}
			report.Skipped++
			continue
		}
		kept = append(kept, job)
	}
	report.Orphaned = f.Len() - len(matched)
	return kept, report
}
