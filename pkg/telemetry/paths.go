package telemetry

import (
	"path/filepath"
	"time"

	"github.com/jdziat/badc/pkg/manifest"
)

// StampLayout formats the UTC timestamp embedded in default log names.
const StampLayout = "20060102T150405Z"

// SummarySuffix is appended to a telemetry log path to locate its run summary.
const SummarySuffix = ".summary.json"

// DefaultLogPath returns {baseDir}/{slug}_{stamp}.jsonl for a manifest.
func DefaultLogPath(source, baseDir string, now time.Time) string {
	return stampedPath(source, baseDir, now)
}

// ProbeLogPath returns {baseDir}/{slug}_{stamp}.jsonl for a probed audio file.
func ProbeLogPath(audio, baseDir string, now time.Time) string {
	return stampedPath(audio, baseDir, now)
}

func stampedPath(source, baseDir string, now time.Time) string {
	name := manifest.RecordingSlug(source) + "_" + now.UTC().Format(StampLayout) + ".jsonl"
	return filepath.Join(baseDir, name)
}

// SummaryPath returns the run summary location for a telemetry log.
func SummaryPath(logPath string) string {
	return logPath + SummarySuffix
}
