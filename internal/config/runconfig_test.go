package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/badc/pkg/core"
)

func defaults(t *testing.T) Defaults {
	t.Helper()
	d, err := ParseDefaults(map[string]string{})
	require.NoError(t, err)
	return d
}

func TestLoadRunConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hawkears.toml")
	content := `
[runner]
manifest = "manifests/rec.csv"
output_dir = "out"
telemetry_log = "logs/rec.jsonl"
max_retries = 4
max_gpus = 1
cpu_workers = 2
use_hawkears = true
resume_summary = "logs/prev.jsonl.summary.json"

[hawkears]
extra_args = ["--min_score", 0.6, 3]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadRunConfig(path, defaults(t))
	require.NoError(t, err)

	assert.Equal(t, "manifests/rec.csv", cfg.Manifest)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.Equal(t, "logs/rec.jsonl", cfg.TelemetryLog)
	assert.Equal(t, 4, cfg.MaxRetries)
	require.NotNil(t, cfg.MaxGPUs)
	assert.Equal(t, 1, *cfg.MaxGPUs)
	assert.Equal(t, 2, cfg.CPUWorkers)
	assert.True(t, cfg.UseHawkEars)
	assert.Equal(t, []string{"--min_score", "0.6", "3"}, cfg.HawkEarsArgs)
	assert.Equal(t, "logs/prev.jsonl.summary.json", cfg.ResumeSummary)
	assert.Empty(t, cfg.Unknown)
}

func TestParseRunConfig_DefaultsApplied(t *testing.T) {
	cfg, err := ParseRunConfig("[runner]\nmanifest = \"m.csv\"\n", defaults(t))
	require.NoError(t, err)

	assert.Equal(t, "artifacts/infer", cfg.OutputDir)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Nil(t, cfg.MaxGPUs)
	assert.False(t, cfg.UseHawkEars)
	assert.Empty(t, cfg.HawkEarsArgs)
}

func TestParseRunConfig_ExtraArgsString(t *testing.T) {
	cfg, err := ParseRunConfig("[runner]\nmanifest = \"m.csv\"\n[hawkears]\nextra_args = \"--fast\"\n", defaults(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"--fast"}, cfg.HawkEarsArgs)

	cfg, err = ParseRunConfig("[runner]\nmanifest = \"m.csv\"\n[hawkears.extra_args]\n", defaults(t))
	require.NoError(t, err)
	assert.Empty(t, cfg.HawkEarsArgs)
}

func TestParseRunConfig_Errors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"missing runner", "[hawkears]\nextra_args = []\n", "[runner]"},
		{"missing manifest", "[runner]\noutput_dir = \"x\"\n", "runner.manifest"},
		{"extra args number", "[runner]\nmanifest = \"m.csv\"\n[hawkears]\nextra_args = 5\n", "hawkears.extra_args"},
		{"extra args table", "[runner]\nmanifest = \"m.csv\"\n[hawkears.extra_args]\nx = 1\n", "hawkears.extra_args"},
		{"nested list", "[runner]\nmanifest = \"m.csv\"\n[hawkears]\nextra_args = [[\"a\"]]\n", "hawkears.extra_args"},
		{"negative retries", "[runner]\nmanifest = \"m.csv\"\nmax_retries = -1\n", "runner.max_retries"},
		{"runner conflict", "[runner]\nmanifest = \"m.csv\"\nrunner_cmd = \"x\"\nuse_hawkears = true\n", "runner.runner_cmd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRunConfig(tt.doc, defaults(t))
			var cfgErr *core.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestParseRunConfig_RunnerConflictIsSentinel(t *testing.T) {
	_, err := ParseRunConfig("[runner]\nmanifest = \"m.csv\"\nrunner_cmd = \"x\"\nuse_hawkears = true\n", defaults(t))
	assert.ErrorIs(t, err, core.ErrRunnerConflict)
}

func TestParseRunConfig_UnknownKeys(t *testing.T) {
	cfg, err := ParseRunConfig("[runner]\nmanifest = \"m.csv\"\nworkers = 3\n[extra]\nx = 1\n", defaults(t))
	require.NoError(t, err)
	assert.Contains(t, cfg.Unknown, "extra.x")
	assert.Contains(t, cfg.Unknown, "runner.workers")
	assert.NotContains(t, cfg.Unknown, "runner.manifest")
}

func TestParseRunConfig_Malformed(t *testing.T) {
	_, err := ParseRunConfig("[runner\nmanifest=", defaults(t))
	assert.Error(t, err)
}
