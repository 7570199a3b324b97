package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/jdziat/badc/pkg/core"
)

// RunConfig is an inference run described by a TOML file:
//
//	[runner]
//	manifest = "manifests/rec.csv"
//	use_hawkears = true
//	max_gpus = 2
//
//	[hawkears]
//	extra_args = ["--min_score", "0.6"]
type RunConfig struct {
	Manifest      string
	OutputDir     string
	RunnerCmd     string
	TelemetryLog  string
	MaxRetries    int
	MaxGPUs       *int
	CPUWorkers    int
	UseHawkEars   bool
	HawkEarsArgs  []string
	ResumeSummary string
	Ledger        string
	// Unknown lists keys present in the file that were not recognised.
	Unknown []string
}

type runnerTable struct {
	Manifest      string `toml:"manifest"`
	OutputDir     string `toml:"output_dir"`
	RunnerCmd     string `toml:"runner_cmd"`
	TelemetryLog  string `toml:"telemetry_log"`
	MaxRetries    *int   `toml:"max_retries"`
	MaxGPUs       *int   `toml:"max_gpus"`
	CPUWorkers    *int   `toml:"cpu_workers"`
	UseHawkEars   bool   `toml:"use_hawkears"`
	ResumeSummary string `toml:"resume_summary"`
	Ledger        string `toml:"ledger"`
}

type runFile struct {
	Runner   *runnerTable `toml:"runner"`
	HawkEars struct {
		ExtraArgs any `toml:"extra_args"`
	} `toml:"hawkears"`
}

// LoadRunConfig parses the TOML file at path, filling absent keys from d.
func LoadRunConfig(path string, d Defaults) (*RunConfig, error) {
	var file runFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return buildRunConfig(file, meta, d)
}

// ParseRunConfig is LoadRunConfig for an in-memory document.
func ParseRunConfig(data string, d Defaults) (*RunConfig, error) {
	var file runFile
	meta, err := toml.Decode(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run config: %w", err)
	}
	return buildRunConfig(file, meta, d)
}

func buildRunConfig(file runFile, meta toml.MetaData, d Defaults) (*RunConfig, error) {
	r := file.Runner
	if r == nil {
		return nil, &core.ConfigError{Field: "[runner]", Err: errors.New("config must define a [runner] table")}
	}
	if r.Manifest == "" {
		return nil, &core.ConfigError{Field: "runner.manifest", Err: errors.New("required")}
	}
	extra, err := extraArgs(file.HawkEars.ExtraArgs)
	if err != nil {
		return nil, err
	}

	cfg := &RunConfig{
		Manifest:      r.Manifest,
		OutputDir:     r.OutputDir,
		RunnerCmd:     r.RunnerCmd,
		TelemetryLog:  r.TelemetryLog,
		MaxRetries:    d.MaxRetries,
		MaxGPUs:       r.MaxGPUs,
		CPUWorkers:    d.CPUWorkers,
		UseHawkEars:   r.UseHawkEars,
		HawkEarsArgs:  extra,
		ResumeSummary: r.ResumeSummary,
		Ledger:        r.Ledger,
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = d.OutputDir
	}
	if r.MaxRetries != nil {
		if *r.MaxRetries < 0 {
			return nil, &core.ConfigError{Field: "runner.max_retries", Err: errors.New("must not be negative")}
		}
		cfg.MaxRetries = *r.MaxRetries
	}
	if r.CPUWorkers != nil {
		if *r.CPUWorkers < 0 {
			return nil, &core.ConfigError{Field: "runner.cpu_workers", Err: errors.New("must not be negative")}
		}
		cfg.CPUWorkers = *r.CPUWorkers
	}
	if cfg.RunnerCmd != "" && cfg.UseHawkEars {
		return nil, &core.ConfigError{Field: "runner.runner_cmd", Err: core.ErrRunnerConflict}
	}
	for _, key := range meta.Undecoded() {
		cfg.Unknown = append(cfg.Unknown, key.String())
	}
	sort.Strings(cfg.Unknown)
	return cfg, nil
}

// extraArgs accepts a single string or a list of scalars.
func extraArgs(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{val}, nil
	case []any:
		args := make([]string, 0, len(val))
		for _, item := range val {
			switch item.(type) {
			case string, int64, float64, bool:
				args = append(args, fmt.Sprint(item))
			default:
				return nil, &core.ConfigError{Field: "hawkears.extra_args", Err: errors.New("must be a list of strings")}
			}
		}
		return args, nil
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	}
	return nil, &core.ConfigError{Field: "hawkears.extra_args", Err: errors.New("must be a list of strings")}
}
