// Package config loads process defaults from the environment and parses
// TOML run configurations.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/jdziat/badc/pkg/core"
)

// Defaults are the values used when a flag or run-config key is absent.
type Defaults struct {
	OutputDir         string `env:"BADC_OUTPUT_DIR" envDefault:"artifacts/infer"`
	TelemetryDir      string `env:"BADC_TELEMETRY_DIR" envDefault:"artifacts/telemetry"`
	ProbeTelemetryDir string `env:"BADC_PROBE_TELEMETRY_DIR" envDefault:"artifacts/telemetry/chunk_probe"`
	MaxRetries        int    `env:"BADC_MAX_RETRIES" envDefault:"2"`
	CPUWorkers        int    `env:"BADC_CPU_WORKERS" envDefault:"0"`
	RunnerCmd         string `env:"BADC_RUNNER_CMD"`
	HawkEarsRoot      string `env:"BADC_HAWKEARS_ROOT" envDefault:"vendor/HawkEars"`
	Python            string `env:"BADC_PYTHON" envDefault:"python3"`
	NvidiaSMI         string `env:"BADC_NVIDIA_SMI" envDefault:"nvidia-smi"`
	Ledger            string `env:"BADC_LEDGER"`
	MetricsAddr       string `env:"BADC_METRICS_ADDR"`
	LogLevel          string `env:"BADC_LOG_LEVEL" envDefault:"info"`
	LogFormat         string `env:"BADC_LOG_FORMAT" envDefault:"text"`
}

// LoadDefaults reads Defaults from the process environment. When envFile is
// set its variables are loaded first; variables already set in the
// environment win.
func LoadDefaults(envFile string) (Defaults, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Defaults{}, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}
	var d Defaults
	if err := env.Parse(&d); err != nil {
		return Defaults{}, &core.ConfigError{Field: "environment", Err: err}
	}
	return d, d.Validate()
}

// ParseDefaults reads Defaults from environ instead of the process environment.
func ParseDefaults(environ map[string]string) (Defaults, error) {
	var d Defaults
	if err := env.ParseWithOptions(&d, env.Options{Environment: environ}); err != nil {
		return Defaults{}, &core.ConfigError{Field: "environment", Err: err}
	}
	return d, d.Validate()
}

// Validate checks value ranges that the env tags cannot express.
func (d Defaults) Validate() error {
	if d.MaxRetries < 0 {
		return &core.ConfigError{Field: "BADC_MAX_RETRIES", Err: errors.New("must not be negative")}
	}
	if d.CPUWorkers < 0 {
		return &core.ConfigError{Field: "BADC_CPU_WORKERS", Err: errors.New("must not be negative")}
	}
	switch strings.ToLower(d.LogFormat) {
	case "text", "json":
	default:
		return &core.ConfigError{Field: "BADC_LOG_FORMAT", Err: fmt.Errorf("unknown format %q", d.LogFormat)}
	}
	return nil
}
