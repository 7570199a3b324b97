package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/gpu"
	"github.com/jdziat/badc/pkg/security"
)

// RunnerOption configures a Runner.
type RunnerOption interface {
	ApplyRunner(*RunnerConfig)
}

type runnerOptionFunc func(*RunnerConfig)

func (f runnerOptionFunc) ApplyRunner(c *RunnerConfig) { f(c) }

// RetryHook observes a failed attempt that will be retried after delay.
type RetryHook func(ctx context.Context, job core.InferenceJob, slot core.WorkerSlot, attempt int, err error, delay time.Duration)

// RunnerConfig holds runner configuration.
type RunnerConfig struct {
	OutputDir    string
	MaxRetries   int
	Retry        RetryConfig
	Sleeper      Sleeper
	Clock        clockwork.Clock
	Inventory    gpu.Inventory
	Logger       *slog.Logger
	OnRetry      RetryHook
	ModelVersion string
	DatasetRoot  string
}

// OutputDir sets the root directory for per-chunk payloads.
func OutputDir(dir string) RunnerOption {
	return runnerOptionFunc(func(c *RunnerConfig) {
		c.OutputDir = dir
	})
}

// MaxRetries sets how many times a failing job is retried.
// Values are clamped to [0, MaxRetries].
func MaxRetries(n int) RunnerOption {
	return runnerOptionFunc(func(c *RunnerConfig) {
		c.MaxRetries = security.ClampRetries(n)
	})
}

// WithRetryConfig overrides the backoff delays.
func WithRetryConfig(cfg RetryConfig) RunnerOption {
	return runnerOptionFunc(func(c *RunnerConfig) {
		c.Retry = cfg
	})
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s Sleeper) RunnerOption {
	return runnerOptionFunc(func(c *RunnerConfig) {
		c.Sleeper = s
	})
}

// WithClock sets the clock used for telemetry timestamps and sleeping.
func WithClock(clock clockwork.Clock) RunnerOption {
	return runnerOptionFunc(func(c *RunnerConfig) {
		c.Clock = clock
	})
}

// WithInventory enables GPU metric snapshots around each invocation.
func WithInventory(inv gpu.Inventory) RunnerOption {
	return runnerOptionFunc(func(c *RunnerConfig) {
		c.Inventory = inv
	})
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return runnerOptionFunc(func(c *RunnerConfig) {
		c.Logger = l
	})
}

// OnRetry registers a hook called before each backoff sleep.
func OnRetry(fn RetryHook) RunnerOption {
	return runnerOptionFunc(func(c *RunnerConfig) {
		c.OnRetry = fn
	})
}

// Provenance records the model version and dataset root in payloads.
func Provenance(modelVersion, datasetRoot string) RunnerOption {
	return runnerOptionFunc(func(c *RunnerConfig) {
		c.ModelVersion = modelVersion
		c.DatasetRoot = datasetRoot
	})
}
