package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jdziat/badc/pkg/core"
	"github.com/jdziat/badc/pkg/gpu"
	"github.com/jdziat/badc/pkg/telemetry"
)

// Strategy tags results produced by the memory heuristic.
const Strategy = "memory_estimator_v1"

// Defaults used by the CLI.
const (
	DefaultInitialDuration = 60.0
	DefaultTolerance       = 5.0
)

// Request describes one probe run.
type Request struct {
	AudioPath string
	// InitialDuration is the first candidate in seconds.
	InitialDuration float64
	// MaxDuration caps the search; nil means the recording length.
	MaxDuration *float64
	Tolerance   float64
	// GPUIndex selects the device whose memory defines the budget.
	GPUIndex *int
	// LogPath overrides the default attempt log location.
	LogPath string
}

// ProberOption configures a Prober.
type ProberOption interface {
	applyProber(*Prober)
}

type proberOptionFunc func(*Prober)

func (f proberOptionFunc) applyProber(p *Prober) { f(p) }

// WithInventory sets the GPU inventory used to pick a budget.
func WithInventory(inv gpu.Inventory) ProberOption {
	return proberOptionFunc(func(p *Prober) {
		p.inventory = inv
	})
}

// WithClock sets the clock used for log timestamps.
func WithClock(c clockwork.Clock) ProberOption {
	return proberOptionFunc(func(p *Prober) {
		p.clock = c
	})
}

// WithLogger sets the prober logger.
func WithLogger(l *slog.Logger) ProberOption {
	return proberOptionFunc(func(p *Prober) {
		p.logger = l
	})
}

// LogDir sets the directory for default attempt logs.
func LogDir(dir string) ProberOption {
	return proberOptionFunc(func(p *Prober) {
		p.logDir = dir
	})
}

// Prober runs chunk duration probes.
type Prober struct {
	inventory gpu.Inventory
	clock     clockwork.Clock
	logger    *slog.Logger
	logDir    string
}

// NewProber creates a prober. Without an inventory the fallback budget applies.
func NewProber(opts ...ProberOption) *Prober {
	p := &Prober{
		inventory: &gpu.Static{},
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		logDir:    filepath.Join("artifacts", "telemetry", "chunk_probe"),
	}
	for _, opt := range opts {
		opt.applyProber(p)
	}
	return p
}

// logEntry is one attempt line in the probe log.
type logEntry struct {
	Timestamp         time.Time `json:"timestamp"`
	Audio             string    `json:"audio"`
	DurationSeconds   float64   `json:"duration_s"`
	EstimatedMemoryMB float64   `json:"estimated_vram_mb"`
	Fits              bool      `json:"fits"`
	Reason            string    `json:"reason"`
	GPUIndex          *int      `json:"gpu_index"`
	GPUName           *string   `json:"gpu_name"`
	MemoryLimitMB     float64   `json:"memory_limit_mb"`
}

// Probe estimates the longest chunk duration for req.AudioPath. Every
// evaluated candidate is returned in the result and appended to the log.
func (p *Prober) Probe(ctx context.Context, req Request) (*core.ChunkProbeResult, error) {
	if req.InitialDuration <= 0 {
		return nil, core.ErrNonPositiveDuration
	}
	if req.Tolerance <= 0 {
		return nil, core.ErrNonPositiveTolerance
	}
	if req.MaxDuration != nil && *req.MaxDuration <= 0 {
		return nil, fmt.Errorf("max duration: %w", core.ErrNonPositiveDuration)
	}

	resolved, err := filepath.Abs(req.AudioPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(resolved); err != nil {
		return nil, err
	}
	meta, err := ReadWAV(resolved)
	if err != nil {
		return nil, err
	}
	if meta.DurationSeconds <= 0 {
		return nil, fmt.Errorf("%s: %w", resolved, core.ErrEmptyAudio)
	}

	upper := meta.DurationSeconds
	if req.MaxDuration != nil {
		upper = min(*req.MaxDuration, upper)
	}
	upper = max(req.Tolerance, upper)

	budget := SelectBudget(p.inventory.Detect(ctx), req.GPUIndex)

	logPath := req.LogPath
	if logPath == "" {
		logPath = telemetry.ProbeLogPath(resolved, p.logDir, p.clock.Now())
	}
	sink, err := telemetry.Open(logPath)
	if err != nil {
		return nil, err
	}
	defer sink.Close()

	var (
		attempts []core.ChunkProbeAttempt
		writeErr error
	)
	evaluate := func(duration float64) bool {
		estimate := EstimateMemoryMB(min(duration, upper), meta)
		attempt := core.ChunkProbeAttempt{
			DurationSeconds:   duration,
			EstimatedMemoryMB: estimate,
			Fits:              estimate <= budget.LimitMB,
			Reason:            "fits memory budget",
		}
		if !attempt.Fits {
			attempt.Reason = fmt.Sprintf("Estimated %.1f MiB exceeds limit %.1f MiB", estimate, budget.LimitMB)
		}
		attempts = append(attempts, attempt)

		entry := logEntry{
			Timestamp:         p.clock.Now().UTC(),
			Audio:             resolved,
			DurationSeconds:   attempt.DurationSeconds,
			EstimatedMemoryMB: attempt.EstimatedMemoryMB,
			Fits:              attempt.Fits,
			Reason:            attempt.Reason,
			MemoryLimitMB:     budget.LimitMB,
		}
		if budget.Device != nil {
			entry.GPUIndex = &budget.Device.Index
			entry.GPUName = &budget.Device.Name
		}
		if err := sink.Append(entry); err != nil && writeErr == nil {
			writeErr = err
		}
		p.logger.Debug("probe attempt", "duration_s", duration, "estimated_vram_mb", estimate, "fits", attempt.Fits)
		return attempt.Fits
	}

	best := Search(req.InitialDuration, req.Tolerance, upper, evaluate)
	if writeErr != nil {
		return nil, writeErr
	}

	result := &core.ChunkProbeResult{
		File:               resolved,
		MaxDurationSeconds: math.Round(best*100) / 100,
		Strategy:           Strategy,
		Notes:              budget.Notes,
		Attempts:           attempts,
		LogPath:            logPath,
	}
	p.logger.Info("chunk probe finished",
		"file", resolved, "max_duration_s", result.MaxDurationSeconds, "attempts", len(attempts), "limit_mb", budget.LimitMB)
	return result, nil
}
