// Package metrics exposes scheduler activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jdziat/badc/pkg/core"
)

// Namespace prefixes every metric name.
const Namespace = "badc"

// unassigned labels jobs that never reached a worker.
const unassigned = "none"

// EventSource is the subscription half of a scheduler.
type EventSource interface {
	Events() <-chan core.Event
	Unsubscribe(<-chan core.Event)
}

// HookSource is the hook half of a scheduler. Hooks run synchronously on the
// worker goroutine and are never dropped, so paired counts such as the
// in-flight gauge are driven from them.
type HookSource interface {
	OnJobStart(func(context.Context, core.InferenceJob, core.WorkerSlot))
	OnJobComplete(func(context.Context, core.InferenceJob, core.WorkerSlot, core.JobResult))
	OnJobFail(func(context.Context, core.InferenceJob, core.WorkerSlot, error))
}

// Collector turns scheduler events into Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	jobs     *prometheus.CounterVec
	retries  *prometheus.CounterVec
	runtime  *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec

	// ready is closed once Start has subscribed.
	ready     chan struct{}
	readyOnce sync.Once
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_total",
			Help:      "Inference jobs finished, by worker and final status.",
		}, []string{"worker", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "job_retries_total",
			Help:      "Detector attempts that failed and were retried.",
		}, []string{"worker"}),
		runtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "job_runtime_seconds",
			Help:      "Wall time of successful jobs including retries.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"worker"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently running on each worker.",
		}, []string{"worker"}),
		ready: make(chan struct{}),
	}
	c.registry.MustRegister(c.jobs, c.retries, c.runtime, c.inFlight)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// WaitReady blocks until Start has subscribed to events.
func (c *Collector) WaitReady() {
	<-c.ready
}

// Track registers the hooks that maintain the in-flight gauge.
func (c *Collector) Track(h HookSource) {
	h.OnJobStart(func(_ context.Context, _ core.InferenceJob, slot core.WorkerSlot) {
		c.inFlight.WithLabelValues(slot.Label).Inc()
	})
	h.OnJobComplete(func(_ context.Context, _ core.InferenceJob, slot core.WorkerSlot, _ core.JobResult) {
		c.inFlight.WithLabelValues(slot.Label).Dec()
	})
	h.OnJobFail(func(_ context.Context, _ core.InferenceJob, slot core.WorkerSlot, _ error) {
		c.inFlight.WithLabelValues(slot.Label).Dec()
	})
}

// Start consumes events from src until ctx is cancelled. Events already
// buffered when ctx ends are still recorded. When src also exposes hooks the
// in-flight gauge is tracked through them.
func (c *Collector) Start(ctx context.Context, src EventSource) {
	if h, ok := src.(HookSource); ok {
		c.Track(h)
	}
	events := src.Events()
	defer src.Unsubscribe(events)

	c.readyOnce.Do(func() { close(c.ready) })
	c.Consume(ctx, events)
}

// Consume records events from a subscription the caller already holds.
func (c *Collector) Consume(ctx context.Context, events <-chan core.Event) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					c.Observe(e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}

// Observe records a single event. Events may be dropped for a slow
// subscriber, so the in-flight gauge is left to Track.
func (c *Collector) Observe(e core.Event) {
	switch ev := e.(type) {
	case *core.JobSucceeded:
		c.jobs.WithLabelValues(ev.Slot.Label, string(core.StatusSuccess)).Inc()
		c.runtime.WithLabelValues(ev.Slot.Label).Observe(ev.Duration.Seconds())
	case *core.JobFailed:
		c.jobs.WithLabelValues(ev.Slot.Label, string(core.StatusFailure)).Inc()
	case *core.JobRetrying:
		c.retries.WithLabelValues(ev.Slot.Label).Inc()
	case *core.JobSkipped:
		c.jobs.WithLabelValues(unassigned, "skipped").Inc()
	}
}

// Serve exposes Handler on addr at /metrics until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
