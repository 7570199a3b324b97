package scheduler

import (
	"context"

	"github.com/jdziat/badc/pkg/core"
)

// OnJobStart registers a callback for when a worker starts a job.
func (s *Scheduler) OnJobStart(fn func(context.Context, core.InferenceJob, core.WorkerSlot)) {
	s.mu.Lock()
	s.onStart = append(s.onStart, fn)
	s.mu.Unlock()
}

// OnJobComplete registers a callback for when a job succeeds.
func (s *Scheduler) OnJobComplete(fn func(context.Context, core.InferenceJob, core.WorkerSlot, core.JobResult)) {
	s.mu.Lock()
	s.onComplete = append(s.onComplete, fn)
	s.mu.Unlock()
}

// OnJobFail registers a callback for when a job fails permanently.
func (s *Scheduler) OnJobFail(fn func(context.Context, core.InferenceJob, core.WorkerSlot, error)) {
	s.mu.Lock()
	s.onFail = append(s.onFail, fn)
	s.mu.Unlock()
}

// OnRetry registers a callback for when a job attempt is retried.
func (s *Scheduler) OnRetry(fn func(context.Context, core.InferenceJob, core.WorkerSlot, int, error)) {
	s.mu.Lock()
	s.onRetry = append(s.onRetry, fn)
	s.mu.Unlock()
}

// Events returns a channel for receiving scheduler events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (s *Scheduler) Events() <-chan core.Event {
	ch := make(chan core.Event, s.eventBuffer)
	s.mu.Lock()
	s.eventSubs = append(s.eventSubs, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling Unsubscribe.
func (s *Scheduler) Unsubscribe(ch <-chan core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.eventSubs {
		if sub == ch {
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (s *Scheduler) Emit(e core.Event) {
	s.mu.RLock()
	subs := make([]chan core.Event, len(s.eventSubs))
	copy(subs, s.eventSubs)
	s.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full so a slow consumer never blocks a worker.
		}
	}
}

func (s *Scheduler) callStartHooks(ctx context.Context, job core.InferenceJob, slot core.WorkerSlot) {
	s.mu.RLock()
	hooks := make([]func(context.Context, core.InferenceJob, core.WorkerSlot), len(s.onStart))
	copy(hooks, s.onStart)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, slot)
	}
}

func (s *Scheduler) callCompleteHooks(ctx context.Context, job core.InferenceJob, slot core.WorkerSlot, result core.JobResult) {
	s.mu.RLock()
	hooks := make([]func(context.Context, core.InferenceJob, core.WorkerSlot, core.JobResult), len(s.onComplete))
	copy(hooks, s.onComplete)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, slot, result)
	}
}

func (s *Scheduler) callFailHooks(ctx context.Context, job core.InferenceJob, slot core.WorkerSlot, err error) {
	s.mu.RLock()
	hooks := make([]func(context.Context, core.InferenceJob, core.WorkerSlot, error), len(s.onFail))
	copy(hooks, s.onFail)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, slot, err)
	}
}

func (s *Scheduler) callRetryHooks(ctx context.Context, job core.InferenceJob, slot core.WorkerSlot, attempt int, err error) {
	s.mu.RLock()
	hooks := make([]func(context.Context, core.InferenceJob, core.WorkerSlot, int, error), len(s.onRetry))
	copy(hooks, s.onRetry)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, slot, attempt, err)
	}
}
