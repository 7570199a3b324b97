// Package scheduler dispatches inference jobs across a fixed pool of worker
// slots.
//
// This package includes:
//   - Scheduler: a shared job queue drained by one goroutine per slot
//   - Result: per-worker statistics and exactly one outcome per job
//   - Hook registration for job lifecycle events
//   - Event subscription for monitoring
//
// The first terminal job failure stops dispatch of jobs that have not
// started yet; jobs already running on other slots finish normally.
package scheduler
