// Package core provides the fundamental types shared by the badc packages.
//
// This package contains:
//   - InferenceJob, GPUWorker and WorkerSlot descriptors
//   - JobResult and the RunSummary written at the end of a scheduler run
//   - Telemetry detail shapes (start, success, failure) and GPU metric snapshots
//   - Chunk probe attempt and result types
//   - Scheduler event types and error types
//
// Most users should import the root package github.com/jdziat/badc
// instead of this package directly.
package core
