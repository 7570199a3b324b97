// Package worker plans worker slots and runs inference jobs.
//
// PlanSlots turns a GPU detection into an ordered list of worker slots. A
// Runner executes one job on one slot: it invokes the detector, retries
// non-zero exits with capped exponential backoff, parses the detector output
// into the canonical per-chunk payload and records every attempt to
// telemetry.
package worker
