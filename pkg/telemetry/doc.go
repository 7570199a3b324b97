// Package telemetry records scheduler and prober events as JSON Lines and
// persists the end-of-run summary used for resuming.
//
// A Sink is safe for concurrent use: each Append writes one complete line
// with a single Write call while holding the sink's lock.
package telemetry
