// Package storage persists inference runs and per-chunk outcomes.
//
// The ledger is a GORM database, normally a SQLite file next to the
// telemetry logs of a dataset. A PostgreSQL DSN can be used instead when
// several hosts share one ledger. Completed chunks recorded here feed the
// resume filter in the same way a run summary does.
package storage
