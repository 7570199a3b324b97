// Package manifest reads chunk manifests into inference jobs.
//
// A manifest is a CSV file with a header row. The recording_id, chunk_id and
// source_path columns are required; start_ms, end_ms, overlap_ms, sha256 and
// notes are carried through to the job when present. Jobs are returned in
// file order.
package manifest
