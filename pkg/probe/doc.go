// Package probe estimates the longest audio chunk that fits a GPU memory
// budget.
//
// The estimate is a heuristic over the WAV format: samples are assumed to be
// upcast to float32 during feature extraction, plus a fixed overhead. Search
// bisects between the longest duration known to fit and the shortest known to
// exceed the budget until the gap is within the tolerance.
package probe
