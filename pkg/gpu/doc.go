// Package gpu discovers GPU devices and samples their utilization.
//
// The NvidiaSMI inventory shells out to nvidia-smi. Failures never surface as
// errors: detection returns an empty device list with a diagnostic, and
// metrics queries report unavailable.
package gpu
