// Package schedule decides when recurring inference runs fire.
//
// This package includes:
//   - Schedule interface for defining run schedules
//   - Every() for fixed-interval schedules
//   - Daily() for daily schedules at a specific time
//   - Cron() for cron expression-based schedules
//   - Loop() which invokes a function at every tick until cancelled
//
// The watch command uses Loop to re-run inference on a manifest that is
// still growing.
package schedule
