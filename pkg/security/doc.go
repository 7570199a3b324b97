// Package security provides validation, sanitization, and limits for the badc packages.
//
// This package includes:
//   - Validation of chunk and recording identifiers, which name files on disk
//   - Sanitization and tail-truncation of detector output and error messages
//   - Clamping functions for retry budgets and worker counts
//
// Most users should import the root package github.com/jdziat/badc
// which re-exports these functions.
package security
