package security

import (
	"strings"
	"unicode/utf8"

	"github.com/jdziat/badc/pkg/core"
)

const (
	// MaxIdentifierLength is the maximum length for chunk and recording ids
	MaxIdentifierLength = 255

	// MaxRetries is the hard limit for retry attempts per job
	MaxRetries = 100

	// MaxWorkers is the hard limit for worker slots of one kind
	MaxWorkers = 256

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// OutputTailLength is how much detector stdout/stderr is kept in telemetry
	OutputTailLength = 500
)

// ValidateChunkID checks that a chunk id can be used as a file name.
func ValidateChunkID(id string) error {
	if !validIdentifier(id) {
		return core.ErrInvalidChunkID
	}
	return nil
}

// ValidateRecordingID checks that a recording id can be used as a directory name.
func ValidateRecordingID(id string) error {
	if !validIdentifier(id) {
		return core.ErrInvalidRecordingID
	}
	return nil
}

func validIdentifier(id string) bool {
	if id == "" || id == "." || id == ".." || len(id) > MaxIdentifierLength {
		return false
	}
	if strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return false
	}
	return true
}

// SanitizeErrorMessage drops control characters and truncates msg to
// MaxErrorMessageLength runes.
func SanitizeErrorMessage(msg string) string {
	result := stripControl(msg)
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}
	return result
}

// Tail keeps the last n bytes of s, backing off to a rune boundary.
func Tail(s string, n int) string {
	s = stripControl(s)
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

func stripControl(msg string) string {
	if msg == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}
	return sanitized.String()
}

// ClampRetries bounds a retry budget to [0, MaxRetries].
func ClampRetries(n int) int { return clamp(n, MaxRetries) }

// ClampWorkers bounds a worker count to [0, MaxWorkers].
func ClampWorkers(n int) int { return clamp(n, MaxWorkers) }

func clamp(n, hi int) int {
	return max(0, min(n, hi))
}
