package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink is an append-only JSON Lines log.
type Sink struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// Open creates parent directories and opens path for appending.
func Open(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry log: %w", err)
	}
	return &Sink{path: path, file: f}, nil
}

// Path returns the log location.
func (s *Sink) Path() string {
	return s.path
}

// Append writes v as one JSON line.
func (s *Sink) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode telemetry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return os.ErrClosed
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write telemetry: %w", err)
	}
	return nil
}

// Close flushes and closes the log. Further appends fail with os.ErrClosed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
