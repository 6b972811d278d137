package run

import (
	"fmt"
	"os"
	"path/filepath"
)

// Sink copies a run's terminal output verbatim into an append-only log
// file. The file is opened before the process is spawned, so the log path
// exists no later than the pid, and it is never deleted by the manager;
// retention is the caller's concern.
type Sink struct {
	f    *os.File
	path string
}

// NewSink opens (creating if absent) the log file in append mode.
func NewSink(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Sink{f: f, path: path}, nil
}

func (s *Sink) Path() string { return s.path }

// Consume writes every chunk in arrival order, one file write per chunk, so
// a crash of this process loses at most the in-flight chunk. It returns
// when the stream closes and closes the file; the sink's lifetime is
// independent of the registry entry.
func (s *Sink) Consume(out <-chan []byte) {
	for chunk := range out {
		_, _ = s.f.Write(chunk)
	}
	_ = s.f.Close()
}

func (s *Sink) Close() error { return s.f.Close() }
