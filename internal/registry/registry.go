package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/composr/internal/flock"
)

const (
	// FileName is the registry file kept under the run directory.
	FileName = "runs.json"

	// lockSuffix names the sidecar lock file. The lock cannot live on the
	// registry file itself: Save replaces that file's inode via rename, and
	// an advisory lock held on a renamed-over inode excludes nobody.
	lockSuffix = ".lock"
)

// Record is one registered run. JSON field names are part of the on-disk
// format shared with other instances; Command is preserved byte-for-byte.
type Record struct {
	RunName string `json:"runName"`
	PID     int    `json:"pid"`
	Command string `json:"command"`
	LogFile string `json:"logFile"`
}

// Registry persists an ordered list of Records in a single JSON file that
// any number of independent processes read and write. All mutations go
// through Mutate; Load alone never writes and never fails.
type Registry struct {
	dir string
}

func New(dir string) *Registry { return &Registry{dir: dir} }

// Path returns the registry file location.
func (r *Registry) Path() string { return filepath.Join(r.dir, FileName) }

func (r *Registry) lockPath() string { return r.Path() + lockSuffix }

// Load returns the current records in insertion order. A missing file, an
// empty file, or malformed content (anything that does not parse as a JSON
// array of records) yields an empty slice: absence and corruption both mean
// "no runs yet", never a fatal error.
func (r *Registry) Load() []Record {
	data, err := os.ReadFile(r.Path())
	if err != nil {
		return nil
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil
	}
	return recs
}

// Save atomically replaces the registry file with the serialized records,
// preserving order. The write goes to a temp file in the same directory
// followed by a rename, so concurrent readers never observe a partial file.
func (r *Registry) Save(recs []Record) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	if recs == nil {
		recs = []Record{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	tmp, err := os.CreateTemp(r.dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Rename(tmpName, r.Path()); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

// Mutate is the single choke point for registry changes. It acquires the
// cross-process lock, loads the current records, applies fn, and persists
// the result, so callers see one atomic read-modify-write.
// When fn returns an error nothing is written and the error is returned
// unchanged; lock timeouts surface as flock.ErrTimeout.
func (r *Registry) Mutate(ctx context.Context, fn func([]Record) ([]Record, error)) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	return flock.WithLock(ctx, r.lockPath(), func() error {
		next, err := fn(r.Load())
		if err != nil {
			return err
		}
		return r.Save(next)
	})
}
