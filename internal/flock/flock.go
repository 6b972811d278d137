package flock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gflock "github.com/gofrs/flock"
)

// ErrTimeout is returned when the lock could not be acquired before the
// context deadline. Callers distinguish it from domain errors with errors.Is.
var ErrTimeout = errors.New("lock acquisition timed out")

const (
	// DefaultTimeout bounds acquisition when the caller's context carries
	// no deadline of its own.
	DefaultTimeout = 10 * time.Second

	retryDelay = 25 * time.Millisecond
)

// WithLock runs fn while holding an exclusive advisory lock on path.
// The lock is an OS-level flock, so it serializes critical sections across
// independently launched processes as well as goroutines within one process
// (each call opens its own descriptor). A holder that crashes releases the
// lock with its descriptor; no stale sentinel is left behind.
//
// Acquisition retries with a fixed delay until the context deadline; on
// expiry it returns an error wrapping ErrTimeout instead of blocking forever.
func WithLock(ctx context.Context, path string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	fl := gflock.New(path)
	locked, err := fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, path)
		}
		return fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrTimeout, path)
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}
