// Package spawn wraps the platform's pseudo-terminal spawn primitive behind
// a capability interface so the run manager never talks to the process table
// directly and stays testable with a double.
package spawn

import "context"

// ExitStatus carries the outcome of a finished process.
type ExitStatus struct {
	Code int
	Err  error // non-nil for abnormal termination (signal, wait failure)
}

// Handle is one spawned process. Output delivers chunks in arrival order
// until the process's terminal closes; Exited delivers exactly one status
// and is then closed.
type Handle interface {
	PID() int
	Output() <-chan []byte
	Exited() <-chan ExitStatus
	// Write sends input to the process's terminal.
	Write(p []byte) (int, error)
	// Resize adjusts the terminal dimensions.
	Resize(rows, cols uint16) error
	// Kill requests termination. It is best-effort and does not wait for
	// the process to actually exit.
	Kill() error
}

// Options carry per-run spawn parameters. Env, when nil, means inherit the
// caller's environment.
type Options struct {
	WorkDir string
	Env     []string
}

// Spawner launches a command line under a fresh terminal. The command is
// not interpreted: it is handed verbatim to the platform shell, so
// metacharacters and embedded newlines behave exactly as typed. The
// context gates admission only; a run that has started keeps running
// after the context is cancelled and is stopped solely through Kill.
type Spawner interface {
	Spawn(ctx context.Context, command string, opts Options) (Handle, error)
}
