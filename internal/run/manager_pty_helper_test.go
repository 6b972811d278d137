//go:build !windows

package run

import "github.com/loykin/composr/internal/detector"

// pidRunning mirrors the registry's liveness probe; a zombie left until the
// PTY wait goroutine reaps it counts as dead.
func pidRunning(pid int) bool {
	alive, _ := detector.PIDDetector{PID: pid}.Alive()
	return alive
}
