//go:build !windows

package run

import "syscall"

// killGroup sends SIGKILL to the process group led by pid, falling back to
// the single process when no group exists anymore.
func killGroup(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}
