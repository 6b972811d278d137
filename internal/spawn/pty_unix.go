//go:build !windows

package spawn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

const readBufSize = 4096

// ptySpawner runs commands under /bin/sh -c with a pseudo-terminal, so
// interactive programs behave as if launched from a real terminal.
type ptySpawner struct{}

// NewPTY returns the platform PTY spawner.
func NewPTY() Spawner { return ptySpawner{} }

func (ptySpawner) Spawn(ctx context.Context, command string, opts Options) (Handle, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// #nosec G204 -- the command line is the caller's payload by contract
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = opts.WorkDir
	env := opts.Env
	if env == nil {
		env = os.Environ()
	}
	if !hasTerm(env) {
		env = append(env, "TERM=xterm-256color")
	}
	cmd.Env = env

	// pty.Start makes the child a session leader on its own terminal.
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	h := &ptyHandle{
		pid:    cmd.Process.Pid,
		ptmx:   ptmx,
		cmd:    cmd,
		out:    make(chan []byte, 64),
		exited: make(chan ExitStatus, 1),
	}
	go h.readLoop()
	go h.waitLoop()
	return h, nil
}

func hasTerm(env []string) bool {
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			return true
		}
	}
	return false
}

type ptyHandle struct {
	pid    int
	ptmx   *os.File
	cmd    *exec.Cmd
	out    chan []byte
	exited chan ExitStatus

	closeOnce sync.Once
}

func (h *ptyHandle) PID() int                  { return h.pid }
func (h *ptyHandle) Output() <-chan []byte     { return h.out }
func (h *ptyHandle) Exited() <-chan ExitStatus { return h.exited }

func (h *ptyHandle) Write(p []byte) (int, error) { return h.ptmx.Write(p) }

func (h *ptyHandle) Resize(rows, cols uint16) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Kill signals the child's whole process group; the shell and anything it
// spawned go down together. Fire-and-forget: reaping is waitLoop's job.
func (h *ptyHandle) Kill() error {
	if err := syscall.Kill(-h.pid, syscall.SIGKILL); err != nil {
		return h.cmd.Process.Kill()
	}
	return nil
}

// readLoop forwards terminal output chunk by chunk. Each chunk is copied
// because the read buffer is reused. A read error (EOF, or EIO once the
// child side closes) ends the stream.
func (h *ptyHandle) readLoop() {
	defer close(h.out)
	buf := make([]byte, readBufSize)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.out <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (h *ptyHandle) waitLoop() {
	err := h.cmd.Wait()
	h.closeOnce.Do(func() { _ = h.ptmx.Close() })

	st := ExitStatus{}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			st.Code = ee.ExitCode()
		} else {
			st.Code = -1
			st.Err = err
		}
	}
	h.exited <- st
	close(h.exited)
}
