//go:build windows

package spawn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

const readBufSize = 4096

// pipeSpawner is the Windows fallback: no PTY allocation, the command runs
// under cmd.exe with combined stdout/stderr pipes. Interactive behavior is
// reduced accordingly; Resize is a no-op.
type pipeSpawner struct{}

// NewPTY returns the platform spawner.
func NewPTY() Spawner { return pipeSpawner{} }

func (pipeSpawner) Spawn(ctx context.Context, command string, opts Options) (Handle, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// #nosec G204 -- the command line is the caller's payload by contract
	cmd := exec.Command("cmd", "/C", command)
	cmd.Dir = opts.WorkDir
	env := opts.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, fmt.Errorf("start: %w", err)
	}
	_ = outW.Close()

	h := &pipeHandle{
		pid:    cmd.Process.Pid,
		cmd:    cmd,
		stdin:  stdin,
		outR:   outR,
		out:    make(chan []byte, 64),
		exited: make(chan ExitStatus, 1),
	}
	go h.readLoop()
	go h.waitLoop()
	return h, nil
}

type pipeHandle struct {
	pid    int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	outR   *os.File
	out    chan []byte
	exited chan ExitStatus

	closeOnce sync.Once
}

func (h *pipeHandle) PID() int                    { return h.pid }
func (h *pipeHandle) Output() <-chan []byte       { return h.out }
func (h *pipeHandle) Exited() <-chan ExitStatus   { return h.exited }
func (h *pipeHandle) Write(p []byte) (int, error) { return h.stdin.Write(p) }
func (h *pipeHandle) Resize(rows, cols uint16) error {
	return nil
}

func (h *pipeHandle) Kill() error { return h.cmd.Process.Kill() }

func (h *pipeHandle) readLoop() {
	defer close(h.out)
	buf := make([]byte, readBufSize)
	for {
		n, err := h.outR.Read(buf)
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

func (h *pipeHandle) waitLoop() {
	err := h.cmd.Wait()
	h.closeOnce.Do(func() { _ = h.outR.Close() })

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
