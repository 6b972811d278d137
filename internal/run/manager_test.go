package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/composr/internal/registry"
	"github.com/loykin/composr/internal/spawn"
)

// deadPID is far above any default pid_max, so the liveness probe reports
// it dead without depending on the host's process table.
const deadPID = 99999999

// fakeHandle satisfies spawn.Handle without touching the process table.
type fakeHandle struct {
	pid    int
	out    chan []byte
	exited chan spawn.ExitStatus

	mu     sync.Mutex
	killed bool
	wrote  []byte
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{
		pid:    pid,
		out:    make(chan []byte, 16),
		exited: make(chan spawn.ExitStatus, 1),
	}
}

func (h *fakeHandle) PID() int                        { return h.pid }
func (h *fakeHandle) Output() <-chan []byte           { return h.out }
func (h *fakeHandle) Exited() <-chan spawn.ExitStatus { return h.exited }

func (h *fakeHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	h.wrote = append(h.wrote, p...)
	h.mu.Unlock()
	return len(p), nil
}

func (h *fakeHandle) Resize(rows, cols uint16) error { return nil }

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.killed {
		return nil
	}
	h.killed = true
	close(h.out)
	h.exited <- spawn.ExitStatus{Code: -1}
	close(h.exited)
	return nil
}

func (h *fakeHandle) exit(code int) {
	close(h.out)
	h.exited <- spawn.ExitStatus{Code: code}
	close(h.exited)
}

// fakeSpawner hands out fakeHandles with self's pid (alive by definition)
// unless told to fail or to use a specific pid.
type fakeSpawner struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle // keyed by command
	nextPID int
	failErr error
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{handles: make(map[string]*fakeHandle)}
}

func (f *fakeSpawner) Spawn(ctx context.Context, command string, opts spawn.Options) (spawn.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	pid := f.nextPID
	if pid == 0 {
		pid = os.Getpid()
	}
	h := newFakeHandle(pid)
	f.handles[command] = h
	return h, nil
}

func (f *fakeSpawner) handle(command string) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[command]
}

func newTestManager(t *testing.T, dir string) (*Manager, *fakeSpawner) {
	t.Helper()
	m, err := New(Config{RunDir: filepath.Join(dir, "run"), LogDir: filepath.Join(dir, "logs")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fs := newFakeSpawner()
	m.SetSpawner(fs)
	return m, fs
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
	if _, err := New(Config{RunDir: "/tmp/x"}); err == nil {
		t.Fatal("expected error for missing log_dir")
	}
}

func TestRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, t.TempDir())
	ctx := context.Background()
	rec, err := m.Start(ctx, "build", "npm run build")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.RunName != "build" || rec.Command != "npm run build" || rec.PID <= 0 {
		t.Fatalf("bad record: %+v", rec)
	}
	if !strings.Contains(rec.LogFile, "build") {
		t.Fatalf("log file %q does not contain run name", rec.LogFile)
	}
	if _, err := os.Stat(rec.LogFile); err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	runs, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 || runs[0] != rec {
		t.Fatalf("List mismatch: %+v", runs)
	}
}

func TestStartRejectsInvalidSpecs(t *testing.T) {
	m, _ := newTestManager(t, t.TempDir())
	ctx := context.Background()
	cases := []Spec{
		{Name: "", Command: "true"},
		{Name: "x", Command: "   "},
		{Name: "../escape", Command: "true"},
		{Name: "a/b", Command: "true"},
	}
	for _, spec := range cases {
		if _, err := m.StartSpec(ctx, spec); err == nil {
			t.Fatalf("spec %+v: expected validation error", spec)
		}
	}
}

func TestStartDuplicateNameRejected(t *testing.T) {
	m, _ := newTestManager(t, t.TempDir())
	ctx := context.Background()
	if _, err := m.Start(ctx, "dup", "sleep 1"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := m.Start(ctx, "dup", "sleep 2")
	if !errors.Is(err, ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}
	runs, _ := m.List(ctx)
	if len(runs) != 1 {
		t.Fatalf("duplicate leaked into registry: %+v", runs)
	}
}

func TestSpawnFailureLeavesRegistryUntouched(t *testing.T) {
	dir := t.TempDir()
	m, fs := newTestManager(t, dir)
	ctx := context.Background()
	fs.failErr = errors.New("command not found")
	if _, err := m.Start(ctx, "broken", "nope"); err == nil {
		t.Fatal("expected spawn error")
	}
	runs, err := m.List(ctx)
	if err != nil || len(runs) != 0 {
		t.Fatalf("registry not empty after failed spawn: %+v err=%v", runs, err)
	}
}

func TestOrderPreservation(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestManager(t, dir)
	ctx := context.Background()
	names := []string{"first", "second", "third"}
	for _, n := range names {
		if _, err := m.Start(ctx, n, "sleep 1"); err != nil {
			t.Fatalf("Start %s: %v", n, err)
		}
	}
	runs, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, n := range names {
		if runs[i].RunName != n {
			t.Fatalf("position %d: got %q want %q", i, runs[i].RunName, n)
		}
	}
	// On-disk order matches too.
	onDisk := registry.New(filepath.Join(dir, "run")).Load()
	for i, n := range names {
		if onDisk[i].RunName != n {
			t.Fatalf("on-disk position %d: got %q want %q", i, onDisk[i].RunName, n)
		}
	}
}

func TestCrossInstanceVisibility(t *testing.T) {
	dir := t.TempDir()
	a, _ := newTestManager(t, dir)
	b, _ := newTestManager(t, dir)
	ctx := context.Background()
	if _, err := a.Start(ctx, "shared", "sleep 1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runs, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List on second instance: %v", err)
	}
	if len(runs) != 1 || runs[0].RunName != "shared" {
		t.Fatalf("run not visible across instances: %+v", runs)
	}
}

func TestConcurrentCreateNoLostWrites(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, _ := newTestManager(t, dir)
			if _, err := m.Start(ctx, fmt.Sprintf("run-%d", i), "sleep 1"); err != nil {
				t.Errorf("Start %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	fourth, _ := newTestManager(t, dir)
	runs, err := fourth.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("lost writes: expected 3 runs, got %+v", runs)
	}
}

func TestKillRemovesRecordAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	a, _ := newTestManager(t, dir)
	ctx := context.Background()
	if _, err := a.Start(ctx, "delete-me", "sleep 1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := a.Start(ctx, "keep-me", "sleep 1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Kill(ctx, "delete-me"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	b, _ := newTestManager(t, dir)
	runs, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 || runs[0].RunName != "keep-me" {
		t.Fatalf("expected only keep-me, got %+v", runs)
	}
}

func TestKillUsesOwnedHandle(t *testing.T) {
	m, fs := newTestManager(t, t.TempDir())
	ctx := context.Background()
	if _, err := m.Start(ctx, "victim", "sleep 60"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Kill(ctx, "victim"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	h := fs.handle("sleep 60")
	h.mu.Lock()
	killed := h.killed
	h.mu.Unlock()
	if !killed {
		t.Fatal("owned handle was not signalled")
	}
}

func TestKillNotFound(t *testing.T) {
	m, _ := newTestManager(t, t.TempDir())
	err := m.Kill(context.Background(), "ghost")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestListPrunesDeadRuns(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestManager(t, dir)
	ctx := context.Background()
	if _, err := m.Start(ctx, "alive", "sleep 1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// A record left behind by a crashed instance, pid long gone.
	reg := registry.New(filepath.Join(dir, "run"))
	err := reg.Mutate(ctx, func(recs []registry.Record) ([]registry.Record, error) {
		return append(recs, registry.Record{RunName: "stale", PID: deadPID, Command: "gone", LogFile: "/dev/null"}), nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	runs, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 || runs[0].RunName != "alive" {
		t.Fatalf("stale record not pruned: %+v", runs)
	}
	if onDisk := reg.Load(); len(onDisk) != 1 || onDisk[0].RunName != "alive" {
		t.Fatalf("prune not persisted: %+v", onDisk)
	}
}

func TestCorruptRegistryTolerated(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestManager(t, dir)
	ctx := context.Background()
	runDir := filepath.Join(dir, "run")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, registry.FileName), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	runs, err := m.List(ctx)
	if err != nil || len(runs) != 0 {
		t.Fatalf("corrupt registry not tolerated: %+v err=%v", runs, err)
	}
	// Recovery: a new run replaces the corrupt file.
	if _, err := m.Start(ctx, "fresh", "sleep 1"); err != nil {
		t.Fatalf("Start after corruption: %v", err)
	}
	runs, _ = m.List(ctx)
	if len(runs) != 1 || runs[0].RunName != "fresh" {
		t.Fatalf("recovery failed: %+v", runs)
	}
}

func TestEmptyRegistryFileTolerated(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestManager(t, dir)
	ctx := context.Background()
	runDir := filepath.Join(dir, "run")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, registry.FileName), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	runs, err := m.List(ctx)
	if err != nil || len(runs) != 0 {
		t.Fatalf("empty registry not tolerated: %+v err=%v", runs, err)
	}
	if _, err := m.Start(ctx, "after-empty", "sleep 1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runs, _ = m.List(ctx)
	if len(runs) != 1 {
		t.Fatalf("run missing after empty-file recovery: %+v", runs)
	}
}

func TestSpecialCharactersPreserved(t *testing.T) {
	m, _ := newTestManager(t, t.TempDir())
	ctx := context.Background()
	cmd := "echo \"quoted 'stuff'\" && printf 'a\nb' | grep $HOME; true"
	rec, err := m.Start(ctx, "tricky", cmd)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Command != cmd {
		t.Fatalf("command mangled on create: %q", rec.Command)
	}
	runs, _ := m.List(ctx)
	if len(runs) != 1 || runs[0].Command != cmd {
		t.Fatalf("command mangled on reload: %q", runs[0].Command)
	}
}

func TestExitDoesNotPruneRegistry(t *testing.T) {
	m, fs := newTestManager(t, t.TempDir())
	ctx := context.Background()
	if _, err := m.Start(ctx, "short", "true"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fs.handle("true").exit(0)
	// Reaping is lazy: the record stays until a liveness probe fails. The
	// fake pid is this test process, so it still answers the probe.
	recs := registry.New(m.cfg.RunDir).Load()
	if len(recs) != 1 {
		t.Fatalf("exit event pruned the registry: %+v", recs)
	}
}

func TestWriteToOwnedRun(t *testing.T) {
	m, fs := newTestManager(t, t.TempDir())
	ctx := context.Background()
	if _, err := m.Start(ctx, "interactive", "cat"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Write("interactive", []byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	h := fs.handle("cat")
	h.mu.Lock()
	got := string(h.wrote)
	h.mu.Unlock()
	if got != "hello\n" {
		t.Fatalf("write did not reach handle: %q", got)
	}
	if err := m.Write("ghost", nil); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestListDetailedReportsStartTime(t *testing.T) {
	m, fs := newTestManager(t, t.TempDir())
	ctx := context.Background()
	if _, err := m.Start(ctx, "live", "sleep 60"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fs.nextPID = deadPID
	if _, err := m.Start(ctx, "gone", "false"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dets, err := m.ListDetailed(ctx)
	if err != nil {
		t.Fatalf("ListDetailed: %v", err)
	}
	if len(dets) != 1 || dets[0].RunName != "live" {
		t.Fatalf("expected only the live run, got %+v", dets)
	}
	d := dets[0]
	if d.PID != os.Getpid() || d.Command != "sleep 60" {
		t.Fatalf("record fields lost in detail: %+v", d)
	}
	now := time.Now().Unix()
	if d.StartedAt <= 0 || d.StartedAt > now {
		t.Fatalf("implausible start time %d (now %d)", d.StartedAt, now)
	}
	if d.Uptime != "" {
		if _, err := time.ParseDuration(d.Uptime); err != nil {
			t.Fatalf("uptime %q does not parse: %v", d.Uptime, err)
		}
	}
}

func TestLogSinkFlushesIndependentlyOfOwnership(t *testing.T) {
	m, fs := newTestManager(t, t.TempDir())
	ctx := context.Background()
	rec, err := m.Start(ctx, "emitter", "echo payload")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h := fs.handle("echo payload")
	h.out <- []byte("payload\n")
	h.exit(0)

	// The exit watcher releases the handle; the sink keeps draining the
	// stream on its own until the channel closes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := m.Write("emitter", nil); errors.Is(err, ErrRunNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("exit did not release the handle")
		}
		time.Sleep(5 * time.Millisecond)
	}
	for {
		b, _ := os.ReadFile(rec.LogFile)
		if strings.Contains(string(b), "payload") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("log never received the output, have %q", string(b))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
