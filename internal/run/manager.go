package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/composr/internal/detector"
	"github.com/loykin/composr/internal/env"
	"github.com/loykin/composr/internal/history"
	"github.com/loykin/composr/internal/metrics"
	"github.com/loykin/composr/internal/registry"
	"github.com/loykin/composr/internal/spawn"
)

// Sentinel errors crossing the manager's public API. Lock timeouts surface
// separately as flock.ErrTimeout.
var (
	ErrRunExists   = errors.New("run already exists")
	ErrRunNotFound = errors.New("run not found")
)

// ownedRun holds the live handle for a run this instance spawned. The log
// sink is not tracked here: its lifetime is driven entirely by the output
// stream, which Consume drains until the child's terminal closes.
type ownedRun struct {
	handle spawn.Handle
}

// Manager is the run session manager: it spawns PTY-backed runs, wires each
// to its log sink, and keeps the shared registry consistent with reality.
// Any number of Manager instances (in the same or different OS processes)
// may share one RunDir; the registry file is the only coordination medium.
type Manager struct {
	cfg     Config
	reg     *registry.Registry
	spawner spawn.Spawner
	env     *env.Env
	logger  *slog.Logger

	mu    sync.Mutex
	owned map[string]*ownedRun

	sinkMu sync.RWMutex
	sinks  []history.Sink
}

// New constructs a Manager bound to cfg's directories. It validates the
// configuration shape and performs no I/O.
func New(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:     cfg,
		reg:     registry.New(cfg.RunDir),
		spawner: spawn.NewPTY(),
		env:     env.New(),
		logger:  slog.Default(),
		owned:   make(map[string]*ownedRun),
	}, nil
}

// SetSpawner replaces the process spawner. Intended for embedding and tests.
func (m *Manager) SetSpawner(s spawn.Spawner) { m.spawner = s }

// SetLogger replaces the manager's operational logger.
func (m *Manager) SetLogger(l *slog.Logger) {
	if l != nil {
		m.logger = l
	}
}

// SetEnv replaces the environment layering applied to spawned runs.
func (m *Manager) SetEnv(e *env.Env) {
	if e != nil {
		m.env = e
	}
}

// SetGlobalEnv adds global K=V overrides for all subsequently started runs.
func (m *Manager) SetGlobalEnv(kvs []string) { m.env.SetAll(kvs) }

// SetHistorySinks installs best-effort lifecycle event destinations.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.sinkMu.Lock()
	m.sinks = sinks
	m.sinkMu.Unlock()
}

// Start spawns command under the given name. See StartSpec.
func (m *Manager) Start(ctx context.Context, name, command string) (registry.Record, error) {
	return m.StartSpec(ctx, Spec{Name: name, Command: command})
}

// StartSpec runs one registry mutation that checks name uniqueness, opens
// the log sink, spawns the process, and appends the new record, all inside
// the cross-process critical section, so two concurrent starts with the
// same name cannot both commit. On spawn failure the sink is closed and the
// registry is left untouched.
func (m *Manager) StartSpec(ctx context.Context, spec Spec) (registry.Record, error) {
	if err := spec.validate(); err != nil {
		return registry.Record{}, err
	}
	logFile := filepath.Join(m.cfg.LogDir, fmt.Sprintf("%s-%d.log", spec.Name, time.Now().UnixNano()))

	var rec registry.Record
	err := m.reg.Mutate(ctx, func(recs []registry.Record) ([]registry.Record, error) {
		for _, r := range recs {
			if r.RunName == spec.Name {
				return nil, fmt.Errorf("%w: %q", ErrRunExists, spec.Name)
			}
		}
		sink, err := NewSink(logFile)
		if err != nil {
			return nil, err
		}
		h, err := m.spawner.Spawn(ctx, spec.Command, spawn.Options{
			WorkDir: spec.WorkDir,
			Env:     m.env.Merge(spec.Env),
		})
		if err != nil {
			_ = sink.Close()
			metrics.IncSpawnFailure(spec.Name)
			return nil, fmt.Errorf("spawn %q: %w", spec.Name, err)
		}
		go sink.Consume(h.Output())
		rec = registry.Record{
			RunName: spec.Name,
			PID:     h.PID(),
			Command: spec.Command,
			LogFile: logFile,
		}
		m.track(rec, h)
		return append(recs, rec), nil
	})
	if err != nil {
		return registry.Record{}, err
	}
	m.logger.Info("run started", "name", rec.RunName, "pid", rec.PID)
	metrics.IncStart(rec.RunName)
	m.emit(history.NewEvent(history.EventStart, rec.RunName, rec.PID, rec.Command, rec.LogFile))
	return rec, nil
}

// track remembers the live handle for runs this instance owns and watches
// the one-shot exit event. Exit never prunes the registry; reconciliation
// is lazy and happens on List. Exit only releases the handle and feeds the
// audit trail.
func (m *Manager) track(rec registry.Record, h spawn.Handle) {
	m.mu.Lock()
	m.owned[rec.RunName] = &ownedRun{handle: h}
	m.mu.Unlock()

	go func() {
		st, ok := <-h.Exited()
		if !ok {
			return
		}
		m.mu.Lock()
		delete(m.owned, rec.RunName)
		m.mu.Unlock()
		m.logger.Debug("run exited", "name", rec.RunName, "pid", rec.PID, "code", st.Code)
		e := history.NewEvent(history.EventExit, rec.RunName, rec.PID, rec.Command, rec.LogFile)
		e.ExitCode = st.Code
		m.emit(e)
	}()
}

// List returns the registered runs in insertion order, pruning any whose
// process is no longer alive. When every pid answers the liveness probe the
// read is lock-free; otherwise one Mutate re-probes under the lock and
// persists the surviving records.
func (m *Manager) List(ctx context.Context) ([]registry.Record, error) {
	recs := m.reg.Load()
	anyDead := false
	for _, r := range recs {
		if alive, _ := (detector.PIDDetector{PID: r.PID}).Alive(); !alive {
			anyDead = true
			break
		}
	}
	if !anyDead {
		metrics.SetActiveRuns(len(recs))
		return recs, nil
	}

	var survivors []registry.Record
	var reaped []registry.Record
	err := m.reg.Mutate(ctx, func(cur []registry.Record) ([]registry.Record, error) {
		survivors = survivors[:0]
		reaped = reaped[:0]
		for _, r := range cur {
			if alive, _ := (detector.PIDDetector{PID: r.PID}).Alive(); alive {
				survivors = append(survivors, r)
			} else {
				reaped = append(reaped, r)
			}
		}
		return survivors, nil
	})
	if err != nil {
		return nil, err
	}
	for _, r := range reaped {
		m.logger.Info("run reaped", "name", r.RunName, "pid", r.PID)
		metrics.IncReap(r.RunName)
		metrics.Forget(r.RunName)
		m.emit(history.NewEvent(history.EventReap, r.RunName, r.PID, r.Command, r.LogFile))
	}
	metrics.SetActiveRuns(len(survivors))
	return survivors, nil
}

// Detail is a registry record augmented with process metadata for display.
// StartedAt is Unix seconds as reported by the OS, zero when unavailable.
type Detail struct {
	registry.Record
	StartedAt int64  `json:"startedAt,omitempty"`
	Uptime    string `json:"uptime,omitempty"`
}

// ListDetailed lists the live runs with their start time and uptime
// attached. It reaps through List first; the start time is display-only
// and plays no part in liveness decisions.
func (m *Manager) ListDetailed(ctx context.Context) ([]Detail, error) {
	recs, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	out := make([]Detail, 0, len(recs))
	for _, r := range recs {
		d := Detail{Record: r}
		if start := detector.StartUnix(r.PID); start > 0 {
			d.StartedAt = start
			if now > start {
				d.Uptime = (time.Duration(now-start) * time.Second).String()
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// Kill signals the named run and removes its record under the lock. Signal
// delivery is best-effort and never awaited; an already-dead process is not
// an error. Unknown names return ErrRunNotFound.
func (m *Manager) Kill(ctx context.Context, name string) error {
	var victim *registry.Record
	err := m.reg.Mutate(ctx, func(cur []registry.Record) ([]registry.Record, error) {
		next := make([]registry.Record, 0, len(cur))
		for _, r := range cur {
			if r.RunName == name && victim == nil {
				v := r
				victim = &v
				continue
			}
			next = append(next, r)
		}
		if victim == nil {
			return nil, fmt.Errorf("%w: %q", ErrRunNotFound, name)
		}
		return next, nil
	})
	if err != nil {
		return err
	}

	m.signal(name, victim.PID)
	m.logger.Info("run killed", "name", name, "pid", victim.PID)
	metrics.IncKill(name)
	metrics.Forget(name)
	m.emit(history.NewEvent(history.EventKill, name, victim.PID, victim.Command, victim.LogFile))
	return nil
}

// signal terminates through the live handle when this instance owns the
// run, and falls back to a direct process-group kill for runs started by
// another instance. Failures are swallowed: the process may already be gone.
func (m *Manager) signal(name string, pid int) {
	m.mu.Lock()
	o := m.owned[name]
	m.mu.Unlock()
	if o != nil {
		if err := o.handle.Kill(); err != nil {
			m.logger.Debug("kill via handle failed", "name", name, "error", err)
		}
		return
	}
	if err := killGroup(pid); err != nil {
		m.logger.Debug("kill by pid failed", "name", name, "pid", pid, "error", err)
	}
}

// Write sends input to a run's terminal. Only runs owned by this instance
// have a live handle to write to.
func (m *Manager) Write(name string, p []byte) error {
	m.mu.Lock()
	o := m.owned[name]
	m.mu.Unlock()
	if o == nil {
		return fmt.Errorf("%w: %q", ErrRunNotFound, name)
	}
	_, err := o.handle.Write(p)
	return err
}

// Resize adjusts the terminal of an owned run.
func (m *Manager) Resize(name string, rows, cols uint16) error {
	m.mu.Lock()
	o := m.owned[name]
	m.mu.Unlock()
	if o == nil {
		return fmt.Errorf("%w: %q", ErrRunNotFound, name)
	}
	return o.handle.Resize(rows, cols)
}

// ActiveRuns reports the current registry as name→pid pairs. It feeds the
// metrics resource collector.
func (m *Manager) ActiveRuns(ctx context.Context) (map[string]int, error) {
	recs, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(recs))
	for _, r := range recs {
		out[r.RunName] = r.PID
	}
	return out, nil
}

// RegistryPath exposes the registry file location for diagnostics.
func (m *Manager) RegistryPath() string { return m.reg.Path() }

// Close releases closable history sinks. Runs keep going: the manager never
// owns its children's lifetimes beyond explicit Kill calls.
func (m *Manager) Close() error {
	m.sinkMu.Lock()
	sinks := m.sinks
	m.sinks = nil
	m.sinkMu.Unlock()
	var firstErr error
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// emit fans one event out to every history sink, best-effort with a bounded
// wait. History must never block or fail run management.
func (m *Manager) emit(e history.Event) {
	m.sinkMu.RLock()
	sinks := m.sinks
	m.sinkMu.RUnlock()
	if len(sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			m.logger.Warn("history sink failed", "event", string(e.Type), "run", e.RunName, "error", err)
		}
	}
}
