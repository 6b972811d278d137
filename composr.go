package composr

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	icfg "github.com/loykin/composr/internal/config"
	"github.com/loykin/composr/internal/env"
	pg "github.com/loykin/composr/internal/group"
	"github.com/loykin/composr/internal/history"
	"github.com/loykin/composr/internal/logger"
	"github.com/loykin/composr/internal/metrics"
	"github.com/loykin/composr/internal/run"
	iapi "github.com/loykin/composr/internal/server"
	"github.com/loykin/composr/internal/spawn"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = run.Config

type Spec = run.Spec

type Record = run.Record

type Detail = run.Detail

type HistorySink = history.Sink

type LogConfig = logger.Config

// Sentinel errors surfaced by Manager operations.
var (
	ErrRunExists   = run.ErrRunExists
	ErrRunNotFound = run.ErrRunNotFound
)

// Manager is a thin facade over internal/run.Manager.
// It provides a stable public API for embedding.

type Manager struct{ inner *run.Manager }

func New(cfg Config) (*Manager, error) {
	inner, err := run.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{inner: inner}, nil
}

func (m *Manager) SetLogger(l *slog.Logger)           { m.inner.SetLogger(l) }
func (m *Manager) SetGlobalEnv(kvs []string)          { m.inner.SetGlobalEnv(kvs) }
func (m *Manager) SetEnv(e *env.Env)                  { m.inner.SetEnv(e) }
func (m *Manager) SetSpawner(s spawn.Spawner)         { m.inner.SetSpawner(s) }
func (m *Manager) SetHistorySinks(s ...HistorySink)   { m.inner.SetHistorySinks(s...) }
func (m *Manager) Start(ctx context.Context, name, command string) (Record, error) {
	return m.inner.Start(ctx, name, command)
}
func (m *Manager) StartSpec(ctx context.Context, s Spec) (Record, error) {
	return m.inner.StartSpec(ctx, s)
}
func (m *Manager) List(ctx context.Context) ([]Record, error) { return m.inner.List(ctx) }
func (m *Manager) ListDetailed(ctx context.Context) ([]Detail, error) {
	return m.inner.ListDetailed(ctx)
}
func (m *Manager) Kill(ctx context.Context, name string) error {
	return m.inner.Kill(ctx, name)
}
func (m *Manager) Write(name string, p []byte) error { return m.inner.Write(name, p) }
func (m *Manager) Resize(name string, rows, cols uint16) error {
	return m.inner.Resize(name, rows, cols)
}
func (m *Manager) RegistryPath() string { return m.inner.RegistryPath() }
func (m *Manager) Close() error         { return m.inner.Close() }

// Group facade
type Group struct{ inner *pg.Group }

type GroupSpec = pg.Spec

func NewGroup(m *Manager) *Group { return &Group{inner: pg.New(m.inner)} }

func (g *Group) Start(ctx context.Context, gs GroupSpec) error { return g.inner.Start(ctx, gs) }
func (g *Group) Kill(ctx context.Context, gs GroupSpec) error  { return g.inner.Kill(ctx, gs) }
func (g *Group) Status(ctx context.Context, gs GroupSpec) ([]Record, error) {
	return g.inner.Status(ctx, gs)
}

func LoadConfig(path string) (*icfg.Config, error) {
	return icfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing the internal API using the given manager.
func NewHTTPServer(addr, basePath string, m *Manager) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, m.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewResourceCollector samples CPU and memory for the manager's live runs at
// the given interval and exports them as gauges. Call Start on the result.
func NewResourceCollector(m *Manager, interval time.Duration, l *slog.Logger) *metrics.ResourceCollector {
	return metrics.NewResourceCollector(m.inner, interval, l)
}

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
