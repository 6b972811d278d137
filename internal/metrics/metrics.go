package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register and
// no-op until then.
var (
	regOK atomic.Bool

	runStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "composr",
			Subsystem: "run",
			Name:      "starts_total",
			Help:      "Number of successful run starts.",
		}, []string{"name"},
	)
	runKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "composr",
			Subsystem: "run",
			Name:      "kills_total",
			Help:      "Number of runs terminated via kill.",
		}, []string{"name"},
	)
	runReaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "composr",
			Subsystem: "run",
			Name:      "reaps_total",
			Help:      "Number of dead runs pruned from the registry.",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "composr",
			Subsystem: "run",
			Name:      "spawn_failures_total",
			Help:      "Number of run starts that failed to spawn.",
		}, []string{"name"},
	)
	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "composr",
			Subsystem: "run",
			Name:      "active",
			Help:      "Runs currently present in the registry, as of the last list.",
		},
	)
	runCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "composr",
			Subsystem: "run",
			Name:      "cpu_percent",
			Help:      "Sampled CPU usage per run.",
		}, []string{"name"},
	)
	runMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "composr",
			Subsystem: "run",
			Name:      "memory_rss_bytes",
			Help:      "Sampled resident set size per run.",
		}, []string{"name"},
	)
)

// Register registers all collectors with the provided registerer. It is safe
// to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runStarts, runKills, runReaps, spawnFailures, activeRuns, runCPUPercent, runMemoryBytes}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route and server.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers used by internal packages; they no-op until Register is called.

func IncStart(name string) {
	if regOK.Load() {
		runStarts.WithLabelValues(name).Inc()
	}
}

func IncKill(name string) {
	if regOK.Load() {
		runKills.WithLabelValues(name).Inc()
	}
}

func IncReap(name string) {
	if regOK.Load() {
		runReaps.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
	}
}

func SetActiveRuns(n int) {
	if regOK.Load() {
		activeRuns.Set(float64(n))
	}
}

func SetRunCPU(name string, pct float64) {
	if regOK.Load() {
		runCPUPercent.WithLabelValues(name).Set(pct)
	}
}

func SetRunMemory(name string, bytes uint64) {
	if regOK.Load() {
		runMemoryBytes.WithLabelValues(name).Set(float64(bytes))
	}
}

// Forget drops per-run series once a run leaves the registry so the scrape
// surface does not grow without bound.
func Forget(name string) {
	if !regOK.Load() {
		return
	}
	runCPUPercent.DeleteLabelValues(name)
	runMemoryBytes.DeleteLabelValues(name)
}
