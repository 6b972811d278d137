package metrics

import (
	"context"
	"log/slog"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// RunLister is the slice of the run manager the collector needs: the current
// registry contents as (name, pid) pairs.
type RunLister interface {
	ActiveRuns(ctx context.Context) (map[string]int, error)
}

// ResourceCollector periodically samples CPU and RSS for every registered
// run and publishes them as gauges. Sampling failures for individual pids
// are skipped; a run may exit between listing and sampling.
type ResourceCollector struct {
	lister   RunLister
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewResourceCollector(lister RunLister, interval time.Duration, logger *slog.Logger) *ResourceCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceCollector{lister: lister, interval: interval, logger: logger}
}

// Start launches the sampling loop. Stop must be called to release it.
func (c *ResourceCollector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx)
}

func (c *ResourceCollector) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *ResourceCollector) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

func (c *ResourceCollector) sample(ctx context.Context) {
	runs, err := c.lister.ActiveRuns(ctx)
	if err != nil {
		c.logger.Debug("resource sample skipped", "error", err)
		return
	}
	SetActiveRuns(len(runs))
	for name, pid := range runs {
		p, err := gopsproc.NewProcess(int32(pid))
		if err != nil {
			continue
		}
		if pct, err := p.CPUPercent(); err == nil {
			SetRunCPU(name, pct)
		}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			SetRunMemory(name, mem.RSS)
		}
	}
}
