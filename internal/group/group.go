package group

import (
	"context"
	"errors"
	"fmt"

	"github.com/loykin/composr/internal/registry"
	"github.com/loykin/composr/internal/run"
)

// Spec defines a named set of runs managed together, typically one agent
// swarm. Name is a logical identifier used for diagnostics only; members
// keep their own run names in the shared registry.
type Spec struct {
	Name    string
	Members []run.Spec
}

// Group provides start/kill/status operations over a set of runs using an
// underlying run.Manager.
type Group struct {
	mgr *run.Manager
}

func New(mgr *run.Manager) *Group { return &Group{mgr: mgr} }

// Start starts all members in order. If any member fails, the ones already
// started in this call are killed again and the error is returned.
func (g *Group) Start(ctx context.Context, gs Spec) error {
	started := make([]string, 0, len(gs.Members))
	for _, m := range gs.Members {
		if _, err := g.mgr.StartSpec(ctx, m); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = g.mgr.Kill(ctx, started[i])
			}
			return fmt.Errorf("group %s start failed on %s: %w", gs.Name, m.Name, err)
		}
		started = append(started, m.Name)
	}
	return nil
}

// Kill kills all members best-effort; members that are already gone are
// skipped. Returns the first unexpected error encountered.
func (g *Group) Kill(ctx context.Context, gs Spec) error {
	var firstErr error
	for _, m := range gs.Members {
		if err := g.mgr.Kill(ctx, m.Name); err != nil {
			if errors.Is(err, run.ErrRunNotFound) {
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Status returns the registry records for the group's members, in registry
// order. Members with no record (never started, exited and pruned) are
// simply absent.
func (g *Group) Status(ctx context.Context, gs Spec) ([]registry.Record, error) {
	all, err := g.mgr.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(gs.Members))
	for _, m := range gs.Members {
		names[m.Name] = struct{}{}
	}
	var out []registry.Record
	for _, r := range all {
		if _, ok := names[r.RunName]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
