package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/loykin/composr"
	icfg "github.com/loykin/composr/internal/config"
	"github.com/loykin/composr/pkg/client"
)

type command struct {
	global *GlobalFlags
}

// localManager builds a manager bound to the shared run directory. Every CLI
// invocation gets its own instance; the registry file does the coordination.
func (c *command) localManager() (*composr.Manager, *icfg.Config, error) {
	var cfg *icfg.Config
	if c.global.ConfigPath != "" {
		loaded, err := composr.LoadConfig(c.global.ConfigPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	mc, err := resolveDirs(c.global)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := composr.New(mc)
	if err != nil {
		return nil, nil, err
	}
	if cfg != nil {
		e, err := cfg.BuildEnv()
		if err != nil {
			return nil, nil, err
		}
		mgr.SetEnv(e)
	}
	return mgr, cfg, nil
}

func (c *command) apiClient(apiURL string, timeout time.Duration) *client.Client {
	return client.New(client.Config{BaseURL: apiURL, Timeout: timeout})
}

// Start creates a new run, locally or via a remote daemon.
func (c *command) Start(f StartFlags) error {
	spec := composr.Spec{
		Name:    f.Name,
		Command: f.Cmd,
		WorkDir: f.WorkDir,
		Env:     f.EnvKVs,
	}
	if f.FilePath != "" {
		loaded, err := loadSpecFile(f.FilePath)
		if err != nil {
			return err
		}
		spec = loaded
	}
	if spec.Name == "" {
		return fmt.Errorf("--name is required (or use --file)")
	}
	// A bare name can refer to a [[runs]] entry from the config file.
	if spec.Command == "" && c.global.ConfigPath != "" {
		cfg, err := composr.LoadConfig(c.global.ConfigPath)
		if err != nil {
			return err
		}
		if predefined, ok := cfg.RunSpec(spec.Name); ok {
			spec = predefined
		}
	}
	if spec.Command == "" {
		return fmt.Errorf("--cmd is required (or use --file, or a [[runs]] config entry)")
	}

	ctx := context.Background()
	if f.APIUrl != "" {
		api := c.apiClient(f.APIUrl, f.APITimeout)
		rec, err := api.Start(ctx, client.StartRequest{
			Name:    spec.Name,
			Command: spec.Command,
			WorkDir: spec.WorkDir,
			Env:     spec.Env,
		})
		if err != nil {
			return err
		}
		printJSON(rec)
		return nil
	}

	mgr, _, err := c.localManager()
	if err != nil {
		return err
	}
	rec, err := mgr.StartSpec(ctx, spec)
	if err != nil {
		return err
	}
	printJSON(rec)
	return nil
}

// Status prints the live runs, pruning dead ones as a side effect. With
// --detailed each entry carries the process start time and uptime.
func (c *command) Status(f StatusFlags) error {
	ctx := context.Background()
	if f.Detailed {
		return c.statusDetailed(ctx, f)
	}
	var recs []composr.Record
	if f.APIUrl != "" {
		api := c.apiClient(f.APIUrl, f.APITimeout)
		infos, err := api.List(ctx)
		if err != nil {
			return err
		}
		for _, info := range infos {
			recs = append(recs, composr.Record{
				RunName: info.RunName,
				PID:     info.PID,
				Command: info.Command,
				LogFile: info.LogFile,
			})
		}
	} else {
		mgr, _, err := c.localManager()
		if err != nil {
			return err
		}
		recs, err = mgr.List(ctx)
		if err != nil {
			return err
		}
	}
	if f.Name != "" {
		filtered := recs[:0]
		for _, rec := range recs {
			if rec.RunName == f.Name {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
		if len(recs) == 0 {
			return fmt.Errorf("run not found: %s", f.Name)
		}
	}
	if recs == nil {
		recs = []composr.Record{}
	}
	printJSON(recs)
	return nil
}

func (c *command) statusDetailed(ctx context.Context, f StatusFlags) error {
	var dets []composr.Detail
	if f.APIUrl != "" {
		infos, err := c.apiClient(f.APIUrl, f.APITimeout).ListDetailed(ctx)
		if err != nil {
			return err
		}
		for _, info := range infos {
			dets = append(dets, composr.Detail{
				Record: composr.Record{
					RunName: info.RunName,
					PID:     info.PID,
					Command: info.Command,
					LogFile: info.LogFile,
				},
				StartedAt: info.StartedAt,
				Uptime:    info.Uptime,
			})
		}
	} else {
		mgr, _, err := c.localManager()
		if err != nil {
			return err
		}
		dets, err = mgr.ListDetailed(ctx)
		if err != nil {
			return err
		}
	}
	if f.Name != "" {
		filtered := dets[:0]
		for _, d := range dets {
			if d.RunName == f.Name {
				filtered = append(filtered, d)
			}
		}
		dets = filtered
		if len(dets) == 0 {
			return fmt.Errorf("run not found: %s", f.Name)
		}
	}
	if dets == nil {
		dets = []composr.Detail{}
	}
	printJSON(dets)
	return nil
}

// Kill terminates a run by name.
func (c *command) Kill(f KillFlags) error {
	if f.Name == "" {
		return fmt.Errorf("run name is required")
	}
	ctx := context.Background()
	if f.APIUrl != "" {
		return c.apiClient(f.APIUrl, f.APITimeout).Kill(ctx, f.Name)
	}
	mgr, _, err := c.localManager()
	if err != nil {
		return err
	}
	if err := mgr.Kill(ctx, f.Name); err != nil {
		return err
	}
	fmt.Printf("killed %s\n", f.Name)
	return nil
}

// Logs prints (and optionally follows) a run's log file.
func (c *command) Logs(f LogsFlags) error {
	if f.Name == "" {
		return fmt.Errorf("run name is required")
	}
	ctx := context.Background()
	if f.APIUrl != "" {
		if f.Follow {
			return fmt.Errorf("--follow requires local access to the log file")
		}
		data, err := c.apiClient(f.APIUrl, f.APITimeout).Logs(ctx, f.Name, f.TailBytes)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	mgr, _, err := c.localManager()
	if err != nil {
		return err
	}
	recs, err := mgr.List(ctx)
	if err != nil {
		return err
	}
	var logFile string
	for _, rec := range recs {
		if rec.RunName == f.Name {
			logFile = rec.LogFile
			break
		}
	}
	if logFile == "" {
		return fmt.Errorf("run not found: %s", f.Name)
	}
	return streamLog(logFile, f.TailBytes, f.Follow, os.Stdout)
}

// streamLog copies a log file to w, optionally starting tailBytes from the
// end and then polling for appended data until interrupted.
func streamLog(path string, tailBytes int64, follow bool, w io.Writer) error {
	// #nosec G304 -- path comes from the registry, not user input
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = file.Close() }()

	if tailBytes > 0 {
		if info, err := file.Stat(); err == nil && info.Size() > tailBytes {
			if _, err := file.Seek(info.Size()-tailBytes, io.SeekStart); err != nil {
				return err
			}
		}
	}
	if _, err := io.Copy(w, file); err != nil {
		return err
	}
	if !follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := io.Copy(w, file); err != nil {
				return err
			}
		}
	}
}

// groupSpec resolves a named group from the config file.
func (c *command) groupSpec(name string) (composr.GroupSpec, error) {
	if name == "" {
		return composr.GroupSpec{}, fmt.Errorf("group name is required")
	}
	if c.global.ConfigPath == "" {
		return composr.GroupSpec{}, fmt.Errorf("group commands need --config with [[groups]] definitions")
	}
	cfg, err := composr.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return composr.GroupSpec{}, err
	}
	members, err := cfg.GroupMembers(name)
	if err != nil {
		return composr.GroupSpec{}, err
	}
	return composr.GroupSpec{Name: name, Members: members}, nil
}

// GroupStart starts every run in a named group.
func (c *command) GroupStart(f GroupFlags) error {
	gs, err := c.groupSpec(f.GroupName)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if f.APIUrl != "" {
		api := c.apiClient(f.APIUrl, f.APITimeout)
		for _, member := range gs.Members {
			if _, err := api.Start(ctx, client.StartRequest{
				Name:    member.Name,
				Command: member.Command,
				WorkDir: member.WorkDir,
				Env:     member.Env,
			}); err != nil {
				return fmt.Errorf("start %s: %w", member.Name, err)
			}
		}
		fmt.Printf("started group %s (%d runs)\n", gs.Name, len(gs.Members))
		return nil
	}
	mgr, _, err := c.localManager()
	if err != nil {
		return err
	}
	if err := composr.NewGroup(mgr).Start(ctx, gs); err != nil {
		return err
	}
	fmt.Printf("started group %s (%d runs)\n", gs.Name, len(gs.Members))
	return nil
}

// GroupKill kills every run in a named group.
func (c *command) GroupKill(f GroupFlags) error {
	gs, err := c.groupSpec(f.GroupName)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if f.APIUrl != "" {
		api := c.apiClient(f.APIUrl, f.APITimeout)
		for _, member := range gs.Members {
			if err := api.Kill(ctx, member.Name); err != nil {
				fmt.Printf("kill %s: %v\n", member.Name, err)
			}
		}
		return nil
	}
	mgr, _, err := c.localManager()
	if err != nil {
		return err
	}
	return composr.NewGroup(mgr).Kill(ctx, gs)
}

// GroupStatus prints the live members of a named group.
func (c *command) GroupStatus(f GroupFlags) error {
	gs, err := c.groupSpec(f.GroupName)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if f.APIUrl != "" {
		api := c.apiClient(f.APIUrl, f.APITimeout)
		infos, err := api.List(ctx)
		if err != nil {
			return err
		}
		members := make(map[string]bool, len(gs.Members))
		for _, m := range gs.Members {
			members[m.Name] = true
		}
		recs := []client.RunInfo{}
		for _, info := range infos {
			if members[info.RunName] {
				recs = append(recs, info)
			}
		}
		printJSON(recs)
		return nil
	}
	mgr, _, err := c.localManager()
	if err != nil {
		return err
	}
	recs, err := composr.NewGroup(mgr).Status(ctx, gs)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []composr.Record{}
	}
	printJSON(recs)
	return nil
}
