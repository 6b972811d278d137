package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testCommand(t *testing.T) command {
	t.Helper()
	dir := t.TempDir()
	return command{global: &GlobalFlags{
		RunDir: filepath.Join(dir, "run"),
		LogDir: filepath.Join(dir, "logs"),
	}}
}

func listNames(t *testing.T, c command) []string {
	t.Helper()
	mgr, _, err := c.localManager()
	if err != nil {
		t.Fatalf("localManager: %v", err)
	}
	recs, err := mgr.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		names = append(names, rec.RunName)
	}
	return names
}

func TestStartStatusKillLocal(t *testing.T) {
	c := testCommand(t)

	if err := c.Start(StartFlags{Name: "sleeper", Cmd: "sleep 300"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	names := listNames(t, c)
	if len(names) != 1 || names[0] != "sleeper" {
		t.Fatalf("unexpected runs after start: %v", names)
	}

	if err := c.Status(StatusFlags{}); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if err := c.Status(StatusFlags{Name: "sleeper"}); err != nil {
		t.Fatalf("Status by name: %v", err)
	}
	if err := c.Status(StatusFlags{Name: "sleeper", Detailed: true}); err != nil {
		t.Fatalf("Status detailed: %v", err)
	}
	if err := c.Status(StatusFlags{Name: "ghost"}); err == nil {
		t.Fatal("expected error for unknown run name")
	}

	if err := c.Kill(KillFlags{Name: "sleeper"}); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if names := listNames(t, c); len(names) != 0 {
		t.Fatalf("expected empty registry after kill, got %v", names)
	}
}

func TestStartFromSpecFile(t *testing.T) {
	c := testCommand(t)
	specPath := filepath.Join(t.TempDir(), "spec.json")
	writeFile(t, specPath, `{"name": "filed", "command": "sleep 300"}`)

	if err := c.Start(StartFlags{FilePath: specPath}); err != nil {
		t.Fatalf("Start from file: %v", err)
	}
	defer func() { _ = c.Kill(KillFlags{Name: "filed"}) }()

	names := listNames(t, c)
	if len(names) != 1 || names[0] != "filed" {
		t.Fatalf("unexpected runs: %v", names)
	}
}

func TestStartFromConfigEntry(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "composr.toml")
	writeFile(t, configPath, `
run_dir = "run"
log_dir = "logs"

[[runs]]
name = "preset"
command = "sleep 300"
`)
	c := command{global: &GlobalFlags{ConfigPath: configPath}}

	if err := c.Start(StartFlags{Name: "preset"}); err != nil {
		t.Fatalf("Start from config entry: %v", err)
	}
	defer func() { _ = c.Kill(KillFlags{Name: "preset"}) }()

	names := listNames(t, c)
	if len(names) != 1 || names[0] != "preset" {
		t.Fatalf("unexpected runs: %v", names)
	}
}

func TestGroupCommandsLocal(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "composr.toml")
	writeFile(t, configPath, `
run_dir = "run"
log_dir = "logs"

[[runs]]
name = "alpha"
command = "sleep 300"

[[runs]]
name = "beta"
command = "sleep 300"

[[groups]]
name = "pair"
members = ["alpha", "beta"]
`)
	c := command{global: &GlobalFlags{ConfigPath: configPath}}

	if err := c.GroupStart(GroupFlags{GroupName: "pair"}); err != nil {
		t.Fatalf("GroupStart: %v", err)
	}
	if err := c.GroupStatus(GroupFlags{GroupName: "pair"}); err != nil {
		t.Fatalf("GroupStatus: %v", err)
	}
	names := listNames(t, c)
	if len(names) != 2 {
		t.Fatalf("expected 2 group members, got %v", names)
	}
	if err := c.GroupKill(GroupFlags{GroupName: "pair"}); err != nil {
		t.Fatalf("GroupKill: %v", err)
	}
	if names := listNames(t, c); len(names) != 0 {
		t.Fatalf("expected empty registry after group kill, got %v", names)
	}

	if err := c.GroupStart(GroupFlags{GroupName: "nope"}); err == nil {
		t.Fatal("expected error for undefined group")
	}
}

func TestLogsLocal(t *testing.T) {
	c := testCommand(t)
	if err := c.Start(StartFlags{Name: "echoer", Cmd: "echo captured; sleep 300"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = c.Kill(KillFlags{Name: "echoer"}) }()

	// Output lands in the log asynchronously; Logs itself must not error
	// regardless of how much has been flushed yet.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := c.Logs(LogsFlags{Name: "echoer"}); err == nil {
			break
		} else if time.Now().After(deadline) {
			t.Fatalf("Logs kept failing: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := c.Logs(LogsFlags{Name: "missing"}); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestKillSurvivesAcrossCommands(t *testing.T) {
	c := testCommand(t)
	if err := c.Start(StartFlags{Name: "doomed", Cmd: "sleep 300"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A second command value with the same flags simulates a fresh CLI
	// invocation sharing the directory.
	c2 := command{global: c.global}
	if err := c2.Kill(KillFlags{Name: "doomed"}); err != nil {
		t.Fatalf("cross-invocation Kill: %v", err)
	}
	if names := listNames(t, c); len(names) != 0 {
		t.Fatalf("expected empty registry, got %v", names)
	}
}

func TestSpecValidationViaStart(t *testing.T) {
	c := testCommand(t)
	if err := c.Start(StartFlags{Name: "bad/name", Cmd: "true"}); err == nil {
		t.Fatal("expected error for name with path separator")
	}
}
