package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/composr"
)

// defaultBaseDir is where run state lives when neither flags nor a config
// file say otherwise.
func defaultBaseDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".composr")
	}
	return filepath.Join(os.TempDir(), "composr")
}

// resolveDirs picks run/log directories from config file, flags, then the
// per-user default, in that order.
func resolveDirs(global *GlobalFlags) (composr.Config, error) {
	if global.ConfigPath != "" {
		cfg, err := composr.LoadConfig(global.ConfigPath)
		if err != nil {
			return composr.Config{}, err
		}
		mc := cfg.ManagerConfig()
		if mc.RunDir != "" && mc.LogDir != "" {
			return mc, nil
		}
	}
	base := defaultBaseDir()
	mc := composr.Config{
		RunDir: global.RunDir,
		LogDir: global.LogDir,
	}
	if mc.RunDir == "" {
		mc.RunDir = filepath.Join(base, "run")
	}
	if mc.LogDir == "" {
		mc.LogDir = filepath.Join(base, "logs")
	}
	return mc, nil
}

// loadSpecFile reads a run spec from a JSON file, e.g. one generated by
// `composr template`.
func loadSpecFile(path string) (composr.Spec, error) {
	var spec composr.Spec
	// #nosec G304 -- path is a user-provided CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("read spec file: %w", err)
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("parse spec file %s: %w", path, err)
	}
	if spec.Name == "" || spec.Command == "" {
		return spec, fmt.Errorf("spec file %s must set name and command", path)
	}
	return spec, nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
