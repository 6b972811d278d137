package run

import (
	"errors"
	"strings"

	"github.com/loykin/composr/internal/registry"
)

// Record re-exports the registry's record type; it is the manager's result
// shape as well.
type Record = registry.Record

// Config binds a Manager to its two directories. RunDir holds the shared
// registry file; LogDir holds per-run log files. Construction only checks
// shape; directories are created lazily on first use.
type Config struct {
	RunDir string `json:"run_dir" toml:"run_dir" mapstructure:"run_dir"`
	LogDir string `json:"log_dir" toml:"log_dir" mapstructure:"log_dir"`
}

func (c Config) validate() error {
	if strings.TrimSpace(c.RunDir) == "" {
		return errors.New("run_dir is required")
	}
	if strings.TrimSpace(c.LogDir) == "" {
		return errors.New("log_dir is required")
	}
	return nil
}

// Spec describes one run to start. Name must be unique among currently
// registered runs; Command is executed verbatim under the platform shell.
// WorkDir and Env apply at spawn time only and are not persisted.
type Spec struct {
	Name    string   `json:"name" toml:"name" mapstructure:"name"`
	Command string   `json:"command" toml:"command" mapstructure:"command"`
	WorkDir string   `json:"work_dir,omitempty" toml:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env,omitempty" toml:"env" mapstructure:"env"`
}

func (s Spec) validate() error {
	if s.Name == "" {
		return errors.New("run name is required")
	}
	if strings.ContainsAny(s.Name, "/\\") || strings.Contains(s.Name, "..") {
		return errors.New("run name must not contain path separators or '..'")
	}
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("run command is required")
	}
	return nil
}
