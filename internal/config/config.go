package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/loykin/composr/internal/env"
	"github.com/loykin/composr/internal/logger"
	"github.com/loykin/composr/internal/run"
	"github.com/spf13/viper"
)

// Config is the top-level TOML structure:
//
//	run_dir = "/var/lib/composr/run"
//	log_dir = "/var/log/composr/runs"
//	env = ["FOO=bar"]
//	env_files = ["/etc/composr/agents.env"]
//	use_os_env = true
//
//	[log]
//	level = "info"
//	file = "/var/log/composr/composr.log"
//
//	[server]
//	listen = ":8080"
//	base_path = "/api"
//
//	[metrics]
//	listen = ":9090"
//	interval = "15s"
//
//	[history]
//	dsn = "sqlite:///var/lib/composr/history.db"
//
//	[[runs]]
//	name = "reviewer"
//	command = "claude --permission-mode plan"
//	work_dir = "/srv/repo"
//
//	[[groups]]
//	name = "swarm"
//	members = ["reviewer", "builder"]
type Config struct {
	RunDir   string   `toml:"run_dir" mapstructure:"run_dir"`
	LogDir   string   `toml:"log_dir" mapstructure:"log_dir"`
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv *bool    `toml:"use_os_env" mapstructure:"use_os_env"`

	Log     logger.Config `toml:"log" mapstructure:"log"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	History HistoryConfig `toml:"history" mapstructure:"history"`

	Runs   []run.Spec    `toml:"runs" mapstructure:"runs"`
	Groups []GroupConfig `toml:"groups" mapstructure:"groups"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type MetricsConfig struct {
	Listen   string        `toml:"listen" mapstructure:"listen"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type GroupConfig struct {
	Name    string   `toml:"name" mapstructure:"name"`
	Members []string `toml:"members" mapstructure:"members"`
}

// Load reads and decodes a TOML config file. Relative run/log directories
// are resolved against the config file's own directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	base := filepath.Dir(path)
	if c.RunDir != "" && !filepath.IsAbs(c.RunDir) {
		c.RunDir = filepath.Join(base, c.RunDir)
	}
	if c.LogDir != "" && !filepath.IsAbs(c.LogDir) {
		c.LogDir = filepath.Join(base, c.LogDir)
	}
	return &c, nil
}

// ManagerConfig maps the file config onto the run manager's shape.
func (c *Config) ManagerConfig() run.Config {
	return run.Config{RunDir: c.RunDir, LogDir: c.LogDir}
}

// BuildEnv composes the layered run environment declared in the file:
// OS env (unless disabled), then env_files in order, then the env list.
func (c *Config) BuildEnv() (*env.Env, error) {
	e := env.New()
	if c.UseOSEnv != nil {
		e.UseOS(*c.UseOSEnv)
	}
	for _, p := range c.EnvFiles {
		if err := e.LoadFile(p); err != nil {
			return nil, err
		}
	}
	e.SetAll(c.Env)
	return e, nil
}

// RunSpec returns the predefined run spec with the given name.
func (c *Config) RunSpec(name string) (run.Spec, bool) {
	for _, s := range c.Runs {
		if s.Name == name {
			return s, true
		}
	}
	return run.Spec{}, false
}

// GroupMembers resolves a group's member names to their run specs. Unknown
// members are an error: a half-started group is worse than none.
func (c *Config) GroupMembers(groupName string) ([]run.Spec, error) {
	var g *GroupConfig
	for i := range c.Groups {
		if c.Groups[i].Name == groupName {
			g = &c.Groups[i]
			break
		}
	}
	if g == nil {
		return nil, fmt.Errorf("group %q not defined", groupName)
	}
	specs := make([]run.Spec, 0, len(g.Members))
	for _, m := range g.Members {
		s, ok := c.RunSpec(m)
		if !ok {
			return nil, fmt.Errorf("group %q references undefined run %q", groupName, m)
		}
		specs = append(specs, s)
	}
	return specs, nil
}
