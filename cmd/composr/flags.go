package main

import "time"

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	RunDir     string
	LogDir     string
}

// StartFlags Flag structs to decouple cobra from logic for testing.
type StartFlags struct {
	Name     string
	Cmd      string
	FilePath string
	WorkDir  string
	EnvKVs   []string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	Name     string
	Detailed bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type KillFlags struct {
	Name string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type LogsFlags struct {
	Name      string
	Follow    bool
	TailBytes int64
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type GroupFlags struct {
	GroupName string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type TemplateCreateFlags struct {
	Type   string
	Name   string
	Output string
	Force  bool
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}
