package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/composr"
	"github.com/loykin/composr/internal/history/factory"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	startFlags := &StartFlags{}
	statusFlags := &StatusFlags{}
	killFlags := &KillFlags{}
	logsFlags := &LogsFlags{}
	groupFlags := &GroupFlags{}
	templateFlags := &TemplateCreateFlags{}

	composrCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createStartCommand(composrCommand, startFlags),
		createStatusCommand(composrCommand, statusFlags),
		createKillCommand(composrCommand, killFlags),
		createLogsCommand(composrCommand, logsFlags),
		createGroupStartCommand(composrCommand, groupFlags),
		createGroupKillCommand(composrCommand, groupFlags),
		createGroupStatusCommand(composrCommand, groupFlags),
		createTemplateCommand(composrCommand, templateFlags),
		createServeCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "composr",
		Short: "Run session manager for terminal agents",
		Long: `Composr spawns PTY-backed runs, captures their output to per-run log
files, and tracks them in a shared on-disk registry. Any number of composr
invocations can operate on the same directory concurrently; the registry
file is the only coordination medium.

Examples:
  composr start --name=reviewer --cmd="claude --permission-mode plan"
  composr status
  composr logs reviewer -f
  composr kill --name=reviewer
  composr serve --config=composr.toml   # optional HTTP daemon`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.RunDir, "run-dir", "", "registry directory (default ~/.composr/run)")
	root.PersistentFlags().StringVar(&flags.LogDir, "log-dir", "", "run log directory (default ~/.composr/logs)")
	return root
}

// createStartCommand creates the start subcommand
func createStartCommand(composrCommand command, flags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new run",
		Long: `Start a new PTY-backed run and register it.

Examples:
  composr start --name=reviewer --cmd="claude --permission-mode plan"
  composr start --name=build --cmd="make watch" --work-dir=/srv/repo
  composr start --file=templates/claude-sample.json
  composr start --name=api --api-url=http://remote:8080/api --cmd="./api"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return composrCommand.Start(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "run name (unique within the registry)")
	cmd.Flags().StringVar(&flags.Cmd, "cmd", "", "shell command to run")
	cmd.Flags().StringVar(&flags.FilePath, "file", "", "JSON run spec file (overrides --name/--cmd)")
	cmd.Flags().StringVar(&flags.WorkDir, "work-dir", "", "working directory for the run")
	cmd.Flags().StringSliceVar(&flags.EnvKVs, "env", nil, "extra KEY=VALUE env entries (repeatable)")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(composrCommand command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List live runs",
		Long: `List registered runs. Entries whose process has exited are pruned
from the registry as a side effect of listing.

Examples:
  composr status
  composr status --name=reviewer
  composr status --detailed
  composr status --api-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return composrCommand.Status(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "show a single run (optional)")
	cmd.Flags().BoolVar(&flags.Detailed, "detailed", false, "include process start time and uptime")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

// createKillCommand creates the kill subcommand
func createKillCommand(composrCommand command, flags *KillFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Kill a run",
		Long: `Remove a run from the registry and SIGKILL its process group.
Works on runs started by any composr instance sharing the directory.

Examples:
  composr kill --name=reviewer
  composr kill --name=reviewer --api-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return composrCommand.Kill(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "run name (required)")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

// createLogsCommand creates the logs subcommand
func createLogsCommand(composrCommand command, flags *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [name]",
		Short: "Print or follow a run's log",
		Long: `Print a run's captured output. With --follow the command keeps
polling the log file for new data until interrupted.

Examples:
  composr logs reviewer
  composr logs reviewer --tail=4096
  composr logs reviewer -f`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *flags
			if len(args) > 0 {
				f.Name = args[0]
			}
			return composrCommand.Logs(f)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "run name")
	cmd.Flags().BoolVarP(&flags.Follow, "follow", "f", false, "keep streaming appended output")
	cmd.Flags().Int64Var(&flags.TailBytes, "tail", 0, "only print the last N bytes")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

// createGroupStartCommand creates the group-start subcommand
func createGroupStartCommand(composrCommand command, flags *GroupFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group-start",
		Short: "Start a run group",
		Long: `Start every member of a [[groups]] entry from the config file.

Example:
  composr group-start --group=swarm --config=composr.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return composrCommand.GroupStart(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.GroupName, "group", "", "group name (required)")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	if err := cmd.MarkFlagRequired("group"); err != nil {
		panic(err)
	}
	return cmd
}

// createGroupKillCommand creates the group-kill subcommand
func createGroupKillCommand(composrCommand command, flags *GroupFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group-kill",
		Short: "Kill a run group",
		Long: `Kill every member of a named group. Members that already exited
are skipped.

Example:
  composr group-kill --group=swarm --config=composr.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return composrCommand.GroupKill(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.GroupName, "group", "", "group name (required)")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	if err := cmd.MarkFlagRequired("group"); err != nil {
		panic(err)
	}
	return cmd
}

// createGroupStatusCommand creates the group-status subcommand
func createGroupStatusCommand(composrCommand command, flags *GroupFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group-status",
		Short: "Show group status",
		Long: `List the live members of a named group.

Example:
  composr group-status --group=swarm --config=composr.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return composrCommand.GroupStatus(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.GroupName, "group", "", "group name (required)")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	if err := cmd.MarkFlagRequired("group"); err != nil {
		panic(err)
	}
	return cmd
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the composr HTTP daemon",
		Long: `Start an HTTP server exposing start/status/kill/logs over REST.
The daemon is just another manager instance over the shared directory;
CLI invocations keep working against the same registry while it runs.

Examples:
  composr serve --config=composr.toml
  composr serve composr.toml
  composr serve composr.toml --daemonize`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to this file")
	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve. Use --config=composr.toml or provide as argument")
	}

	cfg, err := composr.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Server.Listen == "" {
		return fmt.Errorf("[server] listen must be configured to run serve")
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	log, closer := cfg.Log.New()
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	mgr, err := composr.New(cfg.ManagerConfig())
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	mgr.SetLogger(log)

	e, err := cfg.BuildEnv()
	if err != nil {
		return err
	}
	mgr.SetEnv(e)

	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		if closer, ok := sink.(io.Closer); ok {
			defer func() { _ = closer.Close() }()
		}
		mgr.SetHistorySinks(sink)
		log.Info("history sink attached", "dsn", cfg.History.DSN)
	}

	if err := composr.RegisterMetricsDefault(); err != nil {
		log.Warn("failed to register metrics", "error", err)
	}
	if cfg.Metrics.Interval > 0 {
		collector := composr.NewResourceCollector(mgr, cfg.Metrics.Interval, log)
		collector.Start()
		defer collector.Stop()
	}
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := composr.ServeMetrics(cfg.Metrics.Listen); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	server, err := composr.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, mgr)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	log.Info("composr server listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if flags.PidFile != "" {
		_ = removePidFile(flags.PidFile)
	}
	return server.Close()
}
