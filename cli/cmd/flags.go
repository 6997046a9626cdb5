// Package cmd provides CLI commands for the spawnwire binary.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spawnwire/cli/config"
	"github.com/justapithecus/spawnwire/types"
)

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// ConfigFlag points at a spawnwire.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file (default: ./" + config.DefaultPath + " if present)",
	}
)

// OutputFlags returns the shared flags for commands that render results.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// WorkerFlags returns the flags that describe the worker and its session.
// Every flag overrides the matching config file value.
func WorkerFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:    "executable",
			Aliases: []string{"x"},
			Usage:   "Path to the worker binary",
		},
		&cli.StringSliceFlag{
			Name:  "arg",
			Usage: "Worker argument (repeatable, kept in order)",
		},
		&cli.StringSliceFlag{
			Name:  "env",
			Usage: "Worker environment entry KEY=VALUE (repeatable)",
		},
		&cli.StringFlag{
			Name:  "diagnostics",
			Usage: "Capture worker stderr to this file",
		},
		&cli.StringFlag{
			Name:  "label",
			Usage: "Session label for logs and transcripts",
		},
		&cli.StringFlag{
			Name:  "quit-verb",
			Usage: "Verb that asks the worker to quit (integer or word, default 0)",
		},
		&cli.StringFlag{
			Name:  "session-id",
			Usage: "Session ID (default: random UUID)",
		},
		&cli.StringFlag{
			Name:  "memcheck",
			Usage: "Run the worker under a memory checker: off, on, full",
		},
		&cli.BoolFlag{
			Name:  "malloc-debug",
			Usage: "Inject allocator debugging variables",
		},
		&cli.BoolFlag{
			Name:  "ignore-diagnostics",
			Usage: "Do not fail reads on unexpected worker stderr",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Write session logs to this file instead of stderr",
		},
		&cli.StringFlag{
			Name:  "transcript-backend",
			Usage: "Transcript storage backend: fs or s3",
		},
		&cli.StringFlag{
			Name:  "transcript-path",
			Usage: "Transcript storage path (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "transcript-region",
			Usage: "AWS region for the s3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Publish a completion event when the session ends: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Adapter endpoint (webhook: http URL, redis: redis:// URL)",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel for completion events",
		},
	}
}

// StoreFlags returns the flags that locate an existing transcript store.
func StoreFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:  "transcript-backend",
			Usage: "Transcript storage backend: fs or s3",
		},
		&cli.StringFlag{
			Name:  "transcript-path",
			Usage: "Transcript storage path (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "transcript-region",
			Usage: "AWS region for the s3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "dataset",
			Usage: "Transcript dataset name",
		},
	}
}

// loadConfig loads the config file named by --config, or ./spawnwire.yaml
// when it exists, and applies flag overrides on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}

	path := c.String("config")
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := applyFlags(c, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags overlays explicitly set flags on cfg. Flags that a command
// does not define are skipped.
func applyFlags(c *cli.Context, cfg *config.Config) error {
	set := func(name string) bool { return c.IsSet(name) }

	if set("executable") {
		cfg.Worker.Executable = c.String("executable")
	}
	if set("arg") {
		cfg.Worker.Args = c.StringSlice("arg")
	}
	if set("env") {
		env, err := parseEnvFlags(c.StringSlice("env"))
		if err != nil {
			return err
		}
		if cfg.Worker.Env == nil {
			cfg.Worker.Env = make(map[string]string, len(env))
		}
		for k, v := range env {
			cfg.Worker.Env[k] = v
		}
	}
	if set("diagnostics") {
		cfg.Worker.Diagnostics = c.String("diagnostics")
	}
	if set("label") {
		cfg.Worker.Label = c.String("label")
	}
	if set("quit-verb") {
		cfg.Worker.QuitVerb = types.ParseVerb(c.String("quit-verb"))
	}
	if set("memcheck") {
		cfg.Exec.MemCheck = c.String("memcheck")
	}
	if set("malloc-debug") {
		cfg.Exec.MallocDebug = c.Bool("malloc-debug")
	}
	if set("ignore-diagnostics") {
		cfg.Exec.IgnoreDiagnostics = c.Bool("ignore-diagnostics")
	}
	if set("transcript-backend") {
		cfg.Transcript.Backend = c.String("transcript-backend")
	}
	if set("transcript-path") {
		cfg.Transcript.Path = c.String("transcript-path")
		if cfg.Transcript.Backend == config.BackendNone {
			cfg.Transcript.Backend = config.BackendFS
		}
	}
	if set("transcript-region") {
		cfg.Transcript.Region = c.String("transcript-region")
	}
	if set("adapter") {
		cfg.Adapter.Type = c.String("adapter")
	}
	if set("adapter-url") {
		cfg.Adapter.URL = c.String("adapter-url")
	}
	if set("adapter-channel") {
		cfg.Adapter.Channel = c.String("adapter-channel")
	}
	if set("dataset") {
		cfg.Transcript.Dataset = c.String("dataset")
	}
	return nil
}

// parseEnvFlags parses KEY=VALUE entries.
func parseEnvFlags(entries []string) (map[string]string, error) {
	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q (want KEY=VALUE)", entry)
		}
		env[k] = v
	}
	return env, nil
}

// sessionID returns --session-id or a fresh UUID.
func sessionID(c *cli.Context) string {
	if id := c.String("session-id"); id != "" {
		return id
	}
	return uuid.NewString()
}

// errNoExecutable is returned when neither flags nor config name a worker.
var errNoExecutable = errors.New("no worker executable (use --executable or worker.executable in " + config.DefaultPath + ")")

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}
