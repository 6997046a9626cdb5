// Package config handles spawnwire.yaml loading and its resolution into a
// worker launch description.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/justapithecus/spawnwire/adapter"
	"github.com/justapithecus/spawnwire/adapter/redis"
	"github.com/justapithecus/spawnwire/adapter/webhook"
	"github.com/justapithecus/spawnwire/lode"
	"github.com/justapithecus/spawnwire/runtime"
	"github.com/justapithecus/spawnwire/types"
)

// Storage backend names accepted in the transcript section.
const (
	BackendNone = ""
	BackendFS   = "fs"
	BackendS3   = "s3"
)

// Config represents a spawnwire.yaml configuration file.
// All values are optional and act as defaults for CLI flags.
// CLI flags always override config values.
type Config struct {
	Worker     WorkerConfig     `yaml:"worker"`
	Exec       ExecConfig       `yaml:"exec"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Adapter    AdapterConfig    `yaml:"adapter"`
}

// WorkerConfig describes the worker program to launch.
type WorkerConfig struct {
	Executable string            `yaml:"executable"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	Label      string            `yaml:"label"`
	// Diagnostics is the file the worker's stderr is captured to.
	// Empty leaves stderr inherited.
	Diagnostics string `yaml:"diagnostics"`
	// QuitVerb overrides the default quit verb. Integers and strings only.
	QuitVerb any `yaml:"quit_verb"`
	// Timeout bounds a whole CLI exchange; zero means no limit.
	Timeout Duration `yaml:"timeout"`
}

// ExecConfig holds the execution toggles. The VALGRIND, OS_X_MALLOC_CHECKS,
// and IGNORE_NONEMPTY_STDERR environment variables switch them on as well.
type ExecConfig struct {
	MemCheck          string `yaml:"memcheck"`
	MemCheckTool      string `yaml:"memcheck_tool"`
	MallocDebug       bool   `yaml:"malloc_debug"`
	IgnoreDiagnostics bool   `yaml:"ignore_diagnostics"`
}

// TranscriptConfig holds transcript storage defaults from the config file.
type TranscriptConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Adapter types accepted in the adapter section.
const (
	AdapterNone    = ""
	AdapterWebhook = "webhook"
	AdapterRedis   = "redis"
)

// AdapterConfig selects where session completion events are published.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// DefaultAdapterRetries applies when the adapter section sets no retries.
const DefaultAdapterRetries = 3

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ExecOptions resolves the execution toggles: the file's exec section, with
// any toggle enabled in the environment switched on as well. lookup defaults
// to os.LookupEnv.
func (c *Config) ExecOptions(lookup func(string) (string, bool)) runtime.ExecOptions {
	file := runtime.ExecOptions{
		MemCheck:          runtime.ParseMemCheckMode(c.Exec.MemCheck),
		MemCheckTool:      c.Exec.MemCheckTool,
		MallocDebug:       c.Exec.MallocDebug,
		IgnoreDiagnostics: c.Exec.IgnoreDiagnostics,
	}
	return file.Merge(runtime.ExecOptionsFromEnv(lookup))
}

// LaunchSpec resolves the worker section into a runtime.LaunchSpec.
func (c *Config) LaunchSpec(lookup func(string) (string, bool)) (runtime.LaunchSpec, error) {
	if c.Worker.Executable == "" {
		return runtime.LaunchSpec{}, errors.New("worker executable is required")
	}

	var capture runtime.Capture = runtime.NoCapture{}
	if c.Worker.Diagnostics != "" {
		capture = runtime.CaptureToFile{Path: c.Worker.Diagnostics}
	}

	return runtime.LaunchSpec{
		Executable: c.Worker.Executable,
		Args:       c.Worker.Args,
		Env:        c.Worker.Env,
		Capture:    capture,
		Exec:       c.ExecOptions(lookup),
	}, nil
}

// QuitVerb returns the configured quit verb, or types.DefaultQuitVerb.
// Integers are widened to int64 so they compare equal to decoded verbs.
func (c *Config) QuitVerb() (any, error) {
	switch v := c.Worker.QuitVerb.(type) {
	case nil:
		return types.DefaultQuitVerb, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return v, nil
	case string:
		return v, nil
	default:
		return nil, fmt.Errorf("quit_verb must be an integer or a string, got %T", v)
	}
}

// Meta builds the session metadata for a new session.
func (c *Config) Meta(sessionID string) *types.WorkerMeta {
	meta := &types.WorkerMeta{SessionID: sessionID, Executable: c.Worker.Executable}
	if c.Worker.Label != "" {
		label := c.Worker.Label
		meta.Label = &label
	}
	return meta
}

// Validate checks values that cannot be checked by YAML decoding alone.
func (c *Config) Validate() error {
	switch c.Transcript.Backend {
	case BackendNone, BackendFS, BackendS3:
	default:
		return fmt.Errorf("unknown transcript backend %q (want %q or %q)", c.Transcript.Backend, BackendFS, BackendS3)
	}
	if c.Transcript.Backend != BackendNone && c.Transcript.Path == "" {
		return fmt.Errorf("transcript path is required for backend %q", c.Transcript.Backend)
	}
	if _, err := c.QuitVerb(); err != nil {
		return err
	}
	switch c.Adapter.Type {
	case AdapterNone:
	case AdapterWebhook, AdapterRedis:
		if c.Adapter.URL == "" {
			return fmt.Errorf("adapter url is required for adapter %q", c.Adapter.Type)
		}
	default:
		return fmt.Errorf("unknown adapter type %q (want %q or %q)", c.Adapter.Type, AdapterWebhook, AdapterRedis)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter retries must be >= 0, got %d", *c.Adapter.Retries)
	}
	return nil
}

// NewAdapter builds the configured completion adapter. It returns nil and no
// error when no adapter is configured.
func (c *Config) NewAdapter() (adapter.Adapter, error) {
	retries := DefaultAdapterRetries
	if c.Adapter.Retries != nil {
		retries = *c.Adapter.Retries
	}
	switch c.Adapter.Type {
	case AdapterNone:
		return nil, nil
	case AdapterWebhook:
		return webhook.New(webhook.Config{
			URL:     c.Adapter.URL,
			Headers: c.Adapter.Headers,
			Timeout: c.Adapter.Timeout.Duration,
			Retries: retries,
		})
	case AdapterRedis:
		return redis.New(redis.Config{
			URL:     c.Adapter.URL,
			Channel: c.Adapter.Channel,
			Timeout: c.Adapter.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", c.Adapter.Type)
	}
}

// StoragePath describes where transcripts go, for completion events.
// Empty when no transcript backend is configured.
func (c *Config) StoragePath() string {
	switch c.Transcript.Backend {
	case BackendFS:
		return "file://" + c.Transcript.Path
	case BackendS3:
		return "s3://" + c.Transcript.Path
	default:
		return ""
	}
}

// OpenTranscript opens the configured transcript store. It returns nil and
// no error when no backend is configured.
func (c *Config) OpenTranscript(ctx context.Context) (*lode.LodeClient, error) {
	cfg := lode.Config{Dataset: c.Transcript.Dataset}
	switch c.Transcript.Backend {
	case BackendNone:
		return nil, nil
	case BackendFS:
		if err := os.MkdirAll(c.Transcript.Path, 0o755); err != nil {
			return nil, lode.WrapInitError(err, c.Transcript.Path)
		}
		return lode.NewLodeClient(cfg, c.Transcript.Path)
	case BackendS3:
		return lode.NewLodeS3Client(ctx, cfg, c.S3Config())
	default:
		return nil, fmt.Errorf("unknown transcript backend %q", c.Transcript.Backend)
	}
}

// S3Config builds the S3 settings of the transcript section.
func (c *Config) S3Config() lode.S3Config {
	bucket, prefix := lode.ParseS3Path(c.Transcript.Path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       c.Transcript.Region,
		Endpoint:     c.Transcript.Endpoint,
		UsePathStyle: c.Transcript.S3PathStyle,
	}
}

// BackendName is the storage dimension reported in metrics.
func (c *Config) BackendName() string {
	if c.Transcript.Backend == BackendNone {
		return "none"
	}
	return c.Transcript.Backend
}
