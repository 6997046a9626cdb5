package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spawnwire/cli/config"
	"github.com/justapithecus/spawnwire/log"
	"github.com/justapithecus/spawnwire/lode"
	"github.com/justapithecus/spawnwire/metrics"
	"github.com/justapithecus/spawnwire/runtime"
	"github.com/justapithecus/spawnwire/types"
)

var (
	errTranscriptStore = errors.New("failed to open transcript store")
	errLogFile         = errors.New("failed to open log file")
)

// isSetupError reports whether err happened before any worker was spawned
// because of how the session was configured.
func isSetupError(err error) bool {
	return runtime.IsConfigurationError(err) ||
		errors.Is(err, errNoExecutable) ||
		errors.Is(err, errTranscriptStore) ||
		errors.Is(err, errLogFile)
}

// cliSession bundles a running session with the resources the CLI opened
// for it.
type cliSession struct {
	*runtime.Session
	id        string
	meta      *types.WorkerMeta
	store     *lode.LodeClient
	collector *metrics.Collector
	logger    *log.Logger
	logFile   *os.File
	quiet     bool
	started   time.Time

	closeOnce sync.Once
	closeErr  error
}

// close stops the worker and releases the store. The log file stays open
// for completion reporting until release.
func (s *cliSession) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Session.Close()
		if s.store != nil {
			_ = s.store.Close()
		}
	})
	return s.closeErr
}

// release closes the session and its log file.
func (s *cliSession) release() {
	_ = s.close()
	_ = s.logger.Sync()
	s.closeLog()
}

// warnf reports a problem in the session log, and on stderr when the log
// would not otherwise be seen.
func (s *cliSession) warnf(template string, args ...any) {
	s.logger.Sugar().Warnf(template, args...)
	if s.quiet {
		fmt.Fprintf(os.Stderr, "Warning: "+template+"\n", args...)
	}
}

// openSession resolves cfg into a session and spawns the worker. quietLogs
// discards session logs unless --log-file is given.
func openSession(ctx context.Context, c *cli.Context, cfg *config.Config, quietLogs bool) (*cliSession, error) {
	if cfg.Worker.Executable == "" {
		return nil, errNoExecutable
	}
	spec, err := cfg.LaunchSpec(nil)
	if err != nil {
		return nil, err
	}
	quitVerb, err := cfg.QuitVerb()
	if err != nil {
		return nil, err
	}

	id := sessionID(c)
	meta := cfg.Meta(id)

	handle := &cliSession{id: id, meta: meta, started: time.Now()}
	logger, logFile, err := sessionLogger(c.String("log-file"), meta, quietLogs)
	if err != nil {
		return nil, err
	}
	handle.logger = logger
	handle.logFile = logFile
	handle.quiet = quietLogs && logFile == nil

	store, err := cfg.OpenTranscript(ctx)
	if err != nil {
		handle.closeLog()
		return nil, fmt.Errorf("%w: %w", errTranscriptStore, err)
	}
	handle.store = store

	handle.collector = metrics.NewCollector(spec.Executable, cfg.BackendName(), id)
	sc := &runtime.SessionConfig{
		Launch:    spec,
		Meta:      meta,
		QuitVerb:  quitVerb,
		Logger:    logger,
		Collector: handle.collector,
	}
	if store != nil {
		sc.Recorder = store
	}

	session, err := runtime.OpenSession(ctx, sc)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		handle.closeLog()
		return nil, err
	}
	handle.Session = session
	return handle, nil
}

func (s *cliSession) closeLog() {
	if s.logFile != nil {
		_ = s.logFile.Close()
	}
}

// sessionLogger builds the session logger: a file when path is set,
// otherwise stderr or nothing.
func sessionLogger(path string, meta *types.WorkerMeta, quiet bool) (*log.Logger, *os.File, error) {
	if path == "" {
		if quiet {
			return log.NewNop(), nil, nil
		}
		return log.NewLogger(meta), nil, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errLogFile, err)
	}
	return log.NewLogger(meta).WithOutput(f), f, nil
}
