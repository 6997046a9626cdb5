package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/spawnwire/ipc"
	"github.com/justapithecus/spawnwire/log"
	"github.com/justapithecus/spawnwire/metrics"
	"github.com/justapithecus/spawnwire/types"
)

// Recorder persists a session transcript. Implemented by lode.Recorder.
type Recorder interface {
	// RecordExchange persists one send or read.
	RecordExchange(ctx context.Context, e *types.Exchange) error
	// RecordMetrics persists the final metrics snapshot of a session.
	RecordMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error
}

// FileRecorder is implemented by recorders that can also keep sidecar files.
// When the session's Recorder implements it, non-empty captured diagnostic
// output is stored as DiagnosticsFilename at close.
type FileRecorder interface {
	PutFile(ctx context.Context, sessionID, filename string, data []byte) error
}

// DiagnosticsFilename is the sidecar name of the captured diagnostic output.
const DiagnosticsFilename = "diagnostics.log"

// SessionConfig configures one worker session.
type SessionConfig struct {
	// Launch describes the worker to spawn.
	Launch LaunchSpec
	// Meta identifies the session in logs and transcripts.
	Meta *types.WorkerMeta
	// QuitVerb overrides types.DefaultQuitVerb when non-nil.
	QuitVerb any
	// Logger receives session logs. If nil, a logger is built from Meta.
	Logger *log.Logger
	// Collector accumulates session metrics. If nil, nothing is recorded
	// (all Collector methods are nil-safe).
	Collector *metrics.Collector
	// Recorder persists the transcript. If nil, no transcript is kept.
	Recorder Recorder
}

// Session is one running worker plus the channel bound to its pipes.
// A session is driven by a single goroutine: spawn, exchanges, close.
type Session struct {
	config      *SessionConfig
	logger      *log.Logger
	worker      *Worker
	channel     *ipc.Channel
	diagnostics *Diagnostics

	// ctx is used only for transcript writes.
	ctx       context.Context
	seq       int64
	startTime time.Time

	closeOnce sync.Once
	closeErr  error
}

// OpenSession spawns the worker described by config and binds a channel to it.
func OpenSession(ctx context.Context, config *SessionConfig) (*Session, error) {
	if config.Meta == nil {
		return nil, errors.New("session metadata is required")
	}
	if err := config.Meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session metadata: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger(config.Meta)
	}

	worker, err := StartWorker(ctx, config.Launch)
	if err != nil {
		config.Collector.IncSpawnFailure()
		logger.Error("worker failed to start", map[string]any{
			"error":         err.Error(),
			"configuration": IsConfigurationError(err),
		})
		return nil, err
	}
	config.Collector.IncSpawnSuccess()

	diagnostics := NewDiagnostics(worker.Capture(), config.Launch.Exec.IgnoreDiagnostics)

	opts := []ipc.Option{ipc.WithDiagnostics(diagnostics)}
	if config.QuitVerb != nil {
		opts = append(opts, ipc.WithQuitVerb(config.QuitVerb))
	}
	channel := ipc.NewChannel(worker.Stdout(), worker.Stdin(), opts...)

	logger.Info("worker started", map[string]any{
		"pid":       worker.Pid(),
		"args":      config.Launch.Args,
		"capturing": diagnostics.Capturing(),
		"memcheck":  string(config.Launch.Exec.MemCheck),
		"malloc":    config.Launch.Exec.MallocDebug,
	})

	return &Session{
		config:      config,
		logger:      logger,
		worker:      worker,
		channel:     channel,
		diagnostics: diagnostics,
		ctx:         context.WithoutCancel(ctx),
		startTime:   time.Now(),
	}, nil
}

// Worker returns the underlying worker.
func (s *Session) Worker() *Worker { return s.worker }

// Channel returns the command channel bound to the worker's pipes.
func (s *Session) Channel() *ipc.Channel { return s.channel }

// Diagnostics returns the worker's diagnostic capture.
func (s *Session) Diagnostics() *Diagnostics { return s.diagnostics }

// Send writes a command to the worker.
func (s *Session) Send(verb any, groups ...types.Group) error {
	err := s.channel.SendCommand(verb, groups...)
	s.afterSend(true, verb, groups, err)
	return err
}

// Reply writes result groups to the worker, without a verb.
func (s *Session) Reply(groups ...types.Group) error {
	err := s.channel.SendResults(groups...)
	s.afterSend(false, nil, groups, err)
	return err
}

// Read reads one command from the worker.
func (s *Session) Read() (*types.ResultBatch, error) {
	batch, err := s.channel.ReadCommand()
	if err != nil {
		s.onProtocolError("read", err)
		return nil, err
	}

	s.config.Collector.AddBatchRead(len(batch.Groups))
	s.logger.Debug("read command", map[string]any{
		"verb":   fmt.Sprint(batch.Verb),
		"groups": len(batch.Groups),
	})
	s.record(&types.Exchange{
		Direction: types.DirectionReceived,
		HasVerb:   true,
		Verb:      batch.Verb,
		Groups:    batch.Groups,
	})
	return batch, nil
}

// Exchange sends a command and reads the worker's answer.
func (s *Session) Exchange(verb any, groups ...types.Group) (*types.ResultBatch, error) {
	if err := s.Send(verb, groups...); err != nil {
		return nil, err
	}
	return s.Read()
}

// Expect runs op expecting the worker's diagnostic output to equal text
// afterward (nil means empty). See Diagnostics.Expect.
func (s *Session) Expect(text *string, op func() error) error {
	err := s.diagnostics.Expect(text, op)
	var mismatch *DiagnosticMismatchError
	if errors.As(err, &mismatch) {
		s.config.Collector.IncDiagnosticMismatch()
		s.logger.Error("diagnostic output mismatch", map[string]any{
			"expected": mismatch.Expected,
			"actual":   mismatch.Actual,
		})
	}
	return err
}

// DiagnosticContents returns the captured diagnostic output, if capturing.
func (s *Session) DiagnosticContents() (string, bool) {
	return s.diagnostics.Contents()
}

// Quit sends the quit verb, asking the worker to leave its command loop.
func (s *Session) Quit() error {
	return s.Send(s.channel.QuitVerb())
}

// Wait blocks until the worker exits on its own and reaps it.
func (s *Session) Wait() error {
	return s.worker.Wait()
}

// Close stops the worker (signal, close pipes, reap) and persists the final
// metrics. It always stops the worker, even after earlier failures, and is
// safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		wasRunning := s.worker.Running()
		s.closeErr = s.worker.Stop()
		if wasRunning {
			s.config.Collector.IncStop()
		}

		fields := map[string]any{
			"duration_ms": time.Since(s.startTime).Milliseconds(),
		}
		if status := s.worker.ExitStatus(); status != nil {
			fields["exit"] = status.String()
		}
		if s.closeErr != nil {
			fields["error"] = s.closeErr.Error()
		}
		s.logger.Info("worker stopped", fields)

		s.archiveDiagnostics()

		snap := s.config.Collector.Snapshot()
		s.logger.Debug("session metrics", snap.Fields())
		if s.config.Recorder != nil {
			if err := s.config.Recorder.RecordMetrics(s.ctx, snap, time.Now()); err != nil {
				s.logger.Warn("failed to record session metrics", map[string]any{"error": err.Error()})
			}
		}
	})
	return s.closeErr
}

func (s *Session) archiveDiagnostics() {
	files, ok := s.config.Recorder.(FileRecorder)
	if !ok {
		return
	}
	text, capturing := s.diagnostics.Contents()
	if !capturing || text == "" {
		return
	}
	if err := files.PutFile(s.ctx, s.config.Meta.SessionID, DiagnosticsFilename, []byte(text)); err != nil {
		s.logger.Warn("failed to archive diagnostic output", map[string]any{"error": err.Error()})
	}
}

func (s *Session) afterSend(hasVerb bool, verb any, groups []types.Group, err error) {
	if err != nil {
		s.onProtocolError("send", err)
		return
	}
	s.config.Collector.AddCommandSent(len(groups))
	s.logger.Debug("sent command", map[string]any{
		"verb":     fmt.Sprint(verb),
		"has_verb": hasVerb,
		"groups":   len(groups),
	})
	s.record(&types.Exchange{
		Direction: types.DirectionSent,
		HasVerb:   hasVerb,
		Verb:      verb,
		Groups:    groups,
	})
}

func (s *Session) onProtocolError(op string, err error) {
	entry := &types.Exchange{
		Direction: types.DirectionError,
		Error:     err.Error(),
	}
	fields := map[string]any{"op": op, "error": err.Error()}

	var perr *ipc.ProtocolError
	if errors.As(err, &perr) {
		s.config.Collector.IncProtocolError(perr.Kind.String())
		fields["kind"] = perr.Kind.String()
		entry.Diagnostics = perr.Diagnostics
		if perr.Partial != nil {
			entry.HasVerb = true
			entry.Verb = perr.Partial.Verb
			entry.Groups = perr.Partial.Groups
		}
	} else {
		s.config.Collector.IncProtocolError("invalid")
	}

	s.logger.Error("protocol error", fields)
	s.record(entry)
}

// record stamps and persists a transcript entry. Storage failures are logged
// and counted, never surfaced to the exchange that produced the entry.
func (s *Session) record(e *types.Exchange) {
	if s.config.Recorder == nil {
		return
	}
	s.seq++
	e.SessionID = s.config.Meta.SessionID
	e.Seq = s.seq
	e.Ts = time.Now().UTC()

	if err := s.config.Recorder.RecordExchange(s.ctx, e); err != nil {
		s.config.Collector.IncTranscriptWriteFailure()
		s.logger.Warn("failed to record exchange", map[string]any{
			"seq":   e.Seq,
			"error": err.Error(),
		})
		return
	}
	s.config.Collector.IncTranscriptWriteSuccess()
}
