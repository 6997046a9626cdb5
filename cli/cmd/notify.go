package cmd

import (
	"context"
	"time"

	"github.com/justapithecus/spawnwire/adapter"
	"github.com/justapithecus/spawnwire/cli/config"
	"github.com/justapithecus/spawnwire/metrics"
	"github.com/justapithecus/spawnwire/runtime"
	"github.com/justapithecus/spawnwire/types"
)

// Session outcomes reported in completion events.
const (
	outcomeSuccess            = "success"
	outcomeProtocolError      = "protocol_error"
	outcomeConfigError        = "config_error"
	outcomeDiagnosticMismatch = "diagnostic_mismatch"
)

// publishTimeout bounds one completion publish, retries included.
const publishTimeout = 30 * time.Second

// outcomeForExitCode maps a CLI exit code to an event outcome.
func outcomeForExitCode(code int) string {
	switch code {
	case 0:
		return outcomeSuccess
	case exitConfigError:
		return outcomeConfigError
	case exitDiagnosticMismatch:
		return outcomeDiagnosticMismatch
	default:
		return outcomeProtocolError
	}
}

// buildSessionCompletedEvent assembles the completion event of a closed
// session.
func buildSessionCompletedEvent(meta *types.WorkerMeta, snap metrics.Snapshot, status *runtime.ExitStatus, outcome, storagePath string, duration time.Duration) *adapter.SessionCompletedEvent {
	event := &adapter.SessionCompletedEvent{
		SchemaVersion: types.TranscriptSchemaVersion,
		EventType:     adapter.EventTypeSessionCompleted,
		SessionID:     meta.SessionID,
		Executable:    meta.Executable,
		Outcome:       outcome,
		StoragePath:   storagePath,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		CommandsSent:  snap.CommandsSent,
		BatchesRead:   snap.BatchesRead,
		DurationMs:    duration.Milliseconds(),
	}
	if meta.Label != nil {
		event.Label = *meta.Label
	}
	if status != nil {
		event.Exit = status.String()
	}
	for _, n := range snap.ProtocolErrors {
		event.ProtocolErrors += n
	}
	return event
}

// publishCompletion sends the completion event of a closed session to the
// configured adapter. Failures are only reported; they never change the
// command's exit code.
func publishCompletion(cfg *config.Config, session *cliSession, outcome string) {
	a, err := cfg.NewAdapter()
	if err != nil {
		session.warnf("adapter: %v", err)
		return
	}
	if a == nil {
		return
	}
	defer func() { _ = a.Close() }()

	event := buildSessionCompletedEvent(
		session.meta,
		session.collector.Snapshot(),
		session.Worker().ExitStatus(),
		outcome,
		cfg.StoragePath(),
		time.Since(session.started),
	)

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := a.Publish(ctx, event); err != nil {
		session.warnf("failed to publish %s event: %v", event.EventType, err)
		return
	}
	session.logger.Sugar().Infof("published %s event (outcome %s)", event.EventType, outcome)
}
