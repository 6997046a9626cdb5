// Package adapter publishes session completion notifications to downstream
// systems, so a CI job or dashboard learns how a worker session ended
// without reading the transcript store.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// EventTypeSessionCompleted is the event_type of every SessionCompletedEvent.
const EventTypeSessionCompleted = "session_completed"

// SessionCompletedEvent is the payload published when a session closes.
type SessionCompletedEvent struct {
	SchemaVersion string `json:"schema_version"`
	EventType     string `json:"event_type"`
	SessionID     string `json:"session_id"`
	Executable    string `json:"executable"`
	Label         string `json:"label,omitempty"`
	// Outcome is success, protocol_error, config_error or diagnostic_mismatch.
	Outcome string `json:"outcome"`
	// Exit is the worker's exit status, e.g. "exit 0" or "signal terminated".
	Exit           string `json:"exit,omitempty"`
	StoragePath    string `json:"storage_path,omitempty"`
	Timestamp      string `json:"timestamp"` // RFC 3339
	CommandsSent   int64  `json:"commands_sent"`
	BatchesRead    int64  `json:"batches_read"`
	ProtocolErrors int64  `json:"protocol_errors"`
	DurationMs     int64  `json:"duration_ms"`
}

// Adapter publishes session completion events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// BaseBackoff is the wait before the first retry; it doubles on each retry.
const BaseBackoff = 500 * time.Millisecond

// Retry runs attempt once plus up to retries more times, backing off
// exponentially between attempts. It stops early when ctx ends or permanent
// reports the error as not worth retrying.
func Retry(ctx context.Context, retries int, attempt func(context.Context) error, permanent func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * BaseBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
