package types

import (
	"errors"
	"path/filepath"
)

// WorkerMeta identifies one worker session in logs and transcripts.
type WorkerMeta struct {
	// SessionID is unique per spawned worker.
	SessionID string
	// Executable is the path the worker was launched from.
	Executable string
	// Label is an optional human-readable tag (e.g. "from", "to").
	Label *string
}

// Validate checks that the identity fields are present.
func (m *WorkerMeta) Validate() error {
	if m.SessionID == "" {
		return errors.New("session_id must be non-empty")
	}
	if m.Executable == "" {
		return errors.New("executable must be non-empty")
	}
	return nil
}

// Name returns the executable base name, used as a short log dimension.
func (m *WorkerMeta) Name() string {
	return filepath.Base(m.Executable)
}
