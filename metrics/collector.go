// Package metrics provides per-session counters for worker exchanges.
//
// The Collector accumulates counters over a single worker session. It is a
// leaf package with no internal dependencies; the session snapshots it at
// close and hands the snapshot to the logger and the transcript store.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Worker lifecycle
	SpawnSuccess int64
	SpawnFailure int64
	Stops        int64

	// Channel traffic
	CommandsSent   int64
	GroupsSent     int64
	BatchesRead    int64
	GroupsRead     int64
	ProtocolErrors map[string]int64

	// Diagnostics
	DiagnosticMismatches int64

	// Transcript storage
	TranscriptWriteSuccess int64
	TranscriptWriteFailure int64

	// Dimensions (informational, set at construction)
	Executable     string
	StorageBackend string
	SessionID      string
}

// Collector accumulates metrics during a single worker session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	spawnSuccess int64
	spawnFailure int64
	stops        int64

	commandsSent   int64
	groupsSent     int64
	batchesRead    int64
	groupsRead     int64
	protocolErrors map[string]int64

	diagnosticMismatches int64

	transcriptWriteSuccess int64
	transcriptWriteFailure int64

	executable     string
	storageBackend string
	sessionID      string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend is "none" when no transcript store is configured.
func NewCollector(executable, storageBackend, sessionID string) *Collector {
	return &Collector{
		protocolErrors: make(map[string]int64),
		executable:     executable,
		storageBackend: storageBackend,
		sessionID:      sessionID,
	}
}

// --- Worker lifecycle ---

// IncSpawnSuccess records a successful worker spawn.
func (c *Collector) IncSpawnSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.spawnSuccess++
	c.mu.Unlock()
}

// IncSpawnFailure records a failed spawn, configuration errors included.
func (c *Collector) IncSpawnFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.spawnFailure++
	c.mu.Unlock()
}

// IncStop records a stop that actually reaped a worker.
func (c *Collector) IncStop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stops++
	c.mu.Unlock()
}

// --- Channel traffic ---

// AddCommandSent records one command (or reply) carrying groups argument groups.
func (c *Collector) AddCommandSent(groups int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commandsSent++
	c.groupsSent += int64(groups)
	c.mu.Unlock()
}

// AddBatchRead records one result batch carrying groups argument groups.
func (c *Collector) AddBatchRead(groups int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchesRead++
	c.groupsRead += int64(groups)
	c.mu.Unlock()
}

// IncProtocolError records a protocol error by kind label.
func (c *Collector) IncProtocolError(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.protocolErrors[kind]++
	c.mu.Unlock()
}

// --- Diagnostics ---

// IncDiagnosticMismatch records a failed diagnostic expectation.
func (c *Collector) IncDiagnosticMismatch() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.diagnosticMismatches++
	c.mu.Unlock()
}

// --- Transcript storage ---
// Counters are per record write.

// IncTranscriptWriteSuccess records a successful transcript write.
func (c *Collector) IncTranscriptWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.transcriptWriteSuccess++
	c.mu.Unlock()
}

// IncTranscriptWriteFailure records a failed transcript write.
func (c *Collector) IncTranscriptWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.transcriptWriteFailure++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	protocolErrors := make(map[string]int64, len(c.protocolErrors))
	for k, v := range c.protocolErrors {
		protocolErrors[k] = v
	}

	return Snapshot{
		SpawnSuccess: c.spawnSuccess,
		SpawnFailure: c.spawnFailure,
		Stops:        c.stops,

		CommandsSent:   c.commandsSent,
		GroupsSent:     c.groupsSent,
		BatchesRead:    c.batchesRead,
		GroupsRead:     c.groupsRead,
		ProtocolErrors: protocolErrors,

		DiagnosticMismatches: c.diagnosticMismatches,

		TranscriptWriteSuccess: c.transcriptWriteSuccess,
		TranscriptWriteFailure: c.transcriptWriteFailure,

		Executable:     c.executable,
		StorageBackend: c.storageBackend,
		SessionID:      c.sessionID,
	}
}

// Fields flattens the snapshot for structured logging.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"spawn_success":            s.SpawnSuccess,
		"spawn_failure":            s.SpawnFailure,
		"stops":                    s.Stops,
		"commands_sent":            s.CommandsSent,
		"groups_sent":              s.GroupsSent,
		"batches_read":             s.BatchesRead,
		"groups_read":              s.GroupsRead,
		"protocol_errors":          s.ProtocolErrors,
		"diagnostic_mismatches":    s.DiagnosticMismatches,
		"transcript_write_success": s.TranscriptWriteSuccess,
		"transcript_write_failure": s.TranscriptWriteFailure,
		"executable":               s.Executable,
		"storage_backend":          s.StorageBackend,
		"session_id":               s.SessionID,
	}
}
