package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("/bin/worker", "fs", "sess-001")

	c.IncSpawnSuccess()
	c.IncSpawnFailure()
	c.IncSpawnFailure()
	c.AddCommandSent(2)
	c.AddCommandSent(0)
	c.AddBatchRead(3)
	c.IncProtocolError("end_of_stream")
	c.IncProtocolError("end_of_stream")
	c.IncProtocolError("malformed")
	c.IncDiagnosticMismatch()
	c.IncTranscriptWriteSuccess()
	c.IncTranscriptWriteSuccess()
	c.IncTranscriptWriteFailure()
	c.IncStop()

	s := c.Snapshot()

	checks := []struct {
		name      string
		got, want int64
	}{
		{"SpawnSuccess", s.SpawnSuccess, 1},
		{"SpawnFailure", s.SpawnFailure, 2},
		{"Stops", s.Stops, 1},
		{"CommandsSent", s.CommandsSent, 2},
		{"GroupsSent", s.GroupsSent, 2},
		{"BatchesRead", s.BatchesRead, 1},
		{"GroupsRead", s.GroupsRead, 3},
		{"ProtocolErrors[end_of_stream]", s.ProtocolErrors["end_of_stream"], 2},
		{"ProtocolErrors[malformed]", s.ProtocolErrors["malformed"], 1},
		{"DiagnosticMismatches", s.DiagnosticMismatches, 1},
		{"TranscriptWriteSuccess", s.TranscriptWriteSuccess, 2},
		{"TranscriptWriteFailure", s.TranscriptWriteFailure, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("/bin/worker", "s3", "sess-42")
	s := c.Snapshot()

	if s.Executable != "/bin/worker" {
		t.Errorf("Executable = %q, want %q", s.Executable, "/bin/worker")
	}
	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q, want %q", s.StorageBackend, "s3")
	}
	if s.SessionID != "sess-42" {
		t.Errorf("SessionID = %q, want %q", s.SessionID, "sess-42")
	}
}

func TestCollector_NilReceiverSafe(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncSpawnSuccess()
	c.IncSpawnFailure()
	c.IncStop()
	c.AddCommandSent(1)
	c.AddBatchRead(1)
	c.IncProtocolError("x")
	c.IncDiagnosticMismatch()
	c.IncTranscriptWriteSuccess()
	c.IncTranscriptWriteFailure()

	s := c.Snapshot()
	if s.CommandsSent != 0 {
		t.Errorf("nil collector snapshot CommandsSent = %d, want 0", s.CommandsSent)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("w", "none", "s")
	c.IncProtocolError("malformed")

	s := c.Snapshot()
	c.IncProtocolError("malformed")

	if s.ProtocolErrors["malformed"] != 1 {
		t.Errorf("snapshot mutated: ProtocolErrors[malformed] = %d, want 1", s.ProtocolErrors["malformed"])
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := NewCollector("w", "none", "s")

	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range perGoroutine {
				c.AddCommandSent(1)
				c.IncProtocolError("transport")
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * perGoroutine)
	if s.CommandsSent != want {
		t.Errorf("CommandsSent = %d, want %d", s.CommandsSent, want)
	}
	if s.ProtocolErrors["transport"] != want {
		t.Errorf("ProtocolErrors[transport] = %d, want %d", s.ProtocolErrors["transport"], want)
	}
}

func TestSnapshot_Fields(t *testing.T) {
	c := NewCollector("w", "fs", "s-1")
	c.AddBatchRead(4)
	f := c.Snapshot().Fields()
	if f["groups_read"] != int64(4) {
		t.Errorf("groups_read = %v, want 4", f["groups_read"])
	}
	if f["session_id"] != "s-1" {
		t.Errorf("session_id = %v, want s-1", f["session_id"])
	}
}
