package lode

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/justapithecus/spawnwire/metrics"
	"github.com/justapithecus/spawnwire/types"
)

// RecordKind discriminator values.
const (
	RecordKindExchange = "exchange"
	RecordKindMetrics  = "metrics"
)

// TranscriptRecord is the read-side form of an exchange record. Byte strings
// in Verb and Groups come back base64 encoded; see DecodeBytes.
type TranscriptRecord struct {
	RecordKind    string `json:"record_kind" yaml:"record_kind"`
	SchemaVersion string `json:"schema_version" yaml:"schema_version"`
	SessionID     string `json:"session_id" yaml:"session_id"`
	Seq           int64  `json:"seq" yaml:"seq"`
	Direction     string `json:"direction" yaml:"direction"`
	HasVerb       bool   `json:"has_verb" yaml:"has_verb"`
	Verb          any    `json:"verb,omitempty" yaml:"verb,omitempty"`
	Groups        []any  `json:"groups" yaml:"groups"`
	Diagnostics   string `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
	Ts            string `json:"ts" yaml:"ts"`
}

// toExchangeRecordMap converts an exchange to a map for Lode storage.
// Lode HiveLayout requires records as map[string]any carrying every
// partition key.
func toExchangeRecordMap(e *types.Exchange) map[string]any {
	groups := make([]any, len(e.Groups))
	for i, g := range e.Groups {
		groups[i] = encodeValue([]any(g))
	}
	m := map[string]any{
		"record_kind":      RecordKindExchange,
		"schema_version":   types.TranscriptSchemaVersion,
		partitionSession:   e.SessionID,
		partitionDay:       DeriveDay(e.Ts),
		partitionDirection: string(e.Direction),
		"seq":              e.Seq,
		"has_verb":         e.HasVerb,
		"groups":           groups,
		"ts":               e.Ts.UTC().Format(time.RFC3339Nano),
	}
	if e.HasVerb {
		m["verb"] = encodeValue(e.Verb)
	}
	if e.Diagnostics != "" {
		m["diagnostics"] = e.Diagnostics
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}

// toMetricsRecordMap converts a session metrics snapshot to a map for storage.
func toMetricsRecordMap(snap metrics.Snapshot, completedAt time.Time) map[string]any {
	protocolErrors := make(map[string]any, len(snap.ProtocolErrors))
	for k, v := range snap.ProtocolErrors {
		protocolErrors[k] = v
	}
	return map[string]any{
		"record_kind":                    RecordKindMetrics,
		"schema_version":                 types.TranscriptSchemaVersion,
		partitionSession:                 snap.SessionID,
		partitionDay:                     DeriveDay(completedAt),
		partitionDirection:               directionMetrics,
		"ts":                             completedAt.UTC().Format(time.RFC3339Nano),
		"spawn_success_total":            snap.SpawnSuccess,
		"spawn_failure_total":            snap.SpawnFailure,
		"stops_total":                    snap.Stops,
		"commands_sent_total":            snap.CommandsSent,
		"groups_sent_total":              snap.GroupsSent,
		"batches_read_total":             snap.BatchesRead,
		"groups_read_total":              snap.GroupsRead,
		"protocol_errors":                protocolErrors,
		"diagnostic_mismatches_total":    snap.DiagnosticMismatches,
		"transcript_write_success_total": snap.TranscriptWriteSuccess,
		"transcript_write_failure_total": snap.TranscriptWriteFailure,
		"executable":                     snap.Executable,
		"storage_backend":                snap.StorageBackend,
	}
}

// encodeValue makes a decoded wire value JSON-safe: byte strings become
// base64 text, nested arrays and maps are converted element-wise.
func encodeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			out[i] = encodeValue(elem)
		}
		return out
	case types.Group:
		return encodeValue([]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			out[k] = encodeValue(elem)
		}
		return out
	default:
		return v
	}
}

// DecodeBytes decodes a byte string stored by the transcript store.
func DecodeBytes(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("transcript value is %T, not a byte string", v)
	}
	return base64.StdEncoding.DecodeString(s)
}

// fromExchangeRecordMap converts a stored record back to a TranscriptRecord.
func fromExchangeRecordMap(m map[string]any) TranscriptRecord {
	r := TranscriptRecord{
		RecordKind:    toString(m["record_kind"]),
		SchemaVersion: toString(m["schema_version"]),
		SessionID:     toString(m[partitionSession]),
		Seq:           toInt64(m["seq"]),
		Direction:     toString(m[partitionDirection]),
		Verb:          m["verb"],
		Diagnostics:   toString(m["diagnostics"]),
		Error:         toString(m["error"]),
		Ts:            toString(m["ts"]),
	}
	if b, ok := m["has_verb"].(bool); ok {
		r.HasVerb = b
	}
	if groups, ok := m["groups"].([]any); ok {
		r.Groups = groups
	}
	return r
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toInt64 converts a numeric record field to int64. JSON numbers decode as
// float64; in-memory values keep their Go type.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}
