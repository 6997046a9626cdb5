// Package lode persists worker session transcripts in a Lode dataset.
//
// Every send, read, and protocol error of a session becomes one JSONL record,
// Hive-partitioned by session_id/day/direction. The final metrics snapshot of
// a session is written with direction=metrics. Captured diagnostic output can
// be stored next to the records as a sidecar file.
package lode

import "time"

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "spawnwire"

// Partition keys, in layout order.
const (
	partitionSession   = "session_id"
	partitionDay       = "day"
	partitionDirection = "direction"
)

// directionMetrics is the direction partition value of metrics records.
const directionMetrics = "metrics"

// DeriveDay computes the partition day of a timestamp.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Config holds transcript store configuration.
type Config struct {
	// Dataset is the Lode dataset ID. Empty means DefaultDataset.
	Dataset string
}

func (c Config) dataset() string {
	if c.Dataset == "" {
		return DefaultDataset
	}
	return c.Dataset
}
