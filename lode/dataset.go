package lode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no metrics record exists for a session.
var ErrNoMetricsFound = errors.New("no metrics records found")

// NewReadDataset creates a Lode Dataset for reading.
// Uses the same codec and layout as the write path to ensure compatibility.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return newDataset(dataset, factory)
}

// NewReadDatasetFS creates a read Dataset with filesystem storage.
func NewReadDatasetFS(dataset, rootPath string) (lode.Dataset, error) {
	return NewReadDataset(dataset, lode.NewFSFactory(rootPath))
}

// NewReadDatasetS3 creates a read Dataset with S3 storage.
func NewReadDatasetS3(ctx context.Context, dataset string, s3cfg S3Config) (lode.Dataset, error) {
	factory, err := NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewReadDataset(dataset, factory)
}

// QueryTranscript reads every exchange record of a session, ordered by seq.
// An empty sessionID returns the records of all sessions, ordered by session
// then seq. Records seen in more than one snapshot are returned once.
func QueryTranscript(ctx context.Context, ds lode.Dataset, sessionID string) ([]TranscriptRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, fmt.Sprintf("%s/snapshots", ds.ID()))
	}

	type key struct {
		session string
		seq     int64
	}
	seen := make(map[key]struct{})
	var records []TranscriptRecord

	for _, snap := range snapshots {
		if isMetricsSnapshot(snap) {
			continue
		}
		if !snapshotMatchesFilter(snap, partitionSession, sessionID) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}

		// Manifest path filtering is a coarse pre-filter; record fields
		// are authoritative.
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || m["record_kind"] != RecordKindExchange {
				continue
			}
			r := fromExchangeRecordMap(m)
			if sessionID != "" && r.SessionID != sessionID {
				continue
			}
			k := key{r.SessionID, r.Seq}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			records = append(records, r)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].SessionID != records[j].SessionID {
			return records[i].SessionID < records[j].SessionID
		}
		return records[i].Seq < records[j].Seq
	})
	return records, nil
}

// QueryLatestMetrics finds and reads the most recent metrics record.
// Filters by sessionID if non-empty. Returns the raw record map or
// ErrNoMetricsFound if none exist.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, sessionID string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, fmt.Sprintf("%s/snapshots", ds.ID()))
	}

	// Iterate in reverse (latest first): snapshots are ordered by creation time
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !isMetricsSnapshot(snap) {
			continue
		}
		if !snapshotMatchesFilter(snap, partitionSession, sessionID) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			if sessionID != "" && toString(record[partitionSession]) != sessionID {
				continue
			}
			return record, nil
		}
	}

	return nil, ErrNoMetricsFound
}

// isMetricsSnapshot checks if a snapshot contains metrics data
// by examining file paths for the direction=metrics partition.
func isMetricsSnapshot(snap *lode.Snapshot) bool {
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, partitionDirection, directionMetrics) {
			return true
		}
	}
	return false
}

// snapshotMatchesFilter checks if a snapshot's file paths match
// the given partition key=value filter.
func snapshotMatchesFilter(snap *lode.Snapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks if a Hive-partitioned path contains an exact
// key=value segment. This avoids substring false positives (session_id=s-1
// matching session_id=s-10).
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
