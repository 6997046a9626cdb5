package lode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/spawnwire/metrics"
	"github.com/justapithecus/spawnwire/types"
)

// ErrInvalidFilename is returned by PutFile for names that could escape the
// session's files/ prefix.
var ErrInvalidFilename = errors.New("sidecar filename must be a plain file name")

// LodeClient is a Lode-backed transcript store.
// Uses Lode's HiveLayout with partition keys: session_id/day/direction.
// It implements runtime.Recorder.
type LodeClient struct {
	dataset lode.Dataset
	config  Config

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error

	// mu serializes writes so records of one session land in seq order.
	mu sync.Mutex
}

// NewLodeClient creates a transcript store on the local filesystem.
// The root parameter is the base directory for Hive-partitioned storage.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory creates a transcript store with a custom store
// factory. Use lode.NewMemoryFactory() for testing.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	ds, err := newDataset(cfg.dataset(), factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.dataset())
	}
	return newClient(ds, cfg, factory), nil
}

func newClient(ds lode.Dataset, cfg Config, factory lode.StoreFactory) *LodeClient {
	return &LodeClient{
		dataset:      ds,
		config:       cfg,
		storeFactory: factory,
	}
}

// newDataset opens the transcript dataset. The read path uses the same
// layout and codec.
func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionSession, partitionDay, partitionDirection),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// RecordExchange writes one exchange record.
func (c *LodeClient) RecordExchange(ctx context.Context, e *types.Exchange) error {
	if e.SessionID == "" {
		return errors.New("exchange record rejected: missing session_id")
	}
	return c.write(ctx, toExchangeRecordMap(e), e.SessionID)
}

// RecordMetrics writes the final metrics snapshot of a session.
func (c *LodeClient) RecordMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	if snap.SessionID == "" {
		return errors.New("metrics record rejected: missing session_id")
	}
	return c.write(ctx, toMetricsRecordMap(snap, completedAt), snap.SessionID)
}

func (c *LodeClient) write(ctx context.Context, record map[string]any, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, fmt.Sprintf("%s/%s=%s", c.config.dataset(), partitionSession, sessionID))
	}
	return nil
}

// PutFile stores a sidecar file (such as captured diagnostic output) under the
// session's files/ prefix, bypassing the dataset's segment machinery.
func (c *LodeClient) PutFile(ctx context.Context, sessionID, filename string, data []byte) error {
	if filename == "" || strings.ContainsAny(filename, `/\`) || filename == "." || filename == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}

	store, err := c.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, c.config.dataset())
	}

	p := c.buildFilePath(sessionID, filename)
	if err := store.Put(ctx, p, bytes.NewReader(data)); err != nil {
		return WrapWriteError(err, p)
	}
	return nil
}

// getOrCreateStore lazily initializes the Store from the factory.
func (c *LodeClient) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

// buildFilePath computes the path of a sidecar file.
// Format: datasets/<dataset>/files/session_id=<id>/<filename>
func (c *LodeClient) buildFilePath(sessionID, filename string) string {
	return path.Join("datasets", c.config.dataset(), "files",
		partitionSession+"="+sessionID, filename)
}

// Dataset returns the underlying dataset.
func (c *LodeClient) Dataset() lode.Dataset {
	return c.dataset
}

// Close releases client resources.
func (c *LodeClient) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}
