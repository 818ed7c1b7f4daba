package pebblestore

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = pebble.ErrNotFound

// FsyncMode defines durability behavior for committed writes.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every committed batch. Safest; every
	// acknowledged state transition survives a crash.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs within a window
	// (group commit). A crash may lose the last window of transitions.
	FsyncModeInterval
	// FsyncModeNever leaves syncing entirely to Pebble's own policies.
	FsyncModeNever
)

// Options configures the store.
type Options struct {
	// DataDir is the Pebble database directory.
	DataDir string
	// Fsync selects the WAL sync policy.
	Fsync FsyncMode
	// FsyncInterval is the group-commit window for FsyncModeInterval.
	FsyncInterval time.Duration
	// Metrics observes read/write/commit latencies. Optional.
	Metrics MetricsHook
}

// MetricsHook observes storage operations. The delivery metrics aggregator
// implements this to fold store latencies into its snapshot.
type MetricsHook interface {
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveCommit(elapsed time.Duration, bytes int)
}

// NoopMetrics is used when no hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveRead(time.Duration, int)   {}
func (NoopMetrics) ObserveCommit(time.Duration, int) {}

// DB wraps a Pebble instance with a fixed fsync policy and small helpers.
// All multi-key state transitions in the delivery core go through batches
// committed here, which is what makes each transition atomic.
type DB struct {
	inner     *pebble.DB
	writeSync bool
	metrics   MetricsHook
}

// Open creates or opens the database at opts.DataDir.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebblestore: Options.DataDir is required")
	}

	po := &pebble.Options{}
	switch opts.Fsync {
	case FsyncModeAlways:
		// Sync passed per-commit; no WALMinSyncInterval.
	case FsyncModeInterval:
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	case FsyncModeNever:
	default:
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	return &DB{
		inner:     inner,
		writeSync: opts.Fsync == FsyncModeAlways,
		metrics:   metrics,
	}, nil
}

// SetMetrics swaps the observation hook. Call before serving traffic; the
// hook is not synchronized against in-flight operations.
func (db *DB) SetMetrics(h MetricsHook) {
	if h == nil {
		h = NoopMetrics{}
	}
	db.metrics = h
}

// Close closes the database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// NewBatch creates a batch for an atomic multi-key update.
func (db *DB) NewBatch() *pebble.Batch { return db.inner.NewBatch() }

// CommitBatch commits the batch under the configured fsync policy.
func (db *DB) CommitBatch(_ context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebblestore: nil batch")
	}
	start := time.Now()
	size := b.Len()
	defer func() { db.metrics.ObserveCommit(time.Since(start), size) }()

	sync := pebble.NoSync
	if db.writeSync {
		sync = pebble.Sync
	}
	return b.Commit(sync)
}

// Set writes a single key through a one-op batch.
func (db *DB) Set(key, value []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Set(key, value, nil); err != nil {
		return err
	}
	return db.CommitBatch(context.Background(), b)
}

// Delete removes a single key through a one-op batch.
func (db *DB) Delete(key []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Delete(key, nil); err != nil {
		return err
	}
	return db.CommitBatch(context.Background(), b)
}

// Get returns a copy of the value for key, or ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := append([]byte(nil), val...)
	db.metrics.ObserveRead(time.Since(start), len(out))
	return out, nil
}

// Has reports whether key exists.
func (db *DB) Has(key []byte) (bool, error) {
	_, closer, err := db.inner.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	_ = closer.Close()
	return true, nil
}

// NewIter creates a raw iterator with the provided options.
func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.inner.NewIter(opts)
}

// CompactRange requests compaction of [start, end); used after large sweeps.
func (db *DB) CompactRange(start, end []byte) error {
	return db.inner.Compact(start, end, true)
}
