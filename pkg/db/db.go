// pkg/db/db.go
//
// Handle is the single entry point wiring L0 storage through L4
// recovery: a typed, fixed struct of subsystems initialized once in
// Open, in place of the ambient type-indexed extension registry the
// teacher's source reaches for. There is no interface{}-keyed map
// anywhere in this tree — every subsystem a caller can reach is a
// concrete, named field.
package db

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stratacore/internal/log"
	"stratacore/pkg/compaction"
	"stratacore/pkg/dberrors"
	"stratacore/pkg/manifest"
	"stratacore/pkg/recovery"
	"stratacore/pkg/storage"
	"stratacore/pkg/tombstone"
	"stratacore/pkg/txn"
	"stratacore/pkg/types"
	"stratacore/pkg/vector"
	"stratacore/pkg/wal"
)

// ErrClosed is returned by any Handle operation after Close.
var ErrClosed = errors.New("db: handle is closed")

// Options configures Open. Zero value selects strict durability, a
// 64MiB segment roll threshold and txn.DefaultRetryPolicy. HNSW
// parameters are not configured here; each collection's config is
// passed to CreateVectorCollection.
type Options struct {
	Path string

	Durability         wal.DurabilityMode
	BatchedN           int
	BatchedInterval    time.Duration
	SegmentSizeThreshold int64

	TombstoneRetention time.Duration

	RetryPolicy txn.RetryPolicy
}

func (o Options) durabilityPolicy() wal.DurabilityPolicy {
	switch o.Durability {
	case wal.Batched:
		return wal.BatchedPolicy(o.BatchedN, o.BatchedInterval)
	case wal.None:
		return wal.NonePolicy()
	default:
		return wal.StrictPolicy()
	}
}

func (o Options) segmentThreshold() int64 {
	if o.SegmentSizeThreshold > 0 {
		return o.SegmentSizeThreshold
	}
	return wal.RollThreshold
}

func (o Options) retryPolicy() txn.RetryPolicy {
	if o.RetryPolicy == (txn.RetryPolicy{}) {
		return txn.DefaultRetryPolicy()
	}
	return o.RetryPolicy
}

// Handle is one open database. Every subsystem it coordinates is a
// concrete field, not a dynamically-typed lookup.
type Handle struct {
	mu sync.RWMutex

	dir     string
	opts    Options
	logger  zerolog.Logger
	closed  bool

	storage     *storage.Store
	wal         *wal.WAL
	txnManager  *txn.Manager
	tombstones  *tombstone.Index
	registry    *vector.Registry
	collections map[string]*vector.Collection
	manifest    manifest.Manifest

	nextSnapshotID uint64
}

// Open recovers (or creates) the database rooted at opts.Path and
// returns a ready-to-use Handle.
func Open(opts Options) (*Handle, error) {
	if opts.Path == "" {
		return nil, dberrors.ErrInvalidInput
	}

	res, err := recovery.Open(recovery.Options{Dir: opts.Path, Durability: opts.durabilityPolicy()})
	if err != nil {
		return nil, err
	}

	h := &Handle{
		dir:            opts.Path,
		opts:           opts,
		logger:         log.WithComponent("db"),
		storage:        res.Store,
		wal:            res.WAL,
		txnManager:     res.Manager,
		tombstones:     res.Tombstones,
		registry:       res.Registry,
		collections:    res.Collections,
		manifest:       res.Manifest,
		nextSnapshotID: res.Manifest.SnapshotID + 1,
	}
	h.logger.Debug().
		Int("records_applied", res.RecordsApplied).
		Bool("snapshot_loaded", res.SnapshotLoaded).
		Msg("database opened")
	return h, nil
}

// Close flushes the active WAL segment and releases the handle. It is
// an error to use the handle afterward.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	return h.wal.Close()
}

// Manager returns the underlying transaction manager, for callers that
// need the full TransactionContext API (ScanPrefix, History, ReadSetSize)
// beyond what Begin/Commit/TransactionWithRetry expose directly.
func (h *Handle) Manager() *txn.Manager { return h.txnManager }

// Store returns the underlying storage substrate, for read-only
// diagnostics (e.g. CreateSnapshot-based point-in-time views).
func (h *Handle) Store() *storage.Store { return h.storage }

// Begin starts a transaction on branch. The caller must Commit or
// Rollback it.
func (h *Handle) Begin(branch uuid.UUID) (*txn.TransactionContext, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrClosed
	}
	return h.txnManager.Begin(branch), nil
}

// Commit commits tc, returning its assigned commit version.
func (h *Handle) Commit(tc *txn.TransactionContext) (uint64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0, ErrClosed
	}
	return h.txnManager.Commit(tc)
}

// Transaction runs fn inside a single transaction on branch, committing
// on success and rolling back if fn returns an error.
func (h *Handle) Transaction(branch uuid.UUID, fn func(*txn.TransactionContext) error) (uint64, error) {
	tc, err := h.Begin(branch)
	if err != nil {
		return 0, err
	}
	if err := fn(tc); err != nil {
		tc.Rollback()
		return 0, err
	}
	return h.Commit(tc)
}

// TransactionWithRetry runs fn inside a transaction on branch, retrying
// on commit conflict with exponential backoff per opts.RetryPolicy (or
// the default policy if unset).
func (h *Handle) TransactionWithRetry(branch uuid.UUID, fn func(*txn.TransactionContext) error) (uint64, error) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return 0, ErrClosed
	}
	mgr := h.txnManager
	policy := h.opts.retryPolicy()
	h.mu.RUnlock()
	return txn.TransactionWithRetry(mgr, branch, policy, fn)
}

// CreateVectorCollection registers and constructs a new vector
// collection under ns, persisting its config to the registry so a
// future recovery knows to reconstruct it.
func (h *Handle) CreateVectorCollection(ns storage.Namespace, name string, config vector.CollectionConfig) (*vector.Collection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	key := collectionMapKey(ns, name)
	if _, exists := h.collections[key]; exists {
		return nil, dberrors.ErrCollectionAlreadyExists
	}

	c := vector.NewCollection(h.txnManager, ns, name, config)
	h.collections[key] = c
	h.registry.Put(ns, name, config)
	if err := h.registry.Save(h.registryPath()); err != nil {
		delete(h.collections, key)
		h.registry.Remove(ns, name)
		return nil, err
	}
	return c, nil
}

// VectorCollection returns the collection (ns, name), or false if it
// has not been created.
func (h *Handle) VectorCollection(ns storage.Namespace, name string) (*vector.Collection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.collections[collectionMapKey(ns, name)]
	return c, ok
}

// DefaultVectorConfig is a convenience constructor for the common case
// of a collection with no configuration beyond dimension and metric;
// hnsw.DefaultConfig supplies the graph construction parameters
// (M, ef, etc.) when the collection is created.
func DefaultVectorConfig(dimension int, metric types.DistanceMetric) vector.CollectionConfig {
	return vector.CollectionConfig{Dimension: dimension, Metric: metric}
}

// Checkpoint snapshots the current live state and repoints the
// manifest at it, allowing compaction to later reclaim any WAL segment
// fully covered by the new watermark.
func (h *Handle) Checkpoint() (manifest.Manifest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return manifest.Manifest{}, ErrClosed
	}

	id := h.nextSnapshotID
	m, err := recovery.Checkpoint(h.dir, h.manifest.DatabaseID, id, h.storage, h.wal, h.tombstones, h.collections)
	if err != nil {
		return manifest.Manifest{}, err
	}
	h.manifest = m
	h.nextSnapshotID = id + 1
	return m, nil
}

// Compact rolls the active WAL segment if it has crossed
// opts.SegmentSizeThreshold, then reclaims every segment fully covered
// by the latest snapshot's watermark. Checkpoint should generally run
// first in the same maintenance cycle, or there may be nothing yet for
// compaction to reclaim.
func (h *Handle) Compact() (compaction.Result, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return compaction.Result{}, ErrClosed
	}
	if h.wal.ShouldRoll(h.opts.segmentThreshold()) {
		if _, err := h.wal.Roll(h.wal.ActiveSegmentNo() + 1); err != nil {
			h.mu.Unlock()
			return compaction.Result{}, err
		}
		h.manifest.ActiveSegmentNo = h.wal.ActiveSegmentNo()
		if err := manifest.Save(filepath.Join(h.dir, "MANIFEST"), h.manifest); err != nil {
			h.mu.Unlock()
			return compaction.Result{}, err
		}
	}
	walDirPath := filepath.Join(h.dir, "WAL")
	manifestPath := filepath.Join(h.dir, "MANIFEST")
	h.mu.Unlock()

	return compaction.Run(walDirPath, manifestPath)
}

// CleanupTombstones reclaims tombstone entries older than
// opts.TombstoneRetention (if set), returning the number reclaimed.
func (h *Handle) CleanupTombstones() int {
	h.mu.RLock()
	retention := h.opts.TombstoneRetention
	h.mu.RUnlock()
	if retention <= 0 {
		return 0
	}
	return h.tombstones.CleanupBefore(time.Now().Add(-retention))
}

func (h *Handle) registryPath() string {
	return filepath.Join(h.dir, "VECTOR", "registry.msgpack")
}

func collectionMapKey(ns storage.Namespace, name string) string {
	return string(ns.Encode()) + "\x00" + name
}
