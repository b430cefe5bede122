// pkg/recovery/recovery.go
//
// Open rebuilds a database's in-memory state from whatever is durable
// on disk: a manifest pointing at an optional snapshot, and the WAL
// segments layered on top of it. It is the only place snapshot
// replay, WAL replay and fresh-database bootstrap are unified into one
// sequence, so that the storage substrate, the tombstone index and
// every vector collection come back in lockstep no matter how far the
// prior process got before it stopped.
package recovery

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"stratacore/internal/log"
	"stratacore/pkg/dberrors"
	"stratacore/pkg/manifest"
	"stratacore/pkg/snapshot"
	"stratacore/pkg/storage"
	"stratacore/pkg/tombstone"
	"stratacore/pkg/txn"
	"stratacore/pkg/vector"
	"stratacore/pkg/wal"
)

// Options configures Open.
type Options struct {
	Dir        string
	Durability wal.DurabilityPolicy
}

// Result is everything a freshly recovered database needs to start
// serving requests.
type Result struct {
	Manifest    manifest.Manifest
	Store       *storage.Store
	Manager     *txn.Manager
	WAL         *wal.WAL
	Tombstones  *tombstone.Index
	Registry    *vector.Registry
	Collections map[string]*vector.Collection

	RecordsApplied  int
	BytesTruncated  int64
	SnapshotLoaded  bool
}

func manifestPath(dir string) string { return filepath.Join(dir, "MANIFEST") }
func walDir(dir string) string       { return filepath.Join(dir, "WAL") }
func snapshotDir(dir string) string  { return filepath.Join(dir, "SNAPSHOTS") }
func registryPath(dir string) string { return filepath.Join(dir, "VECTOR", "registry.msgpack") }
func graphPath(dir string, ns storage.Namespace, name string) string {
	return filepath.Join(dir, "VECTOR", ns.Branch.String(), name+".hgr")
}

func collectionKey(ns storage.Namespace, name string) string {
	return string(ns.Encode()) + "\x00" + name
}

// Open loads or creates the database rooted at opts.Dir and replays it
// forward to its last durable state.
func Open(opts Options) (*Result, error) {
	logger := log.WithComponent("recovery")

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(walDir(opts.Dir), 0755); err != nil {
		return nil, err
	}

	m, err := loadOrCreateManifest(opts.Dir)
	if err != nil {
		return nil, err
	}
	if m.CodecID != manifest.CodecMsgpack {
		return nil, dberrors.NewCorruption(manifestPath(opts.Dir), 0,
			fmt.Sprintf("unsupported codec id %d", m.CodecID))
	}

	registry, err := vector.LoadRegistry(registryPath(opts.Dir))
	if err != nil {
		return nil, err
	}

	collections := make(map[string]*vector.Collection, len(registry.Entries()))
	for _, e := range registry.Entries() {
		collections[collectionKey(e.Namespace, e.Name)] = vector.NewCollection(nil, e.Namespace, e.Name, e.Config)
	}

	store := storage.NewStore()
	tombstones := tombstone.New()

	watermark := uint64(0)
	snapshotLoaded := false
	if m.HasSnapshot {
		path := snapshot.Path(snapshotDir(opts.Dir), m.SnapshotID)
		header, sections, err := snapshot.Read(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("snapshot unreadable, falling back to full WAL replay")
		} else {
			for _, sec := range sections {
				switch sec.Tag {
				case tagStorageEntries:
					err = applyStorageEntries(sec.Payload, store)
				case tagVectorEntries:
					err = applyVectorEntries(sec.Payload, collections)
				case tagTombstones:
					err = applyTombstones(sec.Payload, tombstones)
				}
				if err != nil {
					return nil, err
				}
			}
			watermark = header.Watermark
			snapshotLoaded = true
		}
	}

	segNos, err := wal.ListSegments(walDir(opts.Dir))
	if err != nil {
		return nil, err
	}

	outcome, err := replayWAL(segNos, walDir(opts.Dir), watermark, store, collections)
	if err != nil {
		return nil, err
	}
	if outcome.BytesTruncated > 0 {
		logger.Warn().Int64("bytes", outcome.BytesTruncated).Msg("discarded a torn WAL tail")
	}

	store.AdvanceVersion(watermark)

	w, err := wal.Open(walDir(opts.Dir), m.DatabaseID, m.ActiveSegmentNo, opts.Durability)
	if err != nil {
		return nil, err
	}

	mgr := txn.NewManager(store, w)
	mgr.SeedNextTxnID(outcome.MaxTxnID + 1)

	for _, c := range collections {
		c.AttachManager(mgr)
		path := graphPath(opts.Dir, c.Namespace(), c.Name())
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		if err := c.FinalizeGraph(path); err != nil {
			logger.Warn().Err(err).Str("collection", c.Name()).Msg("mmap of graph file failed, rebuilt from heap")
		}
	}

	return &Result{
		Manifest:       m,
		Store:          store,
		Manager:        mgr,
		WAL:            w,
		Tombstones:     tombstones,
		Registry:       registry,
		Collections:    collections,
		RecordsApplied: outcome.RecordsApplied,
		BytesTruncated: outcome.BytesTruncated,
		SnapshotLoaded: snapshotLoaded,
	}, nil
}

func loadOrCreateManifest(dir string) (manifest.Manifest, error) {
	path := manifestPath(dir)
	if manifest.Exists(path) {
		return manifest.Load(path)
	}
	m := manifest.New(uuid.New())
	if err := manifest.Save(path, m); err != nil {
		return manifest.Manifest{}, err
	}
	return m, nil
}
