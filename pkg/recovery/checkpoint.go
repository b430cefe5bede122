// pkg/recovery/checkpoint.go
//
// Checkpoint is recovery's inverse: it gathers the storage substrate,
// the tombstone index, and every vector collection's live contents
// into a new snapshot file, then repoints the manifest at it. Once
// installed, compaction can reclaim any WAL segment fully covered by
// the new watermark.
package recovery

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"stratacore/pkg/manifest"
	"stratacore/pkg/snapshot"
	"stratacore/pkg/storage"
	"stratacore/pkg/tombstone"
	"stratacore/pkg/vector"
	"stratacore/pkg/wal"
)

// Checkpoint writes a new snapshot numbered snapshotID under dir's
// SNAPSHOTS directory and atomically repoints dir's manifest at it.
// The watermark is the store's current high-water commit version at
// the moment the snapshot is built; any write committed after that
// point is reconstructed from the WAL on the next recovery instead.
func Checkpoint(dir string, dbID uuid.UUID, snapshotID uint64, store *storage.Store, w *wal.WAL, tombstones *tombstone.Index, collections map[string]*vector.Collection) (manifest.Manifest, error) {
	snapshotDir := filepath.Join(dir, "SNAPSHOTS")
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return manifest.Manifest{}, err
	}

	watermark := store.CurrentVersion()
	path := snapshot.Path(snapshotDir, snapshotID)
	header := snapshot.Header{
		DatabaseID: dbID, SnapshotID: snapshotID, Watermark: watermark,
		CodecID: manifest.CodecMsgpack, CreatedAt: time.Now(),
	}

	err := snapshot.CreateAtomic(snapshotDir, path, header, func(sw *snapshot.Writer) error {
		storageBuf, err := encodeStorageEntries(store)
		if err != nil {
			return err
		}
		if err := sw.WriteSection(tagStorageEntries, storageBuf); err != nil {
			return err
		}

		vectorBuf, err := encodeVectorEntries(collections)
		if err != nil {
			return err
		}
		if err := sw.WriteSection(tagVectorEntries, vectorBuf); err != nil {
			return err
		}

		tombstoneBuf, err := encodeTombstones(tombstones)
		if err != nil {
			return err
		}
		return sw.WriteSection(tagTombstones, tombstoneBuf)
	})
	if err != nil {
		return manifest.Manifest{}, err
	}

	m := manifest.Manifest{
		DatabaseID: dbID, CodecID: manifest.CodecMsgpack,
		ActiveSegmentNo: w.ActiveSegmentNo(),
		HasSnapshot:     true, SnapshotID: snapshotID, SnapshotWatermark: watermark,
	}
	if err := manifest.Save(filepath.Join(dir, "MANIFEST"), m); err != nil {
		return manifest.Manifest{}, err
	}
	return m, nil
}
