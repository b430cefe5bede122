// pkg/recovery/replay.go
//
// WAL replay: vector writes (RecVectorUpsert, and a RecDelete whose key
// decodes to a vector collection) are self-committed outside any
// Begin/Commit framing and apply unconditionally past the watermark;
// every other Write/Delete is buffered per branch between a BeginTxn
// and its terminal CommitTxn, and applied only if that CommitTxn is
// ever seen — an AbortTxn, or a BeginTxn with no terminal record at
// all (a crash mid-commit), discards its buffered writes.
package recovery

import (
	"os"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"stratacore/pkg/storage"
	"stratacore/pkg/types"
	"stratacore/pkg/vector"
	"stratacore/pkg/wal"
)

type pendingTxn struct {
	txnID  uint64
	writes []wal.Record
}

type replayOutcome struct {
	MaxTxnID       uint64
	RecordsApplied int
	BytesTruncated int64
}

func replayWAL(segNos []uint64, walDir string, watermark uint64, store *storage.Store, collections map[string]*vector.Collection) (replayOutcome, error) {
	var out replayOutcome
	pending := make(map[uuid.UUID]*pendingTxn)

	for _, segNo := range segNos {
		path := wal.SegmentPath(walDir, segNo)

		before, statErr := os.Stat(path)
		records, err := wal.ReplaySegment(path)
		if err != nil {
			return out, err
		}
		if statErr == nil {
			if after, err := os.Stat(path); err == nil {
				out.BytesTruncated += before.Size() - after.Size()
			}
		}

		for _, rec := range records {
			if rec.TxnID > out.MaxTxnID {
				out.MaxTxnID = rec.TxnID
			}

			switch rec.Type {
			case wal.RecBeginTxn:
				pending[rec.BranchID] = &pendingTxn{txnID: rec.TxnID}

			case wal.RecVectorUpsert:
				if rec.Version > watermark {
					if err := applyVectorUpsertRecord(rec, collections); err != nil {
						return out, err
					}
					out.RecordsApplied++
				}

			case wal.RecWrite:
				if p, ok := pending[rec.BranchID]; ok {
					p.writes = append(p.writes, rec)
				}

			case wal.RecDelete:
				key, err := storage.DecodeKey(rec.Key)
				if err != nil {
					return out, err
				}
				if key.Type == storage.TypeVector {
					if rec.Version > watermark {
						applyVectorDeleteKey(key, collections)
						out.RecordsApplied++
					}
					continue
				}
				if p, ok := pending[rec.BranchID]; ok {
					p.writes = append(p.writes, rec)
				}

			case wal.RecCommitTxn:
				p, ok := pending[rec.BranchID]
				delete(pending, rec.BranchID)
				if !ok {
					continue
				}
				for _, w := range p.writes {
					if w.Version <= watermark {
						continue
					}
					if err := applyGenericRecord(w, store); err != nil {
						return out, err
					}
					out.RecordsApplied++
				}

			case wal.RecAbortTxn:
				delete(pending, rec.BranchID)

			case wal.RecCheckpoint:
				// Informational only; the manifest already carries the
				// watermark this checkpoint established.
			}
		}
	}

	return out, nil
}

func applyGenericRecord(rec wal.Record, store *storage.Store) error {
	key, err := storage.DecodeKey(rec.Key)
	if err != nil {
		return err
	}
	if rec.Type == wal.RecDelete {
		store.Delete(key, rec.Version)
		return nil
	}
	store.Put(key, rec.Value, rec.Version, nil)
	return nil
}

func applyVectorUpsertRecord(rec wal.Record, collections map[string]*vector.Collection) error {
	key, err := storage.DecodeKey(rec.Key)
	if err != nil {
		return err
	}
	name, vectorID, ok := vector.SplitVectorUserBytes(key.UserBytes)
	if !ok {
		return nil
	}
	c, ok := collections[collectionKey(key.Namespace, name)]
	if !ok {
		return nil // collection no longer registered; nothing to replay into
	}

	var metaRecord vector.Record
	if err := msgpack.Unmarshal(rec.Value, &metaRecord); err != nil {
		return err
	}
	c.ApplyUpsert(vectorID, metaRecord.Key, metaRecord.Metadata, metaRecord.SourceRef, types.NewVector(rec.Vector))
	return nil
}

func applyVectorDeleteKey(key storage.Key, collections map[string]*vector.Collection) {
	name, vectorID, ok := vector.SplitVectorUserBytes(key.UserBytes)
	if !ok {
		return
	}
	c, ok := collections[collectionKey(key.Namespace, name)]
	if !ok {
		return
	}
	c.ApplyDeleteByID(vectorID)
}
