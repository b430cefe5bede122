// pkg/recovery/sections.go
//
// A snapshot file's sections are opaque to pkg/snapshot; this package
// owns the tag -> payload mapping. Three sections cover everything a
// snapshot needs to restore: every live non-vector key (kv/event/
// state/json all being thin storage projections, one section suffices
// for all four), every live vector with its embedding, and the
// tombstone index.
package recovery

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"stratacore/pkg/storage"
	"stratacore/pkg/tombstone"
	"stratacore/pkg/types"
	"stratacore/pkg/vector"
)

const (
	tagStorageEntries uint32 = 1
	tagVectorEntries  uint32 = 2
	tagTombstones     uint32 = 3
)

// storageEntry is one live key outside the vector primitive: KV,
// Event, State and JSON are all thin projections over storage, so a
// single encoding covers all four.
type storageEntry struct {
	Key       []byte
	Value     []byte
	Version   uint64
	Timestamp time.Time
	Expiry    *time.Time
}

// vectorEntry is one live vector, carrying everything needed to
// reconstruct it without touching the storage substrate: the
// collection it belongs to (by namespace+name, not by storage key,
// since a vector's heap entry is never addressed by key lookup) and
// its embedding.
type vectorEntry struct {
	Namespace  storage.Namespace
	Collection string
	VectorID   uint64
	Key        string
	Metadata   map[string]any
	SourceRef  string
	Embedding  []float32
}

func encodeStorageEntries(store *storage.Store) ([]byte, error) {
	var entries []storageEntry
	err := store.ForEach(func(key storage.Key, v storage.VersionedValue) bool {
		if key.Type == storage.TypeVector {
			return true // captured richly in the vector section instead
		}
		entries = append(entries, storageEntry{
			Key: key.Encode(), Value: v.Value, Version: v.Version,
			Timestamp: v.Timestamp, Expiry: v.Expiry,
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(entries)
}

func applyStorageEntries(payload []byte, store *storage.Store) error {
	var entries []storageEntry
	if err := msgpack.Unmarshal(payload, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		key, err := storage.DecodeKey(e.Key)
		if err != nil {
			return err
		}
		store.PutVersioned(key, storage.VersionedValue{
			Value: e.Value, Version: e.Version, Timestamp: e.Timestamp, Expiry: e.Expiry,
		})
	}
	return nil
}

func encodeVectorEntries(collections map[string]*vector.Collection) ([]byte, error) {
	var entries []vectorEntry
	for _, c := range collections {
		c.ForEachLive(func(key string, vectorID uint64, rec vector.Record, embedding *types.Vector) {
			var data []float32
			if embedding != nil {
				data = embedding.Data()
			}
			entries = append(entries, vectorEntry{
				Namespace: c.Namespace(), Collection: c.Name(), VectorID: vectorID,
				Key: key, Metadata: rec.Metadata, SourceRef: rec.SourceRef, Embedding: data,
			})
		})
	}
	return msgpack.Marshal(entries)
}

func applyVectorEntries(payload []byte, collections map[string]*vector.Collection) error {
	var entries []vectorEntry
	if err := msgpack.Unmarshal(payload, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		c, ok := collections[collectionKey(e.Namespace, e.Collection)]
		if !ok {
			continue // collection dropped from the registry since this snapshot was taken
		}
		c.ApplyUpsert(e.VectorID, e.Key, e.Metadata, e.SourceRef, types.NewVector(e.Embedding))
	}
	return nil
}

func encodeTombstones(idx *tombstone.Index) ([]byte, error) {
	return msgpack.Marshal(idx.All())
}

func applyTombstones(payload []byte, idx *tombstone.Index) error {
	var entries []tombstone.Entry
	if err := msgpack.Unmarshal(payload, &entries); err != nil {
		return err
	}
	idx.LoadAll(entries)
	return nil
}
