// pkg/vector/collection.go
//
// Collection is a per-(branch, name) vector collection: an immutable
// (dimension, metric) configuration, a heap of VectorId-keyed
// embeddings, the per-vector metadata record those ids resolve to, a
// key -> VectorId lookup index, and the HNSW graph built over the
// heap. Vector writes never join the generic OCC transaction
// protocol: they allocate their own commit version and append their
// own WAL record directly through the shared Manager
// (pkg/txn.Manager.AllocateVersion/AppendWAL), since composing a
// stateful in-memory graph mutation with validate-then-retry OCC
// semantics would require rebuilding graph state speculatively on
// every conflict retry. The HNSW graph itself already exposes
// everything this package layers functionality on top of: Insert,
// Delete (soft), and SearchKNNWithEf.
package vector

import (
	"encoding/binary"
	"sync"

	"stratacore/pkg/hnsw"
	"stratacore/pkg/storage"
	"stratacore/pkg/txn"
	"stratacore/pkg/types"
)

// CollectionConfig is the immutable configuration chosen when a
// collection is created. DType is always 32-bit float; there is
// nothing to configure there today, but the field exists so a future
// format can be distinguished without changing every caller's
// signature.
type CollectionConfig struct {
	Dimension int
	Metric    types.DistanceMetric
}

// Record is a vector's durable metadata: everything about it except
// the embedding, which lives in the heap and is restored separately
// by replaying the WAL's VectorUpsert payloads.
type Record struct {
	VectorID  uint64
	Key       string
	Metadata  map[string]any
	SourceRef string
}

// Match is one hit returned by Search.
type Match struct {
	Key       string
	Score     float32
	Metadata  map[string]any
	SourceRef string
}

// Collection holds one vector collection's live, in-memory state.
type Collection struct {
	mu     sync.RWMutex
	name   string
	ns     storage.Namespace
	config CollectionConfig
	mgr    *txn.Manager

	graph    *hnsw.Graph
	heap     map[uint64]*types.Vector
	records  map[uint64]Record
	keyIndex map[string]uint64
	nextID   uint64
}

// NewCollection creates a fresh, empty collection. It is also the
// starting point recovery replay populates via ApplyUpsert/ApplyDelete
// before FinalizeGraph runs.
func NewCollection(mgr *txn.Manager, ns storage.Namespace, name string, config CollectionConfig) *Collection {
	return &Collection{
		name:     name,
		ns:       ns,
		config:   config,
		mgr:      mgr,
		graph:    hnsw.NewGraph(hnsw.DefaultConfig(config.Dimension, config.Metric)),
		heap:     make(map[uint64]*types.Vector),
		records:  make(map[uint64]Record),
		keyIndex: make(map[string]uint64),
		nextID:   1,
	}
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// Namespace returns the collection's namespace.
func (c *Collection) Namespace() storage.Namespace { return c.ns }

// Config returns the collection's immutable configuration.
func (c *Collection) Config() CollectionConfig { return c.config }

// AttachManager wires mgr into the collection after construction.
// Recovery replay builds collections and populates their state via
// ApplyUpsert/ApplyDelete before a Manager exists at all — the
// Manager's global version counter seeds from the storage substrate's
// post-replay state, so it can only be constructed once replay is
// done. Live Upsert/Delete calls panic on a nil mgr if called before
// this.
func (c *Collection) AttachManager(mgr *txn.Manager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mgr = mgr
}

// ForEachLive calls fn once for every key with a live VectorId, in no
// particular order. Used by checkpoint building to capture a
// collection's current contents into a snapshot section.
func (c *Collection) ForEachLive(fn func(key string, vectorID uint64, rec Record, embedding *types.Vector)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, id := range c.keyIndex {
		fn(key, id, c.records[id], c.heap[id])
	}
}

// Len returns the number of live (non-deleted) vectors.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keyIndex)
}

func vectorStorageKey(ns storage.Namespace, name string, id uint64) storage.Key {
	buf := make([]byte, 2+len(name)+8)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(name)))
	copy(buf[2:2+len(name)], name)
	binary.BigEndian.PutUint64(buf[2+len(name):], id)
	return storage.NewKey(ns, storage.TypeVector, buf)
}

// CollectionPrefix returns the scan_prefix that isolates name's own
// keys within ns's vector key range, ordered by ascending VectorId.
func CollectionPrefix(ns storage.Namespace, name string) []byte {
	prefix := storage.NamespaceTypePrefix(ns, storage.TypeVector)
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(name)))
	prefix = append(prefix, lenBuf...)
	prefix = append(prefix, name...)
	return prefix
}

func decodeVectorID(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}

// VectorIDFromStorageKey extracts the VectorId encoded in a vector
// storage key's user bytes, when that key belongs to collection name.
// Used by recovery replay to resolve a generic Delete record's raw key
// bytes back to the VectorId it tombstones.
func VectorIDFromStorageKey(userBytes []byte, name string) (uint64, bool) {
	if len(userBytes) < 2 {
		return 0, false
	}
	n := int(binary.BigEndian.Uint16(userBytes[0:2]))
	if n != len(name) || len(userBytes) != 2+n+8 {
		return 0, false
	}
	if string(userBytes[2:2+n]) != name {
		return 0, false
	}
	return decodeVectorID(userBytes[2+n:]), true
}

// SplitVectorUserBytes decodes a vector storage key's user bytes into
// the collection name and VectorId it addresses, without needing to
// know the name in advance. Recovery uses this to route a generic
// Delete record's raw key bytes, or a VectorUpsert record's VectorID
// field, to the right collection when a branch holds more than one.
func SplitVectorUserBytes(userBytes []byte) (name string, id uint64, ok bool) {
	if len(userBytes) < 2 {
		return "", 0, false
	}
	n := int(binary.BigEndian.Uint16(userBytes[0:2]))
	if len(userBytes) != 2+n+8 {
		return "", 0, false
	}
	return string(userBytes[2 : 2+n]), decodeVectorID(userBytes[2+n:]), true
}
