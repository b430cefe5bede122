// pkg/vector/upsert.go
package vector

import (
	"github.com/vmihailenco/msgpack/v5"

	"stratacore/pkg/dberrors"
	"stratacore/pkg/types"
	"stratacore/pkg/wal"
)

// Upsert assigns a fresh VectorId to key, soft-deleting whatever
// VectorId key previously resolved to (if any), so the old graph node
// is never again stepped to in traversal or returned as a result.
// Returns the new VectorId and the commit version it was
// durably recorded at.
func (c *Collection) Upsert(key string, embedding *types.Vector, metadata map[string]any, sourceRef string) (uint64, uint64, error) {
	if embedding.Dimension() != c.config.Dimension {
		return 0, 0, dberrors.ErrInvalidInput
	}

	c.mu.Lock()
	vectorID := c.nextID
	c.nextID++
	c.mu.Unlock()

	metaBytes, err := msgpack.Marshal(&Record{VectorID: vectorID, Key: key, Metadata: metadata, SourceRef: sourceRef})
	if err != nil {
		return 0, 0, err
	}

	storeKey := vectorStorageKey(c.ns, c.name, vectorID)

	version := c.mgr.AllocateVersion()
	rec := wal.VectorUpsertRecord(c.ns.Branch, storeKey.Encode(), metaBytes, embedding.Data(), version)
	if err := c.mgr.AppendWAL(rec, true); err != nil {
		return 0, 0, err
	}

	c.mgr.Store().Put(storeKey, metaBytes, version, nil)

	c.ApplyUpsert(vectorID, key, metadata, sourceRef, embedding)
	return vectorID, version, nil
}

// ApplyUpsert installs vectorID's record and embedding into the live
// heap/keyIndex/graph, soft-deleting whatever VectorId key previously
// resolved to. Exported so recovery replay can drive the same state
// transition a live Upsert does, from a WAL VectorUpsert record.
func (c *Collection) ApplyUpsert(vectorID uint64, key string, metadata map[string]any, sourceRef string, embedding *types.Vector) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vectorID >= c.nextID {
		c.nextID = vectorID + 1
	}

	if oldID, exists := c.keyIndex[key]; exists {
		c.graph.Delete(oldID)
	}

	c.heap[vectorID] = embedding
	c.records[vectorID] = Record{VectorID: vectorID, Key: key, Metadata: metadata, SourceRef: sourceRef}
	c.keyIndex[key] = vectorID
	// Dimension already checked by the caller (Upsert) or by whoever
	// decoded this embedding out of the WAL during replay; it cannot
	// mismatch the graph's own configured dimension.
	_ = c.graph.Insert(vectorID, embedding)
}
