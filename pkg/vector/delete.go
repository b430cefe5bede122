// pkg/vector/delete.go
package vector

import "stratacore/pkg/wal"

// Delete tombstones key's current VectorId: removed from key lookup
// and its graph node soft-deleted, but its heap entry kept, since a
// saved graph file still holds the soft-deleted node and LoadGraph
// resolves every node's embedding through the heap. Returns false if
// key is absent.
func (c *Collection) Delete(key string) (bool, error) {
	c.mu.RLock()
	vectorID, exists := c.keyIndex[key]
	c.mu.RUnlock()
	if !exists {
		return false, nil
	}

	version := c.mgr.AllocateVersion()
	storeKey := vectorStorageKey(c.ns, c.name, vectorID)
	if err := c.mgr.AppendWAL(wal.DeleteRecord(c.ns.Branch, storeKey.Encode(), version), true); err != nil {
		return false, err
	}
	c.mgr.Store().Delete(storeKey, version)

	c.ApplyDelete(key)
	return true, nil
}

// ApplyDelete removes key from the live key index and soft-deletes its
// graph node, without touching the heap. Exported for recovery replay
// of a live Delete call's WAL trail.
func (c *Collection) ApplyDelete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vectorID, exists := c.keyIndex[key]
	if !exists {
		return
	}
	delete(c.keyIndex, key)
	c.graph.Delete(vectorID)
}

// ApplyDeleteByID is ApplyDelete by VectorId instead of key, for
// replaying a generic Delete WAL record whose payload carries only the
// raw storage key bytes. It is a no-op if vectorID's key has already
// moved on to a newer VectorId (a later Upsert already soft-deleted
// this one).
func (c *Collection) ApplyDeleteByID(vectorID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[vectorID]
	if !ok {
		return
	}
	if current, exists := c.keyIndex[rec.Key]; exists && current == vectorID {
		delete(c.keyIndex, rec.Key)
	}
	c.graph.Delete(vectorID)
}
