// pkg/vector/graph.go
//
// FinalizeGraph and Save are the two halves of the collection's
// graph-file lifecycle: recovery calls FinalizeGraph once, after
// replaying every VectorUpsert/Delete into the heap and key index, to
// either mmap the collection's cached graph file or, failing that,
// rebuild the graph from scratch by replaying every live heap entry
// through Insert. Save serializes the current graph back to that same
// file; it is a cache over the heap, never the source of truth, so a
// crash between a write and the next Save only costs a rebuild on the
// next open, not data.
package vector

import (
	"stratacore/pkg/hnsw"
	"stratacore/pkg/types"
)

// FinalizeGraph attempts to load path as a cached graph file; on any
// error (missing file, corruption, stale layer ranges) it rebuilds the
// graph from the collection's current heap instead.
func (c *Collection) FinalizeGraph(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hnswConfig := hnsw.DefaultConfig(c.config.Dimension, c.config.Metric)

	loaded, err := hnsw.LoadGraph(path, hnswConfig, c.heapLookup)
	if err == nil {
		c.graph = loaded
		return nil
	}

	ids := make([]uint64, 0, len(c.keyIndex))
	for _, id := range c.keyIndex {
		ids = append(ids, id)
	}
	rebuilt, rebuildErr := hnsw.RebuildFromVectors(hnswConfig, ids, c.heapLookup)
	if rebuildErr != nil {
		return rebuildErr
	}
	c.graph = rebuilt
	return nil
}

func (c *Collection) heapLookup(id uint64) (*types.Vector, bool) {
	v, ok := c.heap[id]
	return v, ok
}

// Save serializes the collection's current graph to path as a cache
// to skip a full rebuild on the next open.
func (c *Collection) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.Save(path)
}
