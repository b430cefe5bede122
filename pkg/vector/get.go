// pkg/vector/get.go
package vector

import "stratacore/pkg/types"

// Get returns key's current record and embedding, or false if key has
// no live VectorId.
func (c *Collection) Get(key string) (Record, *types.Vector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vectorID, exists := c.keyIndex[key]
	if !exists {
		return Record{}, nil, false
	}
	return c.records[vectorID], c.heap[vectorID], true
}
