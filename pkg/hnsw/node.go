// pkg/hnsw/node.go
package hnsw

import (
	"time"

	"stratacore/pkg/types"
)

// Node is one vector in an HNSW graph, indexed by its VectorId. Soft
// deletion marks DeletedAt instead of unlinking the node, so physical
// neighbor-list surgery is deferred to a rebuild rather than done
// eagerly on every delete.
type Node struct {
	id        uint64
	vector    *types.Vector
	level     int        // highest layer this node participates in
	neighbors [][]uint64 // neighbors[layer] = neighbor VectorIds
	createdAt time.Time
	deletedAt *time.Time
}

// newNode creates a node at the given level with empty neighbor lists
// for every layer from 0 to level.
func newNode(id uint64, vector *types.Vector, level int, createdAt time.Time) *Node {
	neighbors := make([][]uint64, level+1)
	for i := range neighbors {
		neighbors[i] = make([]uint64, 0)
	}
	return &Node{id: id, vector: vector, level: level, neighbors: neighbors, createdAt: createdAt}
}

// ID returns the node's VectorId.
func (n *Node) ID() uint64 { return n.id }

// Vector returns the node's embedding.
func (n *Node) Vector() *types.Vector { return n.vector }

// Level returns the highest layer this node exists at.
func (n *Node) Level() int { return n.level }

// CreatedAt returns when the node was inserted.
func (n *Node) CreatedAt() time.Time { return n.createdAt }

// Deleted reports whether the node has been soft-deleted.
func (n *Node) Deleted() bool { return n.deletedAt != nil }

// DeletedAt returns the soft-deletion time, or the zero time if live.
func (n *Node) DeletedAt() time.Time {
	if n.deletedAt == nil {
		return time.Time{}
	}
	return *n.deletedAt
}

func (n *Node) markDeleted(at time.Time) {
	n.deletedAt = &at
}

// Neighbors returns the neighbor VectorIds at the given layer.
func (n *Node) Neighbors(level int) []uint64 {
	if level < 0 || level > n.level {
		return nil
	}
	return n.neighbors[level]
}

// AddNeighbor appends a neighbor at the given layer.
func (n *Node) AddNeighbor(level int, neighborID uint64) {
	if level < 0 || level > n.level {
		return
	}
	n.neighbors[level] = append(n.neighbors[level], neighborID)
}

// SetNeighbors replaces all neighbors at the given layer.
func (n *Node) SetNeighbors(level int, neighborIDs []uint64) {
	if level < 0 || level > n.level {
		return
	}
	n.neighbors[level] = make([]uint64, len(neighborIDs))
	copy(n.neighbors[level], neighborIDs)
}

// RemoveNeighbor removes one neighbor occurrence at the given layer.
func (n *Node) RemoveNeighbor(level int, neighborID uint64) {
	if level < 0 || level > n.level {
		return
	}
	neighbors := n.neighbors[level]
	for i, id := range neighbors {
		if id == neighborID {
			n.neighbors[level] = append(neighbors[:i], neighbors[i+1:]...)
			return
		}
	}
}
