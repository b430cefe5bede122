// pkg/hnsw/index.go
package hnsw

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"stratacore/pkg/types"
)

var (
	// ErrDimensionMismatch is returned when a vector's dimension does
	// not match the graph's configured dimension.
	ErrDimensionMismatch = errors.New("hnsw: vector dimension mismatch")
)

// Graph is an in-memory HNSW index over VectorId-keyed embeddings.
// Concurrent searches are allowed; inserts and deletes are serialized
// per collection by mu.
type Graph struct {
	mu            sync.RWMutex
	config        Config
	nodes         map[uint64]*Node
	entryPoint    uint64
	hasEntryPoint bool
	maxLevel      int
}

// NewGraph creates an empty HNSW graph with the given configuration.
func NewGraph(config Config) *Graph {
	return &Graph{config: config, nodes: make(map[uint64]*Node)}
}

// Config returns the graph's configuration.
func (g *Graph) Config() Config { return g.config }

// Len returns the total number of nodes, including soft-deleted ones.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// distance computes a distance (smaller is closer) between two
// vectors under the graph's configured metric.
func (g *Graph) distance(a, b *types.Vector) float32 {
	return a.Distance(b, g.config.Metric)
}

// liveNode returns id's node, or nil if it doesn't exist or has been
// soft-deleted. Deleted nodes are treated as absent everywhere in
// traversal and candidate selection.
func (g *Graph) liveNode(id uint64) *Node {
	n := g.nodes[id]
	if n == nil || n.Deleted() {
		return nil
	}
	return n
}

// randomLevel samples ℓ ~ floor(-ln(U(0,1)) * mL).
func (g *Graph) randomLevel() int {
	u := rand.Float64()
	for u <= 0 {
		u = rand.Float64()
	}
	level := int(math.Floor(-math.Log(u) * g.config.ML))
	if level > 32 {
		level = 32
	}
	return level
}

// Insert adds vector to the graph under the given VectorId, which the
// caller (pkg/vector) assigns monotonically. Callers must not reuse ids.
func (g *Graph) Insert(id uint64, vector *types.Vector) error {
	if vector.Dimension() != g.config.Dimension {
		return ErrDimensionMismatch
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	level := g.randomLevel()
	node := newNode(id, vector, level, time.Now())

	if len(g.nodes) == 0 {
		g.nodes[id] = node
		g.entryPoint = id
		g.hasEntryPoint = true
		g.maxLevel = level
		return nil
	}

	ep := g.entryPoint
	currentLevel := g.maxLevel

	for l := currentLevel; l > level; l-- {
		ep = g.searchLayerClosest(node.Vector(), ep, l)
	}

	for l := min(level, currentLevel); l >= 0; l-- {
		candidates := g.searchLayer(node.Vector(), ep, g.config.EfConstruction, l)

		maxNeighbors := g.config.M
		if l == 0 {
			maxNeighbors = g.config.MMax0
		}
		selected := g.selectNeighbors(node.Vector(), candidates, maxNeighbors)

		node.SetNeighbors(l, selected)
		for _, neighborID := range selected {
			neighbor := g.liveNode(neighborID)
			if neighbor == nil {
				continue
			}
			neighbor.AddNeighbor(l, id)
			g.pruneConnections(neighbor, l, maxNeighbors)
		}

		if len(selected) > 0 {
			ep = selected[0]
		}
	}

	g.nodes[id] = node
	if level > g.maxLevel || !g.hasEntryPoint {
		g.entryPoint = id
		g.maxLevel = level
	}
	g.hasEntryPoint = true
	return nil
}

// searchLayerClosest greedily walks from ep toward the closest node to
// query at the given layer, returning the local optimum found.
func (g *Graph) searchLayerClosest(query *types.Vector, ep uint64, level int) uint64 {
	current := ep
	currentNode := g.liveNode(current)
	if currentNode == nil {
		return ep
	}
	currentDist := g.distance(query, currentNode.Vector())

	for {
		improved := false
		node := g.nodes[current] // always live: only live neighbors are stepped to
		if node == nil {
			break
		}
		for _, neighborID := range node.Neighbors(level) {
			neighborNode := g.liveNode(neighborID)
			if neighborNode == nil {
				continue
			}
			dist := g.distance(query, neighborNode.Vector())
			if dist < currentDist {
				current = neighborID
				currentDist = dist
				improved = true
			}
		}
		if !improved {
			break
		}
	}
	return current
}

// searchLayer finds up to ef nodes closest to query at the given
// layer. Soft-deleted nodes are neither expanded nor returned.
func (g *Graph) searchLayer(query *types.Vector, ep uint64, ef int, level int) []uint64 {
	epNode := g.liveNode(ep)
	if epNode == nil {
		return nil
	}

	visited := map[uint64]bool{ep: true}
	candidates := []distNode{{id: ep, dist: g.distance(query, epNode.Vector())}}
	results := []distNode{{id: ep, dist: candidates[0].dist}}

	for len(candidates) > 0 {
		closest := candidates[0]
		candidates = candidates[1:]

		if len(results) >= ef && closest.dist > results[len(results)-1].dist {
			break
		}

		currentNode := g.nodes[closest.id]
		if currentNode == nil {
			continue
		}

		for _, neighborID := range currentNode.Neighbors(level) {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			neighborNode := g.liveNode(neighborID)
			if neighborNode == nil {
				continue
			}

			dist := g.distance(query, neighborNode.Vector())
			if len(results) < ef || dist < results[len(results)-1].dist {
				results = insertSorted(results, distNode{id: neighborID, dist: dist})
				if len(results) > ef {
					results = results[:ef]
				}
				candidates = insertSorted(candidates, distNode{id: neighborID, dist: dist})
			}
		}
	}

	ids := make([]uint64, len(results))
	for i, r := range results {
		ids[i] = r.id
	}
	return ids
}

// selectNeighbors picks at most m neighbors for a new edge set, using
// the diversity heuristic when configured.
func (g *Graph) selectNeighbors(query *types.Vector, candidates []uint64, m int) []uint64 {
	if len(candidates) <= m {
		return candidates
	}
	if g.config.UseHeuristic {
		return g.selectNeighborsHeuristic(query, candidates, m, g.config.ExtendCandidates)
	}
	return candidates[:m]
}

// selectNeighborsHeuristic implements the HNSW paper's diversity-biased
// neighbor selection: a candidate passes if it is closer to query than
// to every neighbor already selected. If fewer than m pass, the closest
// remaining candidates fill the rest.
func (g *Graph) selectNeighborsHeuristic(query *types.Vector, candidates []uint64, m int, extendCandidates bool) []uint64 {
	if len(candidates) == 0 {
		return nil
	}

	candidateSet := make(map[uint64]bool, len(candidates))
	for _, c := range candidates {
		candidateSet[c] = true
	}
	if extendCandidates {
		for _, c := range candidates {
			node := g.liveNode(c)
			if node == nil {
				continue
			}
			for _, n := range node.Neighbors(0) {
				candidateSet[n] = true
			}
		}
	}

	workQueue := make([]distNode, 0, len(candidateSet))
	for id := range candidateSet {
		node := g.liveNode(id)
		if node == nil {
			continue
		}
		workQueue = append(workQueue, distNode{id: id, dist: g.distance(query, node.Vector())})
	}
	sortDistNodes(workQueue)

	selected := make([]uint64, 0, m)
	for _, cand := range workQueue {
		if len(selected) >= m {
			break
		}
		candNode := g.liveNode(cand.id)
		if candNode == nil {
			continue
		}
		isGood := true
		for _, selID := range selected {
			selNode := g.liveNode(selID)
			if selNode == nil {
				continue
			}
			if g.distance(candNode.Vector(), selNode.Vector()) < cand.dist {
				isGood = false
				break
			}
		}
		if isGood {
			selected = append(selected, cand.id)
		}
	}

	if len(selected) < m {
		already := make(map[uint64]bool, len(selected))
		for _, s := range selected {
			already[s] = true
		}
		for _, cand := range workQueue {
			if len(selected) >= m {
				break
			}
			if !already[cand.id] {
				selected = append(selected, cand.id)
			}
		}
	}
	return selected
}

// pruneConnections re-selects node's neighbor set at level under the
// same heuristic when it exceeds maxConnections, trimming back-edges
// down to the configured maximum. Candidate extension is not applied
// here, since it would offer node itself as its own neighbor. Without
// the heuristic, the closest maxConnections neighbors are kept.
func (g *Graph) pruneConnections(node *Node, level int, maxConnections int) {
	neighbors := node.Neighbors(level)
	if len(neighbors) <= maxConnections {
		return
	}
	if g.config.UseHeuristic {
		node.SetNeighbors(level, g.selectNeighborsHeuristic(node.Vector(), neighbors, maxConnections, false))
		return
	}

	nds := make([]distNode, 0, len(neighbors))
	for _, nid := range neighbors {
		neighborNode := g.liveNode(nid)
		if neighborNode == nil {
			continue
		}
		nds = append(nds, distNode{id: nid, dist: g.distance(node.Vector(), neighborNode.Vector())})
	}
	sortDistNodes(nds)

	numToKeep := maxConnections
	if len(nds) < numToKeep {
		numToKeep = len(nds)
	}
	selected := make([]uint64, numToKeep)
	for i := 0; i < numToKeep; i++ {
		selected[i] = nds[i].id
	}
	node.SetNeighbors(level, selected)
}

// distNode pairs a node ID with its distance from some query.
type distNode struct {
	id   uint64
	dist float32
}

// insertSorted inserts node into a slice kept sorted by ascending distance.
func insertSorted(slice []distNode, node distNode) []distNode {
	i := 0
	for i < len(slice) && slice[i].dist < node.dist {
		i++
	}
	slice = append(slice, distNode{})
	copy(slice[i+1:], slice[i:])
	slice[i] = node
	return slice
}

func sortDistNodes(nds []distNode) {
	for i := 0; i < len(nds)-1; i++ {
		for j := i + 1; j < len(nds); j++ {
			if nds[j].dist < nds[i].dist {
				nds[i], nds[j] = nds[j], nds[i]
			}
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Delete soft-deletes id: it is marked with a deletion time and
// excluded from all future traversal and search results, but its
// neighbor-list edges are left untouched until a rebuild. Returns
// false if id is absent or already deleted.
func (g *Graph) Delete(id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	node := g.nodes[id]
	if node == nil || node.Deleted() {
		return false
	}
	node.markDeleted(time.Now())

	if g.entryPoint == id {
		g.updateEntryPoint()
	}
	return true
}

// updateEntryPoint picks the live node with the highest level as the
// new entry point after the current one is deleted.
func (g *Graph) updateEntryPoint() {
	maxLevel := -1
	var newEntry uint64
	found := false
	for id, node := range g.nodes {
		if node.Deleted() {
			continue
		}
		if node.Level() > maxLevel {
			maxLevel = node.Level()
			newEntry = id
			found = true
		}
	}
	g.hasEntryPoint = found
	if found {
		g.entryPoint = newEntry
		g.maxLevel = maxLevel
	} else {
		g.entryPoint = 0
		g.maxLevel = 0
	}
}

// Contains reports whether id exists and is live in the graph.
func (g *Graph) Contains(id uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.liveNode(id) != nil
}
