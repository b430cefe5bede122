// pkg/hnsw/search.go
package hnsw

import "stratacore/pkg/types"

// Match is one hit returned by SearchKNN: a VectorId and its
// similarity score under the graph's configured metric (higher is
// always more similar, regardless of which metric is configured).
type Match struct {
	ID    uint64
	Score float32
}

// SearchKNN finds the k nearest neighbors to query using the
// collection's default ef_search width.
func (g *Graph) SearchKNN(query *types.Vector, k int) ([]Match, error) {
	return g.SearchKNNWithEf(query, k, g.config.EfSearch)
}

// SearchKNNWithEf finds the k nearest neighbors to query with a custom
// ef (dynamic candidate list size); at least max(ef, k) candidates are
// explored at layer 0.
func (g *Graph) SearchKNNWithEf(query *types.Vector, k int, ef int) ([]Match, error) {
	if query.Dimension() != g.config.Dimension {
		return nil, ErrDimensionMismatch
	}
	if ef < k {
		ef = k
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.hasEntryPoint {
		return []Match{}, nil
	}

	ep := g.entryPoint
	for l := g.maxLevel; l > 0; l-- {
		ep = g.searchLayerClosest(query, ep, l)
	}

	candidates := g.searchLayer(query, ep, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]Match, 0, len(candidates))
	for _, id := range candidates {
		node := g.liveNode(id)
		if node == nil {
			continue
		}
		dist := g.distance(query, node.Vector())
		results = append(results, Match{ID: id, Score: types.Score(dist, g.config.Metric)})
	}

	for i := 0; i < len(results)-1; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Score > results[i].Score {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	return results, nil
}
