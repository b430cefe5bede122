// pkg/vector/search.go
package vector

import (
	"sort"

	"stratacore/pkg/dberrors"
	"stratacore/pkg/types"
)

// Search returns up to k nearest neighbors to query, ordered by
// descending score, after applying filter (top-level field equality
// conjuncts; an empty filter matches everything, a non-object or
// missing field fails a non-empty filter). metricOverride, when
// non-nil and different from the collection's own metric, rescores
// the candidates the graph's own traversal already retrieved under its
// configured metric rather than re-running the search under a
// different metric end to end — switching the traversal metric itself
// would need a second graph built over the same heap.
//
// Because the metadata filter is applied after retrieval, a narrow
// filter can return fewer than k matches even when more would exist;
// this widens the candidate set fetched from the graph but does not
// guarantee an exact top-k under filtering.
func (c *Collection) Search(query *types.Vector, k int, filter map[string]types.Scalar, metricOverride *types.DistanceMetric) ([]Match, error) {
	if query.Dimension() != c.config.Dimension {
		return nil, dberrors.ErrInvalidInput
	}
	if k <= 0 {
		return nil, nil
	}

	c.mu.RLock()
	graph := c.graph
	ef := graph.Config().EfSearch
	total := len(c.keyIndex)
	c.mu.RUnlock()

	fetchK := k
	if len(filter) > 0 {
		fetchK = k * 8
	}
	if fetchK > total {
		fetchK = total
	}
	if fetchK < k {
		fetchK = k
	}

	raw, err := graph.SearchKNNWithEf(query, fetchK, maxInt(ef, fetchK))
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	matches := make([]Match, 0, len(raw))
	for _, m := range raw {
		rec, ok := c.records[m.ID]
		if !ok || !matchesFilter(rec.Metadata, filter) {
			continue
		}
		score := m.Score
		if metricOverride != nil && *metricOverride != c.config.Metric {
			if embedding, ok := c.heap[m.ID]; ok {
				score = types.Score(query.Distance(embedding, *metricOverride), *metricOverride)
			}
		}
		matches = append(matches, Match{Key: rec.Key, Score: score, Metadata: rec.Metadata, SourceRef: rec.SourceRef})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func matchesFilter(metadata map[string]any, filter map[string]types.Scalar) bool {
	if len(filter) == 0 {
		return true
	}
	if metadata == nil {
		return false
	}
	for field, want := range filter {
		raw, ok := metadata[field]
		if !ok {
			return false
		}
		got, ok := types.ScalarFromAny(raw)
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
