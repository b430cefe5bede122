// pkg/hnsw/config.go
package hnsw

import (
	"math"

	"stratacore/pkg/types"
)

// Config holds the HNSW index parameters for one collection. Once a
// collection is created these never change.
type Config struct {
	// Dimension is the vector dimension every node in this graph shares.
	Dimension int

	// Metric selects the distance/score function used throughout the graph.
	Metric types.DistanceMetric

	// M is the maximum number of connections per node at layers > 0.
	M int

	// MMax0 is the maximum number of connections at layer 0.
	MMax0 int

	// EfConstruction is the dynamic candidate list size used while inserting.
	EfConstruction int

	// EfSearch is the default dynamic candidate list size used while searching.
	EfSearch int

	// ML is the level-assignment scaling factor, 1/ln(M).
	ML float64

	// UseHeuristic enables the diversity-biased neighbor selection
	// heuristic from the HNSW paper instead of naive closest-M selection.
	UseHeuristic bool

	// ExtendCandidates extends the heuristic's candidate set with the
	// neighbors of each candidate before selecting. Only meaningful
	// when UseHeuristic is set.
	ExtendCandidates bool
}

// DefaultConfig returns the standard HNSW parameters (M=16) for a
// collection of the given dimension and metric.
func DefaultConfig(dimension int, metric types.DistanceMetric) Config {
	m := 16
	return Config{
		Dimension:        dimension,
		Metric:           metric,
		M:                m,
		MMax0:            m * 2,
		EfConstruction:   200,
		EfSearch:         50,
		ML:               1.0 / math.Log(float64(m)),
		UseHeuristic:     true,
		ExtendCandidates: true,
	}
}
