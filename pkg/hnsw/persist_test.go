// pkg/hnsw/persist_test.go
package hnsw

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratacore/pkg/types"
)

func buildTestGraph(t *testing.T) (*Graph, map[uint64]*types.Vector) {
	t.Helper()
	vectors := map[uint64]*types.Vector{
		1: vec(1, 0, 0),
		2: vec(0, 1, 0),
		3: vec(0, 0, 1),
		4: vec(1, 1, 0),
		5: vec(1, 0, 1),
		6: vec(0, 1, 1),
	}
	g := NewGraph(DefaultConfig(3, types.MetricCosine))
	for id, v := range vectors {
		require.NoError(t, g.Insert(id, v))
	}
	require.True(t, g.Delete(3))
	return g, vectors
}

func lookupFor(vectors map[uint64]*types.Vector) func(uint64) (*types.Vector, bool) {
	return func(id uint64) (*types.Vector, bool) {
		v, ok := vectors[id]
		return v, ok
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g, vectors := buildTestGraph(t)
	path := filepath.Join(t.TempDir(), "graph.shgr")

	require.NoError(t, g.Save(path))

	loaded, err := LoadGraph(path, g.Config(), lookupFor(vectors))
	require.NoError(t, err)

	assert.Equal(t, g.Len(), loaded.Len())
	assert.Equal(t, g.hasEntryPoint, loaded.hasEntryPoint)
	if g.hasEntryPoint {
		assert.Equal(t, g.entryPoint, loaded.entryPoint)
		assert.Equal(t, g.maxLevel, loaded.maxLevel)
	}

	for id, n := range g.nodes {
		ln, ok := loaded.nodes[id]
		require.True(t, ok, "missing node %d after reload", id)
		assert.Equal(t, n.Deleted(), ln.Deleted())
		assert.Equal(t, n.Level(), ln.Level())
		for l := 0; l <= n.Level(); l++ {
			assert.ElementsMatch(t, n.Neighbors(l), ln.Neighbors(l))
		}
	}

	// The soft-deleted node stays out of search results after reload too.
	results, err := loaded.SearchKNN(vec(0, 0, 1), 6)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint64(3), r.ID)
	}
}

func TestSaveIsAtomicReplace(t *testing.T) {
	g, vectors := buildTestGraph(t)
	path := filepath.Join(t.TempDir(), "graph.shgr")

	require.NoError(t, g.Save(path))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, g.Save(path))
	_, err = LoadGraph(path, g.Config(), lookupFor(vectors))
	require.NoError(t, err)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	g, vectors := buildTestGraph(t)
	path := filepath.Join(t.TempDir(), "graph.shgr")
	require.NoError(t, g.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] = 'X'
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = LoadGraph(path, g.Config(), lookupFor(vectors))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestLoadRejectsBadVersion(t *testing.T) {
	g, vectors := buildTestGraph(t)
	path := filepath.Join(t.TempDir(), "graph.shgr")
	require.NoError(t, g.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[4:8], 99)
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = LoadGraph(path, g.Config(), lookupFor(vectors))
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestLoadRejectsTruncatedFile(t *testing.T) {
	g, vectors := buildTestGraph(t)
	path := filepath.Join(t.TempDir(), "graph.shgr")
	require.NoError(t, g.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-16], 0644))

	_, err = LoadGraph(path, g.Config(), lookupFor(vectors))
	assert.ErrorIs(t, err, ErrTruncatedFile)
}

func TestLoadRejectsOutOfBoundsLayerRange(t *testing.T) {
	g, vectors := buildTestGraph(t)
	path := filepath.Join(t.TempDir(), "graph.shgr")
	require.NoError(t, g.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Corrupt the first node's layer-0 neighbor count to an impossibly
	// large value: the 32-byte fixed node header is followed by one
	// (start u32, count u32) pair per layer, so layer 0's count sits at
	// byte offset 36 within the node's record.
	corruptOffset := shgrHeaderSize + 36
	binary.LittleEndian.PutUint32(data[corruptOffset:corruptOffset+4], 0xFFFFFFF0)
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = LoadGraph(path, g.Config(), lookupFor(vectors))
	assert.ErrorIs(t, err, ErrLayerRange)
}

func TestRebuildFromVectorsProducesSearchableGraph(t *testing.T) {
	vectors := map[uint64]*types.Vector{
		1: vec(1, 0, 0),
		2: vec(0, 1, 0),
		3: vec(0, 0, 1),
	}
	ids := []uint64{3, 1, 2}
	g, err := RebuildFromVectors(DefaultConfig(3, types.MetricCosine), ids, lookupFor(vectors))
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())

	results, err := g.SearchKNN(vec(1, 0, 0), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].ID)
}

func TestRebuildFromVectorsSkipsMissingHeapEntries(t *testing.T) {
	vectors := map[uint64]*types.Vector{
		1: vec(1, 0, 0),
	}
	g, err := RebuildFromVectors(DefaultConfig(3, types.MetricCosine), []uint64{1, 2}, lookupFor(vectors))
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())
}
