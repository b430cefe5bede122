// pkg/storage/substrate_test.go
package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNamespace() Namespace {
	return Namespace{Branch: uuid.New(), Tenant: "acme", App: "assistant", Agent: "agent-1"}
}

func TestStorePutGet(t *testing.T) {
	s := NewStore()
	ns := testNamespace()
	k := NewKey(ns, TypeKV, []byte("greeting"))

	s.Put(k, []byte("hello"), 1, nil)

	v, ok := s.Get(k)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), v)
	assert.Equal(t, uint64(1), s.CurrentVersion())
}

func TestStoreOverwriteKeepsHistory(t *testing.T) {
	s := NewStore()
	ns := testNamespace()
	k := NewKey(ns, TypeKV, []byte("counter"))

	s.Put(k, []byte("1"), 1, nil)
	s.Put(k, []byte("2"), 2, nil)
	s.Put(k, []byte("3"), 3, nil)

	v, ok := s.Get(k)
	require.True(t, ok)
	assert.Equal(t, []byte("3"), v)

	hist := s.GetHistory(k, 0)
	require.Len(t, hist, 3)
	assert.Equal(t, []byte("3"), hist[0].Value)
	assert.Equal(t, []byte("2"), hist[1].Value)
	assert.Equal(t, []byte("1"), hist[2].Value)
}

func TestStoreGetAtVersion(t *testing.T) {
	s := NewStore()
	ns := testNamespace()
	k := NewKey(ns, TypeKV, []byte("counter"))

	s.Put(k, []byte("1"), 1, nil)
	s.Put(k, []byte("2"), 5, nil)
	s.Put(k, []byte("3"), 9, nil)

	v, ok := s.GetAtVersion(k, 5)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v.Value)

	v, ok = s.GetAtVersion(k, 6)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v.Value)

	_, ok = s.GetAtVersion(k, 0)
	assert.False(t, ok)
}

func TestStoreDeleteIsTombstone(t *testing.T) {
	s := NewStore()
	ns := testNamespace()
	k := NewKey(ns, TypeKV, []byte("x"))

	s.Put(k, []byte("v"), 1, nil)
	s.Delete(k, 2)

	_, ok := s.Get(k)
	assert.False(t, ok)

	ver, ok := s.LatestVersion(k)
	require.True(t, ok)
	assert.Equal(t, uint64(2), ver)

	// A snapshot taken before the delete still sees the live value.
	v, ok := s.GetAtVersion(k, 1)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v.Value)
}

func TestStoreScanPrefixOrdering(t *testing.T) {
	s := NewStore()
	ns := testNamespace()

	for i, suffix := range []string{"c", "a", "b"} {
		k := NewKey(ns, TypeKV, []byte(suffix))
		s.Put(k, []byte(suffix), uint64(i+1), nil)
	}

	var seen []string
	err := s.ScanPrefix(NamespaceTypePrefix(ns, TypeKV), func(key Key, value VersionedValue) bool {
		seen = append(seen, string(value.Value))
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestStoreScanByBranchIsolation(t *testing.T) {
	s := NewStore()
	nsA := testNamespace()
	nsB := testNamespace() // distinct random branch

	s.Put(NewKey(nsA, TypeKV, []byte("k1")), []byte("a1"), 1, nil)
	s.Put(NewKey(nsB, TypeKV, []byte("k1")), []byte("b1"), 2, nil)

	var count int
	err := s.ScanByBranch(nsA.Branch, func(key Key, value VersionedValue) bool {
		count++
		assert.Equal(t, nsA.Branch, key.Namespace.Branch)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSnapshotViewIsolation(t *testing.T) {
	s := NewStore()
	ns := testNamespace()
	k := NewKey(ns, TypeKV, []byte("x"))

	s.Put(k, []byte("before"), 1, nil)
	snap := s.CreateSnapshot()
	s.Put(k, []byte("after"), 2, nil)

	v, ok := snap.Get(k)
	require.True(t, ok)
	assert.Equal(t, []byte("before"), v)

	v, ok = s.Get(k)
	require.True(t, ok)
	assert.Equal(t, []byte("after"), v)
}

func TestCompactDropsOldVersionsKeepsHead(t *testing.T) {
	s := NewStore()
	ns := testNamespace()
	k := NewKey(ns, TypeKV, []byte("x"))

	s.Put(k, []byte("1"), 1, nil)
	s.Put(k, []byte("2"), 2, nil)
	s.Put(k, []byte("3"), 3, nil)

	reclaimed := s.Compact(3)
	assert.Equal(t, 2, reclaimed)

	hist := s.GetHistory(k, 0)
	require.Len(t, hist, 1)
	assert.Equal(t, []byte("3"), hist[0].Value)
}

func TestCompactDropsFullyTombstonedChain(t *testing.T) {
	s := NewStore()
	ns := testNamespace()
	k := NewKey(ns, TypeKV, []byte("x"))

	s.Put(k, []byte("1"), 1, nil)
	s.Delete(k, 2)

	s.Compact(10)

	_, ok := s.LatestVersion(k)
	assert.False(t, ok, "chain should be fully dropped once its only entry is an old tombstone")
}
