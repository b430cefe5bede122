// pkg/tombstone/tombstone_test.go
package tombstone

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndFor(t *testing.T) {
	idx := New()
	branch := uuid.New()
	key := []byte("k1")

	idx.Record(Entry{BranchID: branch, PrimitiveType: 1, Key: key, Version: 1, CreatedAt: time.Now(), Reason: UserDelete})
	idx.Record(Entry{BranchID: branch, PrimitiveType: 1, Key: key, Version: 5, CreatedAt: time.Now(), Reason: Compaction})

	entries := idx.For(branch, 1, key)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].Version)
	assert.Equal(t, uint64(5), entries[1].Version)
	assert.Equal(t, 2, idx.Len())
}

func TestCleanupBefore(t *testing.T) {
	idx := New()
	branch := uuid.New()
	now := time.Now()

	idx.Record(Entry{BranchID: branch, PrimitiveType: 1, Key: []byte("old"), CreatedAt: now.Add(-time.Hour)})
	idx.Record(Entry{BranchID: branch, PrimitiveType: 1, Key: []byte("new"), CreatedAt: now})

	removed := idx.CleanupBefore(now.Add(-time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, idx.Len())

	remaining := idx.For(branch, 1, []byte("new"))
	require.Len(t, remaining, 1)

	gone := idx.For(branch, 1, []byte("old"))
	assert.Empty(t, gone)
}

func TestLoadAllRebuildsIndex(t *testing.T) {
	idx := New()
	branch := uuid.New()
	idx.LoadAll([]Entry{
		{BranchID: branch, PrimitiveType: 2, Key: []byte("x"), Version: 1},
	})
	assert.Len(t, idx.For(branch, 2, []byte("x")), 1)
	assert.Equal(t, 1, idx.Len())
}
