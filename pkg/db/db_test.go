package db

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratacore/pkg/dberrors"
	"stratacore/pkg/kv"
	"stratacore/pkg/storage"
	"stratacore/pkg/txn"
	"stratacore/pkg/types"
	"stratacore/pkg/wal"
)

func testNamespace() storage.Namespace {
	return storage.Namespace{Branch: uuid.New(), Tenant: "t", App: "a", Agent: "ag"}
}

func openTestHandle(t *testing.T) (*Handle, string) {
	t.Helper()
	dir := t.TempDir()
	h, err := Open(Options{Path: dir, Durability: wal.None})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h, dir
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open(Options{})
	assert.ErrorIs(t, err, dberrors.ErrInvalidInput)
}

func TestTransactionCommitsAndPersists(t *testing.T) {
	h, _ := openTestHandle(t)
	ns := testNamespace()

	_, err := h.Transaction(ns.Branch, func(tc *txn.TransactionContext) error {
		return kv.Put(tc, ns, []byte("a"), []byte("1"))
	})
	require.NoError(t, err)

	tc, err := h.Begin(ns.Branch)
	require.NoError(t, err)
	defer tc.Rollback()
	v, ok, err := kv.Get(tc, ns, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	h, _ := openTestHandle(t)
	ns := testNamespace()

	_, err := h.Transaction(ns.Branch, func(tc *txn.TransactionContext) error {
		require.NoError(t, kv.Put(tc, ns, []byte("a"), []byte("1")))
		return assert.AnError
	})
	assert.Error(t, err)

	tc, err := h.Begin(ns.Branch)
	require.NoError(t, err)
	defer tc.Rollback()
	_, ok, err := kv.Get(tc, ns, []byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOperationsFailAfterClose(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(Options{Path: dir, Durability: wal.None})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = h.Begin(uuid.New())
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, h.Close(), ErrClosed)
}

func TestCreateVectorCollectionRejectsDuplicate(t *testing.T) {
	h, _ := openTestHandle(t)
	ns := testNamespace()
	cfg := DefaultVectorConfig(4, types.MetricCosine)

	_, err := h.CreateVectorCollection(ns, "docs", cfg)
	require.NoError(t, err)

	_, err = h.CreateVectorCollection(ns, "docs", cfg)
	assert.ErrorIs(t, err, dberrors.ErrCollectionAlreadyExists)
}

func TestVectorCollectionSurvivesCheckpointAndReopen(t *testing.T) {
	h, dir := openTestHandle(t)
	ns := testNamespace()
	cfg := DefaultVectorConfig(3, types.MetricCosine)

	c, err := h.CreateVectorCollection(ns, "docs", cfg)
	require.NoError(t, err)
	_, _, err = c.Upsert("doc-1", types.NewVector([]float32{1, 0, 0}), map[string]any{"title": "one"}, "")
	require.NoError(t, err)

	_, err = h.Checkpoint()
	require.NoError(t, err)

	require.NoError(t, h.Close())

	h2, err := Open(Options{Path: dir, Durability: wal.None})
	require.NoError(t, err)
	t.Cleanup(func() { h2.Close() })

	recovered, ok := h2.VectorCollection(ns, "docs")
	require.True(t, ok)
	rec, _, found := recovered.Get("doc-1")
	require.True(t, found)
	assert.Equal(t, "one", rec.Metadata["title"])
}

func TestCleanupTombstonesNoopWithoutRetentionConfigured(t *testing.T) {
	h, _ := openTestHandle(t)
	assert.Equal(t, 0, h.CleanupTombstones())
}

func TestCompactReclaimsSegmentsCoveredByCheckpoint(t *testing.T) {
	h, _ := openTestHandle(t)
	ns := testNamespace()

	_, err := h.Transaction(ns.Branch, func(tc *txn.TransactionContext) error {
		return kv.Put(tc, ns, []byte("a"), []byte("1"))
	})
	require.NoError(t, err)

	_, err = h.Checkpoint()
	require.NoError(t, err)

	_, err = h.Compact()
	require.NoError(t, err)
}
