package recovery

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratacore/pkg/kv"
	"stratacore/pkg/manifest"
	"stratacore/pkg/storage"
	"stratacore/pkg/txn"
	"stratacore/pkg/types"
	"stratacore/pkg/vector"
	"stratacore/pkg/wal"
)

func testNamespace() storage.Namespace {
	return storage.Namespace{Branch: uuid.New(), Tenant: "t", App: "a", Agent: "ag"}
}

func TestOpenOnFreshDirectoryCreatesManifest(t *testing.T) {
	dir := t.TempDir()
	res, err := Open(Options{Dir: dir, Durability: wal.NonePolicy()})
	require.NoError(t, err)
	t.Cleanup(func() { res.WAL.Close() })

	assert.False(t, res.SnapshotLoaded)
	assert.Equal(t, uint64(0), res.Store.CurrentVersion())
	assert.True(t, manifest.Exists(manifestPath(dir)))
}

func TestOpenReplaysCommittedWritesAfterCrashWithoutCheckpoint(t *testing.T) {
	dir := t.TempDir()

	res1, err := Open(Options{Dir: dir, Durability: wal.NonePolicy()})
	require.NoError(t, err)

	ns := testNamespace()
	tc := res1.Manager.Begin(ns.Branch)
	require.NoError(t, kv.Put(tc, ns, []byte("a"), []byte("1")))
	_, err = res1.Manager.Commit(tc)
	require.NoError(t, err)

	tc2 := res1.Manager.Begin(ns.Branch)
	require.NoError(t, kv.Put(tc2, ns, []byte("b"), []byte("2")))
	_, err = res1.Manager.Commit(tc2)
	require.NoError(t, err)

	// An aborted transaction's writes must never reappear after recovery.
	tc3 := res1.Manager.Begin(ns.Branch)
	require.NoError(t, kv.Put(tc3, ns, []byte("c"), []byte("should-not-survive")))
	tc3.Rollback()

	require.NoError(t, res1.WAL.Close())

	res2, err := Open(Options{Dir: dir, Durability: wal.NonePolicy()})
	require.NoError(t, err)
	t.Cleanup(func() { res2.WAL.Close() })

	v, ok, err := kv.Get(txnContextFor(t, res2), ns, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	v, ok, err = kv.Get(txnContextFor(t, res2), ns, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)

	_, ok, err = kv.Get(txnContextFor(t, res2), ns, []byte("c"))
	require.NoError(t, err)
	assert.False(t, ok, "rolled back writes must not survive recovery")
}

func txnContextFor(t *testing.T, res *Result) *txn.TransactionContext {
	t.Helper()
	tc := res.Manager.Begin(uuid.New())
	t.Cleanup(func() { tc.Rollback() })
	return tc
}

func TestOpenReplaysVectorUpsertsAndDeletes(t *testing.T) {
	dir := t.TempDir()
	ns := testNamespace()

	res1, err := Open(Options{Dir: dir, Durability: wal.NonePolicy()})
	require.NoError(t, err)

	cfg := vector.CollectionConfig{Dimension: 3, Metric: types.MetricCosine}
	res1.Registry.Put(ns, "docs", cfg)
	require.NoError(t, res1.Registry.Save(registryPath(dir)))

	c := vector.NewCollection(res1.Manager, ns, "docs", cfg)
	_, _, err = c.Upsert("doc-1", types.NewVector([]float32{1, 0, 0}), map[string]any{"title": "one"}, "src-1")
	require.NoError(t, err)
	_, _, err = c.Upsert("doc-2", types.NewVector([]float32{0, 1, 0}), map[string]any{"title": "two"}, "src-2")
	require.NoError(t, err)
	ok, err := c.Delete("doc-2")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, res1.WAL.Close())

	res2, err := Open(Options{Dir: dir, Durability: wal.NonePolicy()})
	require.NoError(t, err)
	t.Cleanup(func() { res2.WAL.Close() })

	recovered, ok := res2.Collections[collectionKey(ns, "docs")]
	require.True(t, ok)

	rec, embedding, found := recovered.Get("doc-1")
	require.True(t, found)
	assert.Equal(t, "one", rec.Metadata["title"])
	assert.Equal(t, []float32{1, 0, 0}, embedding.Data())

	_, _, found = recovered.Get("doc-2")
	assert.False(t, found, "deleted vector must not reappear after recovery")
}

func TestOpenAfterCheckpointLoadsSnapshotAndReplaysLaterWAL(t *testing.T) {
	dir := t.TempDir()
	ns := testNamespace()

	res1, err := Open(Options{Dir: dir, Durability: wal.NonePolicy()})
	require.NoError(t, err)

	tc := res1.Manager.Begin(ns.Branch)
	require.NoError(t, kv.Put(tc, ns, []byte("a"), []byte("1")))
	_, err = res1.Manager.Commit(tc)
	require.NoError(t, err)

	_, err = Checkpoint(dir, res1.Manifest.DatabaseID, 1, res1.Store, res1.WAL, res1.Tombstones, res1.Collections)
	require.NoError(t, err)

	tc2 := res1.Manager.Begin(ns.Branch)
	require.NoError(t, kv.Put(tc2, ns, []byte("b"), []byte("2")))
	_, err = res1.Manager.Commit(tc2)
	require.NoError(t, err)

	require.NoError(t, res1.WAL.Close())

	res2, err := Open(Options{Dir: dir, Durability: wal.NonePolicy()})
	require.NoError(t, err)
	t.Cleanup(func() { res2.WAL.Close() })

	assert.True(t, res2.SnapshotLoaded)

	v, ok, err := kv.Get(txnContextFor(t, res2), ns, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	v, ok, err = kv.Get(txnContextFor(t, res2), ns, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}

func TestOpenSeedsNextTxnIDPastAnythingReplayed(t *testing.T) {
	dir := t.TempDir()
	ns := testNamespace()

	res1, err := Open(Options{Dir: dir, Durability: wal.NonePolicy()})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tc := res1.Manager.Begin(ns.Branch)
		require.NoError(t, kv.Put(tc, ns, []byte("k"), []byte("v")))
		_, err = res1.Manager.Commit(tc)
		require.NoError(t, err)
	}
	require.NoError(t, res1.WAL.Close())

	res2, err := Open(Options{Dir: dir, Durability: wal.NonePolicy()})
	require.NoError(t, err)
	t.Cleanup(func() { res2.WAL.Close() })

	tc := res2.Manager.Begin(ns.Branch)
	assert.Greater(t, tc.TxnID(), uint64(3))
}
