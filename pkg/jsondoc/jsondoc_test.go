package jsondoc

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratacore/pkg/dberrors"
	"stratacore/pkg/storage"
	"stratacore/pkg/txn"
	"stratacore/pkg/wal"
)

func newTestManager(t *testing.T) *txn.Manager {
	t.Helper()
	dir := t.TempDir()
	w, err := wal.Open(dir, uuid.New(), 1, wal.NonePolicy())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return txn.NewManager(storage.NewStore(), w)
}

func testNamespace() storage.Namespace {
	return storage.Namespace{Branch: uuid.New(), Tenant: "t", App: "a", Agent: "ag"}
}

func TestCreateAndGet(t *testing.T) {
	mgr := newTestManager(t)
	ns := testNamespace()

	tc := mgr.Begin(ns.Branch)
	doc := map[string]any{"name": "alice", "age": int64(30)}
	require.NoError(t, Create(tc, ns, "doc1", doc))

	got, ok, err := Get(tc, ns, "doc1")
	require.NoError(t, err)
	require.True(t, ok)
	m, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", m["name"])
}

func TestCreateFailsIfDocumentExists(t *testing.T) {
	mgr := newTestManager(t)
	ns := testNamespace()

	tc := mgr.Begin(ns.Branch)
	require.NoError(t, Create(tc, ns, "doc1", map[string]any{"a": int64(1)}))
	err := Create(tc, ns, "doc1", map[string]any{"a": int64(2)})
	assert.True(t, errors.Is(err, dberrors.ErrCollectionAlreadyExists))
}

func TestGetPathObjectKey(t *testing.T) {
	mgr := newTestManager(t)
	ns := testNamespace()

	tc := mgr.Begin(ns.Branch)
	doc := map[string]any{"user": map[string]any{"name": "bob"}}
	require.NoError(t, Create(tc, ns, "doc1", doc))

	v, ok, err := GetPath(tc, ns, "doc1", "$.user.name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bob", v)
}

func TestGetPathArrayIndex(t *testing.T) {
	mgr := newTestManager(t)
	ns := testNamespace()

	tc := mgr.Begin(ns.Branch)
	doc := map[string]any{"items": []any{"x", "y", "z"}}
	require.NoError(t, Create(tc, ns, "doc1", doc))

	v, ok, err := GetPath(tc, ns, "doc1", "$.items[1]")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "y", v)
}

func TestSetCreatesAncestors(t *testing.T) {
	mgr := newTestManager(t)
	ns := testNamespace()

	tc := mgr.Begin(ns.Branch)
	require.NoError(t, Create(tc, ns, "doc1", map[string]any{}))
	require.NoError(t, Set(tc, ns, "doc1", "$.a.b.c", "deep-value"))

	v, ok, err := GetPath(tc, ns, "doc1", "$.a.b.c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "deep-value", v)
}

func TestSetFailsOnInvalidArrayIndex(t *testing.T) {
	mgr := newTestManager(t)
	ns := testNamespace()

	tc := mgr.Begin(ns.Branch)
	require.NoError(t, Create(tc, ns, "doc1", map[string]any{"items": []any{"a"}}))
	err := Set(tc, ns, "doc1", "$.items[5]", "x")
	assert.Error(t, err)
}

func TestSetAppendsAtExactArrayLength(t *testing.T) {
	mgr := newTestManager(t)
	ns := testNamespace()

	tc := mgr.Begin(ns.Branch)
	require.NoError(t, Create(tc, ns, "doc1", map[string]any{"items": []any{"a"}}))
	require.NoError(t, Set(tc, ns, "doc1", "$.items[1]", "b"))

	v, ok, err := GetPath(tc, ns, "doc1", "$.items[1]")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestSetFailsOnTypeMismatch(t *testing.T) {
	mgr := newTestManager(t)
	ns := testNamespace()

	tc := mgr.Begin(ns.Branch)
	require.NoError(t, Create(tc, ns, "doc1", map[string]any{"items": "not-an-array"}))
	err := Set(tc, ns, "doc1", "$.items[0]", "x")
	assert.Error(t, err)
}

func TestDeleteObjectKey(t *testing.T) {
	mgr := newTestManager(t)
	ns := testNamespace()

	tc := mgr.Begin(ns.Branch)
	require.NoError(t, Create(tc, ns, "doc1", map[string]any{"a": int64(1), "b": int64(2)}))

	removed, err := Delete(tc, ns, "doc1", "$.a")
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err := GetPath(tc, ns, "doc1", "$.a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteArrayElementSplices(t *testing.T) {
	mgr := newTestManager(t)
	ns := testNamespace()

	tc := mgr.Begin(ns.Branch)
	require.NoError(t, Create(tc, ns, "doc1", map[string]any{"items": []any{"x", "y", "z"}}))

	removed, err := Delete(tc, ns, "doc1", "$.items[1]")
	require.NoError(t, err)
	assert.True(t, removed)

	doc, _, err := Get(tc, ns, "doc1")
	require.NoError(t, err)
	m := doc.(map[string]any)
	arr := m["items"].([]any)
	assert.Equal(t, []any{"x", "z"}, arr)
}

func TestDestroyRemovesDocument(t *testing.T) {
	mgr := newTestManager(t)
	ns := testNamespace()

	tc := mgr.Begin(ns.Branch)
	require.NoError(t, Create(tc, ns, "doc1", map[string]any{"a": int64(1)}))
	require.NoError(t, Destroy(tc, ns, "doc1"))

	_, ok, err := Get(tc, ns, "doc1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestList(t *testing.T) {
	mgr := newTestManager(t)
	ns := testNamespace()

	tc := mgr.Begin(ns.Branch)
	require.NoError(t, Create(tc, ns, "users:1", map[string]any{}))
	require.NoError(t, Create(tc, ns, "users:2", map[string]any{}))
	require.NoError(t, Create(tc, ns, "orders:1", map[string]any{}))

	ids, err := List(tc, ns, "users:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"users:1", "users:2"}, ids)
}
