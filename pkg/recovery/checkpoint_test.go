package recovery

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratacore/pkg/manifest"
	"stratacore/pkg/snapshot"
	"stratacore/pkg/storage"
	"stratacore/pkg/tombstone"
	"stratacore/pkg/vector"
	"stratacore/pkg/wal"
)

func TestCheckpointWritesReadableSnapshotAndRepointsManifest(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	ns := testNamespace()

	store := storage.NewStore()
	store.Put(storage.NewKey(ns, storage.TypeKV, []byte("a")), []byte("1"), 1, nil)
	store.AdvanceVersion(1)

	w, err := wal.Open(walDir(dir), dbID, 1, wal.NonePolicy())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	tombstones := tombstone.New()
	collections := map[string]*vector.Collection{}

	m, err := Checkpoint(dir, dbID, 7, store, w, tombstones, collections)
	require.NoError(t, err)
	assert.True(t, m.HasSnapshot)
	assert.Equal(t, uint64(7), m.SnapshotID)
	assert.Equal(t, uint64(1), m.SnapshotWatermark)

	loaded, err := manifest.Load(manifestPath(dir))
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	header, sections, err := snapshot.Read(snapshot.Path(snapshotDir(dir), 7))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), header.Watermark)
	assert.Len(t, sections, 3)
}
