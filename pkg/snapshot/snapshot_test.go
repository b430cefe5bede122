// pkg/snapshot/snapshot_test.go
package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot-1.snap")

	h := Header{DatabaseID: uuid.New(), SnapshotID: 1, Watermark: 42, CodecID: 1, CreatedAt: time.Now()}
	w, err := Create(path, h)
	require.NoError(t, err)
	require.NoError(t, w.WriteSection(1, []byte("storage-payload")))
	require.NoError(t, w.WriteSection(2, []byte("tombstones-payload")))
	require.NoError(t, w.Finish())

	gotHeader, sections, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, h.DatabaseID, gotHeader.DatabaseID)
	assert.Equal(t, uint64(42), gotHeader.Watermark)
	require.Len(t, sections, 2)
	assert.Equal(t, uint32(1), sections[0].Tag)
	assert.Equal(t, []byte("storage-payload"), sections[0].Payload)
	assert.Equal(t, []byte("tombstones-payload"), sections[1].Payload)
}

func TestCreateAtomicLeavesNoPartialOnFailure(t *testing.T) {
	dir := t.TempDir()
	finalPath := filepath.Join(dir, "snapshot-1.snap")

	err := CreateAtomic(dir, finalPath, Header{DatabaseID: uuid.New()}, func(w *Writer) error {
		return assert.AnError
	})
	require.Error(t, err)

	_, statErr := os.Stat(finalPath)
	assert.True(t, os.IsNotExist(statErr))

	leftovers, err := filepath.Glob(filepath.Join(dir, ".snapshot-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestReadRejectsCorruptSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot-1.snap")

	w, err := Create(path, Header{DatabaseID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, w.WriteSection(1, []byte("payload")))
	require.NoError(t, w.Finish())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-10] ^= 0xFF // flip a byte inside the section payload
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, _, err = Read(path)
	assert.Error(t, err)
}
