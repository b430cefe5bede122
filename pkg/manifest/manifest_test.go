// pkg/manifest/manifest_test.go
package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MANIFEST")

	m := New(uuid.New())
	m.ActiveSegmentNo = 3
	m.HasSnapshot = true
	m.SnapshotID = 7
	m.SnapshotWatermark = 42

	require.NoError(t, Save(path, m))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
}

func TestSaveIsAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MANIFEST")

	m1 := New(uuid.New())
	require.NoError(t, Save(path, m1))

	m2 := m1
	m2.ActiveSegmentNo = 99
	require.NoError(t, Save(path, m2))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), loaded.ActiveSegmentNo)

	entries, err := filepathGlobTmp(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no leftover temp files after a successful rename")
}

func filepathGlobTmp(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, ".manifest-*.tmp"))
}

func TestLoadRejectsCorruptCRC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MANIFEST")
	require.NoError(t, Save(path, New(uuid.New())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[20] ^= 0xFF // flip a byte inside the database id field
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = Load(path)
	assert.Error(t, err)
}
