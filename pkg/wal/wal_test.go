// pkg/wal/wal_test.go
package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal-00000000000000000001.seg")
	dbID := uuid.New()

	seg, err := CreateSegment(path, SegmentHeader{DatabaseID: dbID, SegmentNo: 1, CreatedAt: time.Now()})
	require.NoError(t, err)

	branch := uuid.New()
	_, err = seg.Append(BeginTxnRecord(1, branch, time.Now()))
	require.NoError(t, err)
	_, err = seg.Append(WriteRecord(branch, []byte("k1"), []byte("v1"), 1))
	require.NoError(t, err)
	_, err = seg.Append(CommitTxnRecord(1, branch))
	require.NoError(t, err)
	require.NoError(t, seg.Sync())
	require.NoError(t, seg.Close())

	records, err := ReplaySegment(path)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, RecBeginTxn, records[0].Type)
	assert.Equal(t, RecWrite, records[1].Type)
	assert.Equal(t, []byte("k1"), records[1].Key)
	assert.Equal(t, []byte("v1"), records[1].Value)
	assert.Equal(t, RecCommitTxn, records[2].Type)
}

func TestSegmentTruncatesPartialTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal-00000000000000000001.seg")
	dbID := uuid.New()

	seg, err := CreateSegment(path, SegmentHeader{DatabaseID: dbID, SegmentNo: 1, CreatedAt: time.Now()})
	require.NoError(t, err)
	branch := uuid.New()
	_, err = seg.Append(WriteRecord(branch, []byte("k1"), []byte("v1"), 1))
	require.NoError(t, err)
	require.NoError(t, seg.Close())

	// Simulate a crash mid-write: append a length prefix with no payload.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x10, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	sizeWithGarbage := info.Size()

	reopened, records, err := OpenSegment(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Len(t, records, 1, "the partial trailing record must not be returned")

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), sizeWithGarbage, "the partial tail must be truncated from the file")
}

func TestSegmentRejectsCorruptCRC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal-00000000000000000001.seg")
	dbID := uuid.New()

	seg, err := CreateSegment(path, SegmentHeader{DatabaseID: dbID, SegmentNo: 1, CreatedAt: time.Now()})
	require.NoError(t, err)
	branch := uuid.New()
	firstLen, err := seg.Append(WriteRecord(branch, []byte("k1"), []byte("v1"), 1))
	require.NoError(t, err)
	_, err = seg.Append(WriteRecord(branch, []byte("k2"), []byte("v2"), 2))
	require.NoError(t, err)
	require.NoError(t, seg.Close())

	// Flip a byte inside the second record's payload region (just past
	// its length prefix).
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	corruptAt := int64(SegmentHeaderSize) + firstLen + lengthPrefixSize + 1
	_, err = f.WriteAt([]byte{0xFF}, corruptAt)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, records, err := OpenSegment(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Len(t, records, 1, "only the record before the corrupted one should survive")
}

func TestWALDurabilityModes(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	branch := uuid.New()

	w, err := Open(dir, dbID, 1, StrictPolicy())
	require.NoError(t, err)
	require.NoError(t, w.Append(WriteRecord(branch, []byte("k"), []byte("v"), 1), false))
	require.NoError(t, w.Append(CommitTxnRecord(1, branch), true))
	require.NoError(t, w.Close())
}

func TestWALRollCreatesNewSegment(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	branch := uuid.New()

	w, err := Open(dir, dbID, 1, NonePolicy())
	require.NoError(t, err)
	require.NoError(t, w.Append(WriteRecord(branch, []byte("k"), []byte("v"), 1), false))

	closed, err := w.Roll(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), closed)
	assert.Equal(t, uint64(2), w.ActiveSegmentNo())
	require.NoError(t, w.Close())

	segs, err := ListSegments(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, segs)
}
