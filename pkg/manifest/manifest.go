// pkg/manifest/manifest.go
//
// Manifest is the recovery entry point: database identity,
// codec identifier, the active WAL segment number, and an optional
// pointer to the latest snapshot plus its watermark version. Updates
// are atomic via temp-file + rename, following the same fixed-offset
// header encoding and Create/Open idiom used for the database file.
package manifest

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"stratacore/pkg/dberrors"
)

const (
	magic          uint32 = 0x53574d46 // "SWMF"
	formatVersion  uint32 = 1
	CodecMsgpack   uint32 = 1
	fixedSize             = 4 + 4 + 16 + 4 + 8 + 4 + 8 + 8 + 4 // see encode() for field order
	noSnapshotFlag uint32 = 0
	hasSnapshotFlg uint32 = 1
)

// Manifest is the small, atomically-replaced pointer record recovery
// reads first.
type Manifest struct {
	DatabaseID       uuid.UUID
	CodecID          uint32
	ActiveSegmentNo  uint64
	HasSnapshot      bool
	SnapshotID       uint64
	SnapshotWatermark uint64
}

// New returns a fresh manifest for a newly created database.
func New(dbID uuid.UUID) Manifest {
	return Manifest{DatabaseID: dbID, CodecID: CodecMsgpack, ActiveSegmentNo: 1}
}

func (m Manifest) encode() []byte {
	buf := make([]byte, fixedSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], magic)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], formatVersion)
	off += 4
	copy(buf[off:off+16], m.DatabaseID[:])
	off += 16
	binary.LittleEndian.PutUint32(buf[off:], m.CodecID)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], m.ActiveSegmentNo)
	off += 8
	snapFlag := noSnapshotFlag
	if m.HasSnapshot {
		snapFlag = hasSnapshotFlg
	}
	binary.LittleEndian.PutUint32(buf[off:], snapFlag)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], m.SnapshotID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], m.SnapshotWatermark)
	off += 8
	crc := crc32Of(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)
	return buf
}

func decode(buf []byte, path string) (Manifest, error) {
	if len(buf) < fixedSize {
		return Manifest{}, dberrors.NewCorruption(path, 0, "truncated manifest")
	}
	off := 0
	if binary.LittleEndian.Uint32(buf[off:]) != magic {
		return Manifest{}, dberrors.NewCorruption(path, int64(off), "bad manifest magic")
	}
	off += 4
	if binary.LittleEndian.Uint32(buf[off:]) != formatVersion {
		return Manifest{}, dberrors.NewCorruption(path, int64(off), "unsupported manifest version")
	}
	off += 4

	var m Manifest
	copy(m.DatabaseID[:], buf[off:off+16])
	off += 16
	m.CodecID = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	m.ActiveSegmentNo = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	snapFlag := binary.LittleEndian.Uint32(buf[off:])
	m.HasSnapshot = snapFlag == hasSnapshotFlg
	off += 4
	m.SnapshotID = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	m.SnapshotWatermark = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	wantCRC := binary.LittleEndian.Uint32(buf[off:])
	gotCRC := crc32Of(buf[:off])
	if wantCRC != gotCRC {
		return Manifest{}, dberrors.NewCorruption(path, int64(off), "manifest CRC mismatch")
	}
	return m, nil
}

// Load reads the manifest at path.
func Load(path string) (Manifest, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	return decode(buf, path)
}

// Save atomically replaces the manifest at path: write to a temp file
// in the same directory, fsync, then rename over the destination.
func Save(path string, m Manifest) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(m.encode()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Exists reports whether a manifest file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
