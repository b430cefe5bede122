// pkg/snapshot/snapshot.go
//
// A snapshot file is a consistent image of the storage substrate at a
// chosen watermark version: a header followed by
// (tag, length, payload, crc32c) sections, one per tag the caller
// chooses, plus a
// whole-file CRC trailer. Sections are opaque here — pkg/snapshot only
// knows how to frame and checksum them; the caller (pkg/recovery)
// decides what tag maps to what payload encoding. Uses the same
// header-then-sections shape as the vector graph's own mmap file
// format, generalized from one section (the graph) to an arbitrary
// ordered list.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"stratacore/pkg/dberrors"
)

const (
	magic         uint32 = 0x53574e50 // "SWNP"
	formatVersion uint32 = 1

	// HeaderSize: magic(4)+version(4)+dbID(16)+snapshotID(8)+watermark(8)+codecID(4)+createdAt(8)
	HeaderSize = 4 + 4 + 16 + 8 + 8 + 4 + 8

	sectionTagSize  = 4
	sectionLenSize  = 4
	sectionCrcSize  = 4
	trailerCrcSize  = 4
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Header identifies a snapshot file.
type Header struct {
	DatabaseID uuid.UUID
	SnapshotID uint64
	Watermark  uint64
	CodecID    uint32
	CreatedAt  time.Time
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], magic)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], formatVersion)
	off += 4
	copy(buf[off:off+16], h.DatabaseID[:])
	off += 16
	binary.LittleEndian.PutUint64(buf[off:], h.SnapshotID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.Watermark)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], h.CodecID)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.CreatedAt.UnixNano()))
	return buf
}

func decodeHeader(buf []byte, path string) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, dberrors.NewCorruption(path, 0, "truncated snapshot header")
	}
	off := 0
	if binary.LittleEndian.Uint32(buf[off:]) != magic {
		return Header{}, dberrors.NewCorruption(path, int64(off), "bad snapshot magic")
	}
	off += 4
	if binary.LittleEndian.Uint32(buf[off:]) != formatVersion {
		return Header{}, dberrors.NewCorruption(path, int64(off), "unsupported snapshot version")
	}
	off += 4
	var h Header
	copy(h.DatabaseID[:], buf[off:off+16])
	off += 16
	h.SnapshotID = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.Watermark = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.CodecID = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.CreatedAt = time.Unix(0, int64(binary.LittleEndian.Uint64(buf[off:])))
	return h, nil
}

// Section is one (tag, payload) pair read back from a snapshot file.
type Section struct {
	Tag     uint32
	Payload []byte
}

// Writer builds a snapshot file section by section.
type Writer struct {
	f      *os.File
	bw     *bufio.Writer
	hasher []byte // accumulates every byte written, for the whole-file trailer
}

// Create opens path for writing and writes the header.
func Create(path string, h Header) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f, bw: bufio.NewWriter(f)}
	header := encodeHeader(h)
	if err := w.write(header); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) write(b []byte) error {
	if _, err := w.bw.Write(b); err != nil {
		return err
	}
	w.hasher = append(w.hasher, b...)
	return nil
}

// WriteSection appends one (tag, length, payload, crc32c) section.
func (w *Writer) WriteSection(tag uint32, payload []byte) error {
	head := make([]byte, sectionTagSize+sectionLenSize)
	binary.LittleEndian.PutUint32(head[0:4], tag)
	binary.LittleEndian.PutUint32(head[4:8], uint32(len(payload)))
	if err := w.write(head); err != nil {
		return err
	}
	if err := w.write(payload); err != nil {
		return err
	}
	crcBuf := make([]byte, sectionCrcSize)
	binary.LittleEndian.PutUint32(crcBuf, crc32.Checksum(payload, crcTable))
	return w.write(crcBuf)
}

// Finish writes the whole-file CRC trailer, flushes, fsyncs, and closes
// the file. The snapshot is only "installed" once the caller also
// updates the manifest to point at it.
func (w *Writer) Finish() error {
	trailer := make([]byte, trailerCrcSize)
	binary.LittleEndian.PutUint32(trailer, crc32.Checksum(w.hasher, crcTable))
	if _, err := w.bw.Write(trailer); err != nil {
		w.f.Close()
		return err
	}
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Abort closes the file without a trailer; the partial file must not
// be treated as a valid snapshot (no manifest update should ever point
// at it).
func (w *Writer) Abort() error {
	return w.f.Close()
}

// CreateAtomic writes a snapshot to a temp file in dir and only renames
// it to finalPath once Finish succeeds, so a crash mid-write never
// leaves a partially-written file at finalPath.
func CreateAtomic(dir, finalPath string, h Header, build func(w *Writer) error) error {
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	os.Remove(tmpPath)

	w, err := Create(tmpPath, h)
	if err != nil {
		return err
	}
	if err := build(w); err != nil {
		w.Abort()
		os.Remove(tmpPath)
		return err
	}
	if err := w.Finish(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, finalPath)
}

// Read opens and fully validates a snapshot file, returning its header
// and every section. Any CRC or framing failure returns a
// dberrors.CorruptionError — unlike the WAL, a snapshot is never
// partially trusted: a damaged snapshot file must be discarded and
// recovery falls back to a full WAL replay.
func Read(path string) (Header, []Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, nil, err
	}
	if len(data) < HeaderSize+trailerCrcSize {
		return Header{}, nil, dberrors.NewCorruption(path, 0, "snapshot file too small")
	}

	body := data[:len(data)-trailerCrcSize]
	wantTrailer := binary.LittleEndian.Uint32(data[len(data)-trailerCrcSize:])
	if crc32.Checksum(body, crcTable) != wantTrailer {
		return Header{}, nil, dberrors.NewCorruption(path, int64(len(data)-trailerCrcSize), "whole-file CRC mismatch")
	}

	header, err := decodeHeader(body[:HeaderSize], path)
	if err != nil {
		return Header{}, nil, err
	}

	var sections []Section
	off := HeaderSize
	for off < len(body) {
		if off+sectionTagSize+sectionLenSize > len(body) {
			return Header{}, nil, dberrors.NewCorruption(path, int64(off), "truncated section header")
		}
		tag := binary.LittleEndian.Uint32(body[off:])
		off += sectionTagSize
		length := binary.LittleEndian.Uint32(body[off:])
		off += sectionLenSize
		if off+int(length)+sectionCrcSize > len(body) {
			return Header{}, nil, dberrors.NewCorruption(path, int64(off), "truncated section payload")
		}
		payload := body[off : off+int(length)]
		off += int(length)
		wantCRC := binary.LittleEndian.Uint32(body[off:])
		off += sectionCrcSize
		if crc32.Checksum(payload, crcTable) != wantCRC {
			return Header{}, nil, dberrors.NewCorruption(path, int64(off), "section CRC mismatch")
		}
		sections = append(sections, Section{Tag: tag, Payload: append([]byte(nil), payload...)})
	}

	return header, sections, nil
}

// Path returns the conventional snapshot file path for an id.
func Path(dir string, id uint64) string {
	return filepath.Join(dir, snapshotFileName(id))
}

func snapshotFileName(id uint64) string {
	return "snapshot-" + itoa(id) + ".snap"
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
