// pkg/wal/segment.go
//
// Segment is a single append-only WAL file: a fixed header followed by
// length-prefixed, CRC32C-checked records. Framing and the
// truncate-on-partial-tail recovery rule follow the same header
// magic/version plus validity-scan-that-stops-at-the-first-bad-frame
// shape as the rest of this engine's durable files, generalized from
// fixed-size page frames to variable-length logical records and from
// a rolling checksum to CRC32C per record.
package wal

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"stratacore/pkg/dberrors"
)

const (
	segmentMagic   uint32 = 0x53575347 // "SWSG"
	segmentVersion uint32 = 1

	// SegmentHeaderSize: magic(4) + version(4) + dbUUID(16) + segNo(8) + createdAt(8) + reserved(4)
	SegmentHeaderSize = 4 + 4 + 16 + 8 + 8 + 4

	// lengthPrefixSize + crcSize bound the framing overhead per record.
	lengthPrefixSize = 4
	crcSize          = 4
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// SegmentHeader identifies a WAL segment file and the database it
// belongs to.
type SegmentHeader struct {
	DatabaseID uuid.UUID
	SegmentNo  uint64
	CreatedAt  time.Time
}

func encodeSegmentHeader(h SegmentHeader) []byte {
	buf := make([]byte, SegmentHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], segmentMagic)
	binary.LittleEndian.PutUint32(buf[4:8], segmentVersion)
	copy(buf[8:24], h.DatabaseID[:])
	binary.LittleEndian.PutUint64(buf[24:32], h.SegmentNo)
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.CreatedAt.UnixNano()))
	return buf
}

func decodeSegmentHeader(buf []byte, path string) (SegmentHeader, error) {
	if len(buf) < SegmentHeaderSize {
		return SegmentHeader{}, dberrors.NewCorruption(path, 0, "truncated segment header")
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != segmentMagic {
		return SegmentHeader{}, dberrors.NewCorruption(path, 0, "bad segment magic")
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != segmentVersion {
		return SegmentHeader{}, dberrors.NewCorruption(path, 4, "unsupported segment version")
	}
	var h SegmentHeader
	copy(h.DatabaseID[:], buf[8:24])
	h.SegmentNo = binary.LittleEndian.Uint64(buf[24:32])
	h.CreatedAt = time.Unix(0, int64(binary.LittleEndian.Uint64(buf[32:40])))
	return h, nil
}

// Segment is one append-only WAL file plus its durability bookkeeping.
type Segment struct {
	path   string
	file   *os.File
	header SegmentHeader
	size   int64 // current file size, tracked to avoid repeated Stat calls
}

// CreateSegment creates a new segment file with the given header.
func CreateSegment(path string, header SegmentHeader) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	buf := encodeSegmentHeader(header)
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	return &Segment{path: path, file: f, header: header, size: int64(len(buf))}, nil
}

// OpenSegment opens an existing segment file, truncating any partial
// record at the tail (length prefix present but payload short, or CRC
// mismatch on the last record).
func OpenSegment(path string) (*Segment, []Record, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, nil, err
	}

	headerBuf := make([]byte, SegmentHeaderSize)
	if _, err := io.ReadFull(f, headerBuf); err != nil {
		f.Close()
		return nil, nil, dberrors.NewCorruption(path, 0, "cannot read segment header: "+err.Error())
	}
	header, err := decodeSegmentHeader(headerBuf, path)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	records, validEnd, err := scanRecords(f, path)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	if validEnd != fileSize(f) {
		if err := f.Truncate(validEnd); err != nil {
			f.Close()
			return nil, nil, err
		}
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, nil, err
		}
	}

	return &Segment{path: path, file: f, header: header, size: validEnd}, records, nil
}

func fileSize(f *os.File) int64 {
	info, err := f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// scanRecords reads every record from just after the header, stopping
// (without error) at the first invalid frame. It returns the decoded
// records and the file offset up to which the segment is valid.
func scanRecords(f *os.File, path string) ([]Record, int64, error) {
	r := bufio.NewReader(f)
	offset := int64(SegmentHeaderSize)
	var records []Record

	for {
		lenBuf := make([]byte, lengthPrefixSize)
		n, err := io.ReadFull(r, lenBuf)
		if err != nil || n < lengthPrefixSize {
			break // no more complete records; clean EOF or partial tail
		}
		payloadLen := binary.LittleEndian.Uint32(lenBuf)

		payload := make([]byte, payloadLen)
		crcBuf := make([]byte, crcSize)
		if _, err := io.ReadFull(r, payload); err != nil {
			break // partial payload at tail
		}
		if _, err := io.ReadFull(r, crcBuf); err != nil {
			break // partial crc at tail
		}

		wantCRC := binary.LittleEndian.Uint32(crcBuf)
		gotCRC := crc32.Checksum(payload, crc32cTable)
		if wantCRC != gotCRC {
			break // corrupt/partial final record; truncate here
		}

		rec, err := DecodeRecord(payload)
		if err != nil {
			break
		}
		records = append(records, rec)
		offset += int64(lengthPrefixSize) + int64(payloadLen) + int64(crcSize)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	return records, offset, nil
}

// Append writes one record, returning the number of bytes written.
// Callers decide whether to fsync afterward (durability mode policy).
func (s *Segment) Append(rec Record) (int64, error) {
	payload, err := rec.Encode()
	if err != nil {
		return 0, err
	}
	frame := make([]byte, lengthPrefixSize+len(payload)+crcSize)
	binary.LittleEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(payload)))
	copy(frame[lengthPrefixSize:], payload)
	crc := crc32.Checksum(payload, crc32cTable)
	binary.LittleEndian.PutUint32(frame[lengthPrefixSize+len(payload):], crc)

	if _, err := s.file.Write(frame); err != nil {
		return 0, err
	}
	s.size += int64(len(frame))
	return int64(len(frame)), nil
}

// Sync fsyncs the segment file.
func (s *Segment) Sync() error {
	return s.file.Sync()
}

// Size returns the current valid size of the segment.
func (s *Segment) Size() int64 {
	return s.size
}

// SegmentNo returns this segment's sequence number.
func (s *Segment) SegmentNo() uint64 {
	return s.header.SegmentNo
}

// Close closes the underlying file.
func (s *Segment) Close() error {
	return s.file.Close()
}

// Path returns the segment's file path.
func (s *Segment) Path() string {
	return s.path
}
