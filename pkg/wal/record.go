// pkg/wal/record.go
//
// Record is the WAL's tagged-union payload: a variable-length logical
// operation record rather than a fixed-size page frame. Every record
// carries a branch id; fields unused by a given Type are left zero.
package wal

import (
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// RecordType discriminates the WAL payload schema.
type RecordType byte

const (
	RecBeginTxn RecordType = iota + 1
	RecWrite
	RecDelete
	RecCommitTxn
	RecAbortTxn
	RecCheckpoint
	RecVectorUpsert
)

func (t RecordType) String() string {
	switch t {
	case RecBeginTxn:
		return "BeginTxn"
	case RecWrite:
		return "Write"
	case RecDelete:
		return "Delete"
	case RecCommitTxn:
		return "CommitTxn"
	case RecAbortTxn:
		return "AbortTxn"
	case RecCheckpoint:
		return "Checkpoint"
	case RecVectorUpsert:
		return "VectorUpsert"
	default:
		return "Unknown"
	}
}

// Record is the decoded form of one WAL entry. Not every field applies
// to every Type; see the comment on each Type's constructor.
type Record struct {
	Type      RecordType
	TxnID     uint64
	BranchID  uuid.UUID
	Timestamp time.Time

	Key     []byte
	Value   []byte
	Version uint64

	SnapshotID     uint64
	ActiveBranches []uuid.UUID

	// VectorUpsert-only: Key is the same encoded storage key a Write
	// record would carry (so replay can route it to the right
	// namespace and collection the same way it routes a Delete); Value
	// carries the encoded metadata; Vector carries the embedding, which
	// the generic Write record deliberately omits.
	Vector []float32
}

func BeginTxnRecord(txnID uint64, branch uuid.UUID, ts time.Time) Record {
	return Record{Type: RecBeginTxn, TxnID: txnID, BranchID: branch, Timestamp: ts}
}

func WriteRecord(branch uuid.UUID, key, value []byte, version uint64) Record {
	return Record{Type: RecWrite, BranchID: branch, Key: key, Value: value, Version: version}
}

func DeleteRecord(branch uuid.UUID, key []byte, version uint64) Record {
	return Record{Type: RecDelete, BranchID: branch, Key: key, Version: version}
}

func CommitTxnRecord(txnID uint64, branch uuid.UUID) Record {
	return Record{Type: RecCommitTxn, TxnID: txnID, BranchID: branch}
}

func AbortTxnRecord(txnID uint64, branch uuid.UUID) Record {
	return Record{Type: RecAbortTxn, TxnID: txnID, BranchID: branch}
}

func CheckpointRecord(snapshotID, version uint64, activeBranches []uuid.UUID) Record {
	return Record{Type: RecCheckpoint, SnapshotID: snapshotID, Version: version, ActiveBranches: activeBranches}
}

// VectorUpsertRecord builds an upsert record. key is the full encoded
// storage key (storage.Key.Encode()), the same shape a Write record's
// Key carries, so a single branch's WAL can hold more than one vector
// collection and replay can still tell them apart.
func VectorUpsertRecord(branch uuid.UUID, key, metadata []byte, vector []float32, version uint64) Record {
	return Record{
		Type: RecVectorUpsert, BranchID: branch, Key: key,
		Value: metadata, Vector: vector, Version: version,
	}
}

// Encode serializes the record payload. Framing (length prefix + CRC)
// is the segment's responsibility, not the record's.
func (r Record) Encode() ([]byte, error) {
	return msgpack.Marshal(&r)
}

// DecodeRecord parses a record payload written by Encode.
func DecodeRecord(payload []byte) (Record, error) {
	var r Record
	if err := msgpack.Unmarshal(payload, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}
