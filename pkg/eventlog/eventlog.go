// pkg/eventlog/eventlog.go
//
// EventLog is an immutable, hash-chained, append-only event stream per
// branch. Append order is single-writer per branch: every append reads
// and rewrites the same meta key, so two concurrent appends in the
// same branch always collide in the OCC read_set and one must retry —
// the engine's OCC commit protocol does the serialization job a
// CAS-on-metadata design would otherwise need to do explicitly, with
// no separate primitive required. Fields and hashing follow
// sequence-keyed events, a padded-digest causal hash, prev_hash
// continuity, and chain verification by walking 0..next_sequence.
package eventlog

import (
	"encoding/binary"
	"hash/fnv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"stratacore/pkg/storage"
	"stratacore/pkg/txn"
)

const metaUserKey = "__meta__"

// meta is the per-branch append cursor: next sequence to assign and
// the hash of the most recently appended event (genesis: all zero).
type meta struct {
	NextSequence uint64
	HeadHash     [32]byte
}

// Event is one immutable entry in the log.
type Event struct {
	Sequence  uint64
	Type      string
	Payload   []byte
	Timestamp time.Time
	PrevHash  [32]byte
	Hash      [32]byte
}

// ChainVerification reports the result of walking a branch's event
// chain end to end.
type ChainVerification struct {
	IsValid      bool
	Length       uint64
	FirstInvalid *uint64
	Error        string
}

func metaKey(ns storage.Namespace) storage.Key {
	return storage.NewKey(ns, storage.TypeEvent, []byte(metaUserKey))
}

func eventKey(ns storage.Namespace, sequence uint64) storage.Key {
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], sequence)
	return storage.NewKey(ns, storage.TypeEvent, seqBuf[:])
}

func readMeta(tc *txn.TransactionContext, ns storage.Namespace) (meta, error) {
	raw, ok, err := tc.Get(metaKey(ns))
	if err != nil {
		return meta{}, err
	}
	if !ok {
		return meta{}, nil
	}
	var m meta
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return meta{}, err
	}
	return m, nil
}

// computeHash is tamper-evidence, not cryptographic security: FNV-1a
// over the canonical field encoding, with the 8-byte digest placed in
// the low bytes of a 32-byte array (padded with zero), leaving room for
// a future stronger digest without changing the on-disk shape.
func computeHash(sequence uint64, eventType string, payload []byte, ts time.Time, prevHash [32]byte) [32]byte {
	h := fnv.New64a()
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], sequence)
	h.Write(seqBuf[:])
	h.Write([]byte(eventType))
	h.Write(payload)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(ts.UnixNano()))
	h.Write(tsBuf[:])
	h.Write(prevHash[:])

	var out [32]byte
	binary.BigEndian.PutUint64(out[0:8], h.Sum64())
	return out
}

// Append assigns the next sequence number in ns's log, links it to the
// current head hash, and stages both the event record and the updated
// meta cursor in tc's write_set. Callers append through
// txn.TransactionWithRetry so a read-write conflict on the meta key
// (another append racing in the same branch) is retried automatically.
func Append(tc *txn.TransactionContext, ns storage.Namespace, eventType string, payload []byte) (uint64, error) {
	m, err := readMeta(tc, ns)
	if err != nil {
		return 0, err
	}

	sequence := m.NextSequence
	ts := time.Now()
	hash := computeHash(sequence, eventType, payload, ts, m.HeadHash)

	ev := Event{
		Sequence:  sequence,
		Type:      eventType,
		Payload:   append([]byte(nil), payload...),
		Timestamp: ts,
		PrevHash:  m.HeadHash,
		Hash:      hash,
	}
	evBytes, err := msgpack.Marshal(&ev)
	if err != nil {
		return 0, err
	}
	if err := tc.Put(eventKey(ns, sequence), evBytes, nil); err != nil {
		return 0, err
	}

	newMeta := meta{NextSequence: sequence + 1, HeadHash: hash}
	metaBytes, err := msgpack.Marshal(&newMeta)
	if err != nil {
		return 0, err
	}
	if err := tc.Put(metaKey(ns), metaBytes, nil); err != nil {
		return 0, err
	}

	return sequence, nil
}

// Read returns the event at sequence, or false if it doesn't exist.
func Read(tc *txn.TransactionContext, ns storage.Namespace, sequence uint64) (Event, bool, error) {
	raw, ok, err := tc.Get(eventKey(ns, sequence))
	if err != nil || !ok {
		return Event{}, false, err
	}
	var ev Event
	if err := msgpack.Unmarshal(raw, &ev); err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

// ReadRange returns events [start, end), skipping any sequence that
// (unexpectedly) has no stored record.
func ReadRange(tc *txn.TransactionContext, ns storage.Namespace, start, end uint64) ([]Event, error) {
	var out []Event
	for seq := start; seq < end; seq++ {
		ev, ok, err := Read(tc, ns, seq)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Head returns the most recently appended event, or false if the log
// is empty.
func Head(tc *txn.TransactionContext, ns storage.Namespace) (Event, bool, error) {
	m, err := readMeta(tc, ns)
	if err != nil {
		return Event{}, false, err
	}
	if m.NextSequence == 0 {
		return Event{}, false, nil
	}
	return Read(tc, ns, m.NextSequence-1)
}

// Len returns the number of events appended to ns's log.
func Len(tc *txn.TransactionContext, ns storage.Namespace) (uint64, error) {
	m, err := readMeta(tc, ns)
	if err != nil {
		return 0, err
	}
	return m.NextSequence, nil
}

// VerifyChain walks every event from 0 to the log's length, checking
// prev_hash continuity and recomputing each event's hash.
func VerifyChain(tc *txn.TransactionContext, ns storage.Namespace) (ChainVerification, error) {
	m, err := readMeta(tc, ns)
	if err != nil {
		return ChainVerification{}, err
	}

	prevHash := [32]byte{}
	for seq := uint64(0); seq < m.NextSequence; seq++ {
		ev, ok, err := Read(tc, ns, seq)
		if err != nil {
			return ChainVerification{}, err
		}
		if !ok {
			bad := seq
			return ChainVerification{IsValid: false, Length: m.NextSequence, FirstInvalid: &bad, Error: "missing event"}, nil
		}
		if ev.PrevHash != prevHash {
			bad := seq
			return ChainVerification{IsValid: false, Length: m.NextSequence, FirstInvalid: &bad, Error: "prev_hash mismatch"}, nil
		}
		computed := computeHash(ev.Sequence, ev.Type, ev.Payload, ev.Timestamp, ev.PrevHash)
		if computed != ev.Hash {
			bad := seq
			return ChainVerification{IsValid: false, Length: m.NextSequence, FirstInvalid: &bad, Error: "hash mismatch"}, nil
		}
		prevHash = ev.Hash
	}
	return ChainVerification{IsValid: true, Length: m.NextSequence}, nil
}

// ReadByType returns every event whose Type matches eventType.
func ReadByType(tc *txn.TransactionContext, ns storage.Namespace, eventType string) ([]Event, error) {
	m, err := readMeta(tc, ns)
	if err != nil {
		return nil, err
	}
	var out []Event
	for seq := uint64(0); seq < m.NextSequence; seq++ {
		ev, ok, err := Read(tc, ns, seq)
		if err != nil {
			return nil, err
		}
		if ok && ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out, nil
}

// TypeCounts tallies events by type, used by external dashboards;
// generalized from a distinct-types list to a count per type.
func TypeCounts(tc *txn.TransactionContext, ns storage.Namespace) (map[string]int, error) {
	m, err := readMeta(tc, ns)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for seq := uint64(0); seq < m.NextSequence; seq++ {
		ev, ok, err := Read(tc, ns, seq)
		if err != nil {
			return nil, err
		}
		if ok {
			counts[ev.Type]++
		}
	}
	return counts, nil
}
