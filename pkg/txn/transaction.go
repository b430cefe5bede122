// pkg/txn/transaction.go
//
// TransactionContext implements an optimistic concurrency control
// commit protocol: a read_set of observed versions, an ordered
// write_set, and read-your-writes semantics (a read first checks the
// local write_set, then the snapshot). The state machine
// (Active/Validating/Committed/Aborted) is optimistic: transactions
// never block on each other's locks, they only validate the read_set
// at commit time.
package txn

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"

	"stratacore/pkg/dberrors"
	"stratacore/pkg/storage"
)

// State is a transaction's position in its lifecycle state machine.
type State int

const (
	StateActive State = iota
	StateValidating
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateValidating:
		return "validating"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type writeOp struct {
	key      storage.Key
	value    []byte
	isDelete bool
	expiry   *time.Time
}

// TransactionContext is one in-flight (or concluded) transaction.
type TransactionContext struct {
	mgr      *Manager
	txnID    uint64
	branchID uuid.UUID
	snapshot *storage.SnapshotView
	startTS  time.Time

	readSet  map[string]readEntry
	writeSet []writeOp
	state    State
}

type readEntry struct {
	version uint64
	existed bool
}

// TxnID returns this transaction's identifier.
func (tc *TransactionContext) TxnID() uint64 { return tc.txnID }

// BranchID returns the branch this transaction is scoped to.
func (tc *TransactionContext) BranchID() uuid.UUID { return tc.branchID }

// State returns the transaction's current lifecycle state.
func (tc *TransactionContext) State() State { return tc.state }

// Get implements read-your-writes: the local write_set is consulted
// first (newest write wins), falling back to the transaction's
// snapshot. A successful read of a key not in the write_set also
// records it in the read_set for commit-time validation.
func (tc *TransactionContext) Get(key storage.Key) ([]byte, bool, error) {
	if tc.state != StateActive {
		return nil, false, dberrors.ErrTransactionAborted
	}

	enc := string(key.Encode())
	for i := len(tc.writeSet) - 1; i >= 0; i-- {
		w := tc.writeSet[i]
		if string(w.key.Encode()) == enc {
			if w.isDelete || (w.expiry != nil && time.Now().After(*w.expiry)) {
				return nil, false, nil
			}
			return w.value, true, nil
		}
	}

	v, ok := tc.snapshot.GetVersioned(key)
	tc.observe(key, v, ok)
	if !ok || v.Expired(time.Now()) {
		return nil, false, nil
	}
	return v.Value, true, nil
}

func (tc *TransactionContext) observe(key storage.Key, v storage.VersionedValue, ok bool) {
	enc := string(key.Encode())
	if _, already := tc.readSet[enc]; already {
		return
	}
	if ok {
		tc.readSet[enc] = readEntry{version: v.Version, existed: true}
	} else {
		tc.readSet[enc] = readEntry{version: 0, existed: false}
	}
}

// Put stages a write in the transaction's write_set. Nothing is
// visible outside this transaction until Commit succeeds.
func (tc *TransactionContext) Put(key storage.Key, value []byte, expiry *time.Time) error {
	if tc.state != StateActive {
		return dberrors.ErrTransactionAborted
	}
	tc.writeSet = append(tc.writeSet, writeOp{key: key, value: append([]byte(nil), value...), expiry: expiry})
	return nil
}

// Delete stages a tombstone write.
func (tc *TransactionContext) Delete(key storage.Key) error {
	if tc.state != StateActive {
		return dberrors.ErrTransactionAborted
	}
	tc.writeSet = append(tc.writeSet, writeOp{key: key, isDelete: true})
	return nil
}

// ScanEntry is one key/value pair returned by ScanPrefix.
type ScanEntry struct {
	Key   storage.Key
	Value []byte
}

// ScanPrefix returns every live key whose encoded bytes start with
// prefix, merging this transaction's own uncommitted write_set over
// its starting snapshot (read-your-writes extended to range reads),
// ordered by encoded key. Used by primitive list/scan operations
// (KV.List, JSON document listing) that run inside a transaction.
func (tc *TransactionContext) ScanPrefix(prefix []byte) ([]ScanEntry, error) {
	if tc.state != StateActive {
		return nil, dberrors.ErrTransactionAborted
	}

	values := make(map[string][]byte)
	alive := make(map[string]bool)

	now := time.Now()
	err := tc.snapshot.ScanPrefix(prefix, func(key storage.Key, v storage.VersionedValue) bool {
		if v.Expired(now) {
			return true
		}
		enc := string(key.Encode())
		values[enc] = v.Value
		alive[enc] = true
		return true
	})
	if err != nil {
		return nil, err
	}

	for _, w := range tc.writeSet {
		encBytes := w.key.Encode()
		if !bytes.HasPrefix(encBytes, prefix) {
			continue
		}
		enc := string(encBytes)
		if w.isDelete || (w.expiry != nil && now.After(*w.expiry)) {
			alive[enc] = false
			continue
		}
		values[enc] = w.value
		alive[enc] = true
	}

	encKeys := make([]string, 0, len(alive))
	for enc, ok := range alive {
		if ok {
			encKeys = append(encKeys, enc)
		}
	}
	sort.Strings(encKeys)

	out := make([]ScanEntry, 0, len(encKeys))
	for _, enc := range encKeys {
		key, err := storage.DecodeKey([]byte(enc))
		if err != nil {
			return nil, err
		}
		out = append(out, ScanEntry{Key: key, Value: values[enc]})
	}
	return out, nil
}

// History returns key's prior committed versions, newest first, for
// primitives that expose full version history (e.g. State cells).
func (tc *TransactionContext) History(key storage.Key, limit int) []storage.VersionedValue {
	return tc.mgr.History(key, limit)
}

// Rollback aborts the transaction explicitly, discarding its write_set.
func (tc *TransactionContext) Rollback() {
	if tc.state == StateActive {
		tc.state = StateAborted
	}
}

// ReadSetSize and WriteSetSize are exposed for tests and diagnostics.
func (tc *TransactionContext) ReadSetSize() int  { return len(tc.readSet) }
func (tc *TransactionContext) WriteSetSize() int { return len(tc.writeSet) }
