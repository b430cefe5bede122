// pkg/txn/manager.go
//
// Manager owns the global commit-version counter, the commit latch
// (serializes validation, version allocation, and the transaction's
// WAL group as one critical section, so two transactions' Begin/Write/
// Commit records can never interleave on disk — only storage apply
// runs outside the latch), and the WAL/storage wiring every
// transaction commits through.
package txn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stratacore/internal/log"
	"stratacore/pkg/dberrors"
	"stratacore/pkg/storage"
	"stratacore/pkg/wal"
)

// Manager coordinates transaction lifecycle across one database.
type Manager struct {
	store *storage.Store
	log   *wal.WAL

	nextTxnID     uint64 // atomic
	globalVersion uint64 // atomic; seeded from store.CurrentVersion()

	commitMu sync.Mutex

	applyFailures int64 // atomic; incremented when a post-commit apply panics
	logger        zerolog.Logger
}

// NewManager creates a transaction manager over store and log. The
// global version counter starts at the store's current high-water
// commit version, so it never reissues a version already applied
// (e.g. after recovery replay).
func NewManager(store *storage.Store, l *wal.WAL) *Manager {
	return &Manager{
		store:         store,
		log:           l,
		globalVersion: store.CurrentVersion(),
		logger:        log.WithComponent("txn"),
	}
}

// ApplyFailures returns the number of times storage apply failed after
// a transaction's commit was already durable in the WAL.
func (m *Manager) ApplyFailures() int64 {
	return atomic.LoadInt64(&m.applyFailures)
}

// History returns up to limit prior committed versions of key, newest
// first, reading the live storage chain directly rather than through
// any one snapshot — full version history is not an MVCC-isolated
// read, it is the chain itself.
func (m *Manager) History(key storage.Key, limit int) []storage.VersionedValue {
	return m.store.GetHistory(key, limit)
}

// SeedNextTxnID sets the next transaction id to be issued. Recovery
// calls this once, after WAL replay, with max(seen txn_id)+1 so a
// freshly recovered database never reissues a transaction id that
// already appears in the WAL.
func (m *Manager) SeedNextTxnID(next uint64) {
	atomic.StoreUint64(&m.nextTxnID, next-1)
}

// AllocateVersion atomically allocates and returns the next global
// commit version without running the OCC validation step. Vector
// writes assign versions through this path rather than through a
// TransactionContext, since they do not participate in the read_set of
// any generic transaction.
func (m *Manager) AllocateVersion() uint64 {
	return atomic.AddUint64(&m.globalVersion, 1)
}

// AppendWAL writes rec directly to the WAL, outside of the commit
// protocol's Begin/Write*/Commit framing — used by write paths (vector
// upserts) that still need durable, ordered WAL records but never join
// an OCC read_set.
func (m *Manager) AppendWAL(rec wal.Record, isCommit bool) error {
	return m.log.Append(rec, isCommit)
}

// Store exposes the underlying storage substrate directly, for write
// paths that apply effects outside the OCC commit protocol.
func (m *Manager) Store() *storage.Store {
	return m.store
}

// Begin starts a new transaction scoped to branch, with a snapshot
// pinned to the store's current commit version.
func (m *Manager) Begin(branch uuid.UUID) *TransactionContext {
	txnID := atomic.AddUint64(&m.nextTxnID, 1)
	return &TransactionContext{
		mgr:      m,
		txnID:    txnID,
		branchID: branch,
		snapshot: m.store.CreateSnapshot(),
		startTS:  time.Now(),
		readSet:  make(map[string]readEntry),
		state:    StateActive,
	}
}

// Commit validates the transaction's read set, allocates a commit
// version, durably logs the write set, then applies it to storage. On
// a read-write conflict it returns a *dberrors.ConflictError and the
// transaction ends Aborted. Validation, version allocation, and the
// WAL group are one critical section under commitMu: releasing the
// latch between allocation and the WAL write would let a second,
// disjoint-key transaction on the same branch allocate its own
// version and interleave its own Begin/Write/Commit records into the
// middle of this one's group. Since Write/Delete records carry only a
// BranchID, not a TxnID, replay (pkg/recovery) keys pending
// transactions by branch — an interleaved group would see one
// transaction's writes folded into the other's, and flushed or
// discarded under the wrong Commit/Abort.
func (m *Manager) Commit(tc *TransactionContext) (uint64, error) {
	if tc.state != StateActive {
		return 0, dberrors.ErrTransactionAborted
	}
	tc.state = StateValidating

	commitVersion, err := m.validateAllocateAndWriteWAL(tc)
	if err != nil {
		tc.state = StateAborted
		return 0, err
	}

	tc.state = StateCommitted
	m.applyWrites(tc, commitVersion)
	return commitVersion, nil
}

// validateAllocateAndWriteWAL holds the commit latch across read_set
// validation, version allocation, and the transaction's entire WAL
// group, so no other transaction's commit can interleave its own WAL
// records in between.
func (m *Manager) validateAllocateAndWriteWAL(tc *TransactionContext) (uint64, error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	for encKey, observed := range tc.readSet {
		key, err := storage.DecodeKey([]byte(encKey))
		if err != nil {
			return 0, err
		}
		current, exists := m.store.LatestVersion(key)
		if exists != observed.existed || current != observed.version {
			return 0, dberrors.NewConflict(string(encKey), "read-write conflict: key changed since it was read")
		}
	}

	commitVersion := atomic.AddUint64(&m.globalVersion, 1)

	if err := m.writeWAL(tc, commitVersion); err != nil {
		m.logger.Error().Err(err).Uint64("txn_id", tc.txnID).Msg("wal append failed, transaction aborted")
		return 0, err
	}

	return commitVersion, nil
}

// writeWAL appends BeginTxn, one record per write_set entry, and
// CommitTxn, applying the durability policy on the final record.
// Empty transactions still write Begin/Commit for auditability. Caller
// holds commitMu.
func (m *Manager) writeWAL(tc *TransactionContext, commitVersion uint64) error {
	if err := m.log.Append(wal.BeginTxnRecord(tc.txnID, tc.branchID, tc.startTS), false); err != nil {
		return err
	}

	for _, w := range tc.writeSet {
		var rec wal.Record
		if w.isDelete {
			rec = wal.DeleteRecord(tc.branchID, w.key.Encode(), commitVersion)
		} else {
			rec = wal.WriteRecord(tc.branchID, w.key.Encode(), w.value, commitVersion)
		}
		if err := m.log.Append(rec, false); err != nil {
			return err
		}
	}

	return m.log.Append(wal.CommitTxnRecord(tc.txnID, tc.branchID), true)
}

// applyWrites installs the transaction's write_set into storage. A
// failure here is logged and counted, not propagated: the WAL record
// is already durable, so recovery will replay this transaction even if
// the in-memory apply below fails.
func (m *Manager) applyWrites(tc *TransactionContext, commitVersion uint64) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&m.applyFailures, 1)
			m.logger.Error().Interface("panic", r).Uint64("txn_id", tc.txnID).
				Msg("storage apply panicked after durable commit")
		}
	}()

	for _, w := range tc.writeSet {
		if w.isDelete {
			m.store.Delete(w.key, commitVersion)
		} else {
			m.store.Put(w.key, w.value, commitVersion, w.expiry)
		}
	}
}
