// pkg/statecell/statecell.go
//
// StateCell is a named, versioned value with compare-and-swap
// semantics: init is idempotent, cas fails closed on
// a version mismatch, set overwrites unconditionally while still
// incrementing the per-cell counter. The counter is independent of the
// commit version storage assigns — it is the cell's own
// VersionCounter, carried inside the stored value — full history is
// exposed separately via the storage chain (TransactionContext.History).
// The same conflict-checked-Put shape used for whole-tree conflict
// detection elsewhere, generalized down to a single named cell's
// counter.
package statecell

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"stratacore/pkg/dberrors"
	"stratacore/pkg/storage"
	"stratacore/pkg/txn"
)

// Cell is the decoded form of a state cell's stored value.
type Cell struct {
	Value     []byte
	Version   uint64
	UpdatedAt time.Time
}

func cellKey(ns storage.Namespace, name string) storage.Key {
	return storage.NewKey(ns, storage.TypeState, []byte(name))
}

func readCell(tc *txn.TransactionContext, ns storage.Namespace, name string) (Cell, bool, error) {
	raw, ok, err := tc.Get(cellKey(ns, name))
	if err != nil || !ok {
		return Cell{}, false, err
	}
	var c Cell
	if err := msgpack.Unmarshal(raw, &c); err != nil {
		return Cell{}, false, err
	}
	return c, true, nil
}

func writeCell(tc *txn.TransactionContext, ns storage.Namespace, name string, c Cell) error {
	raw, err := msgpack.Marshal(&c)
	if err != nil {
		return err
	}
	return tc.Put(cellKey(ns, name), raw, nil)
}

// Init creates the cell with counter_version=1 if it doesn't exist yet.
// Idempotent: calling it again on an existing cell is a no-op that
// returns the cell's current version, not an error.
func Init(tc *txn.TransactionContext, ns storage.Namespace, name string, value []byte) (uint64, error) {
	existing, ok, err := readCell(tc, ns, name)
	if err != nil {
		return 0, err
	}
	if ok {
		return existing.Version, nil
	}
	c := Cell{Value: append([]byte(nil), value...), Version: 1, UpdatedAt: time.Now()}
	if err := writeCell(tc, ns, name, c); err != nil {
		return 0, err
	}
	return 1, nil
}

// Get returns the cell's current value, version, and update time.
func Get(tc *txn.TransactionContext, ns storage.Namespace, name string) (Cell, bool, error) {
	return readCell(tc, ns, name)
}

// CAS overwrites the cell's value only if its current version equals
// expectedVersion, incrementing the counter on success.
func CAS(tc *txn.TransactionContext, ns storage.Namespace, name string, expectedVersion uint64, newValue []byte) (uint64, error) {
	existing, ok, err := readCell(tc, ns, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, dberrors.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return 0, fmt.Errorf("cas %q: expected version %d, found %d: %w", name, expectedVersion, existing.Version, dberrors.ErrWriteConflict)
	}
	c := Cell{Value: append([]byte(nil), newValue...), Version: existing.Version + 1, UpdatedAt: time.Now()}
	if err := writeCell(tc, ns, name, c); err != nil {
		return 0, err
	}
	return c.Version, nil
}

// Set overwrites the cell's value unconditionally, incrementing the
// counter regardless of its prior value (creating the cell at
// version 1 if it didn't exist).
func Set(tc *txn.TransactionContext, ns storage.Namespace, name string, newValue []byte) (uint64, error) {
	existing, _, err := readCell(tc, ns, name)
	if err != nil {
		return 0, err
	}
	c := Cell{Value: append([]byte(nil), newValue...), Version: existing.Version + 1, UpdatedAt: time.Now()}
	if err := writeCell(tc, ns, name, c); err != nil {
		return 0, err
	}
	return c.Version, nil
}

// History returns up to limit prior committed storage versions of the
// cell, newest first (each one a distinct msgpack-encoded Cell, so the
// per-cell counter's own history can be recovered by decoding them).
func History(tc *txn.TransactionContext, ns storage.Namespace, name string, limit int) ([]Cell, error) {
	versions := tc.History(cellKey(ns, name), limit)
	out := make([]Cell, 0, len(versions))
	for _, v := range versions {
		if v.Tombstone {
			continue
		}
		var c Cell
		if err := msgpack.Unmarshal(v.Value, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
