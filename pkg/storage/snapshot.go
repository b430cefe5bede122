// pkg/storage/snapshot.go
package storage

import "github.com/google/uuid"

// SnapshotView is a lazy, version-bounded read view over a Store: every
// read sees the newest entry with commit version <= asOf, so writes
// committed after the view was created never become visible through it.
// Unlike the ordered index's own epoch-guarded Snapshot (which pins a
// tree root to free old nodes safely), SnapshotView pins a commit
// version and reads straight through the live chains — no separate root
// to release.
type SnapshotView struct {
	store *Store
	asOf  uint64
}

// AsOf returns the commit version this view is pinned to.
func (v *SnapshotView) AsOf() uint64 {
	return v.asOf
}

// Get returns the value visible for key as of this snapshot's version.
func (v *SnapshotView) Get(key Key) ([]byte, bool) {
	vv, ok := v.store.GetAtVersion(key, v.asOf)
	if !ok {
		return nil, false
	}
	return vv.Value, true
}

// GetVersioned returns the full VersionedValue visible for key.
func (v *SnapshotView) GetVersioned(key Key) (VersionedValue, bool) {
	return v.store.GetAtVersion(key, v.asOf)
}

// ScanPrefix calls fn for every key with the given prefix whose
// snapshot-visible value is live, in lexicographic order.
func (v *SnapshotView) ScanPrefix(prefix []byte, fn func(key Key, value VersionedValue) bool) error {
	end := prefixUpperBound(prefix)
	return v.store.index.Range(prefix, end, func(encKey, _ []byte) bool {
		if len(encKey) < len(prefix) || string(encKey[:len(prefix)]) != string(prefix) {
			return true
		}
		v.store.mu.RLock()
		c := v.store.chains[string(encKey)]
		v.store.mu.RUnlock()
		if c == nil {
			return true
		}
		vv, ok := c.AtVersion(v.asOf)
		if !ok {
			return true
		}
		k, err := DecodeKey(encKey)
		if err != nil {
			return true
		}
		return fn(k, vv)
	})
}

// ScanByBranch calls fn for every snapshot-visible key in branch.
func (v *SnapshotView) ScanByBranch(branch uuid.UUID, fn func(key Key, value VersionedValue) bool) error {
	return v.ScanPrefix(BranchPrefix(branch), fn)
}
