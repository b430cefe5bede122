// pkg/tombstone/tombstone.go
//
// TombstoneIndex tracks deletions for durability and retention: a
// separate record per delete, keyed by branch+primitive+key, kept
// until cleanup_before reclaims it. Shaped like the version chain's own
// append-only-history-plus-map-index, rather than reusing the storage
// substrate's tombstone flag directly, since a TombstoneIndex entry
// must outlive the version chain's own GC (compaction can drop a
// chain's tombstone head while the index entry is still within its
// retention window).
package tombstone

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reason classifies why a key was deleted.
type Reason int

const (
	UserDelete Reason = iota
	RetentionPolicy
	Compaction
)

func (r Reason) String() string {
	switch r {
	case UserDelete:
		return "user_delete"
	case RetentionPolicy:
		return "retention_policy"
	case Compaction:
		return "compaction"
	default:
		return "unknown"
	}
}

// Entry is one recorded deletion.
type Entry struct {
	BranchID      uuid.UUID
	PrimitiveType byte
	Key           []byte
	Version       uint64
	CreatedAt     time.Time
	Reason        Reason
}

// Index is an append-only, map-indexed set of tombstone entries.
type Index struct {
	mu      sync.RWMutex
	entries []Entry
	byKey   map[string][]int // encoded key -> indices into entries, oldest first
}

// New creates an empty tombstone index.
func New() *Index {
	return &Index{byKey: make(map[string][]int)}
}

func entryKey(branch uuid.UUID, primitiveType byte, key []byte) string {
	buf := make([]byte, 0, 16+1+len(key))
	buf = append(buf, branch[:]...)
	buf = append(buf, primitiveType)
	buf = append(buf, key...)
	return string(buf)
}

// Record appends a tombstone entry.
func (idx *Index) Record(e Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	i := len(idx.entries)
	idx.entries = append(idx.entries, e)
	k := entryKey(e.BranchID, e.PrimitiveType, e.Key)
	idx.byKey[k] = append(idx.byKey[k], i)
}

// For returns every recorded tombstone for (branch, primitiveType, key),
// oldest first.
func (idx *Index) For(branch uuid.UUID, primitiveType byte, key []byte) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	idxs := idx.byKey[entryKey(branch, primitiveType, key)]
	out := make([]Entry, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, idx.entries[i])
	}
	return out
}

// All returns every tombstone entry, for snapshot serialization.
func (idx *Index) All() []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Entry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// Len returns the number of tombstone entries currently retained.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// CleanupBefore removes every tombstone entry older than cutoff,
// returning the number reclaimed.
func (idx *Index) CleanupBefore(cutoff time.Time) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	kept := idx.entries[:0]
	removed := 0
	for _, e := range idx.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	idx.entries = kept
	idx.rebuildIndexLocked()
	return removed
}

func (idx *Index) rebuildIndexLocked() {
	idx.byKey = make(map[string][]int, len(idx.byKey))
	for i, e := range idx.entries {
		k := entryKey(e.BranchID, e.PrimitiveType, e.Key)
		idx.byKey[k] = append(idx.byKey[k], i)
	}
}

// LoadAll replaces the index contents wholesale, used when restoring
// from a snapshot section during recovery.
func (idx *Index) LoadAll(entries []Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = append([]Entry(nil), entries...)
	idx.rebuildIndexLocked()
}
