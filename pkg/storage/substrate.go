// pkg/storage/substrate.go
//
// Store is the L0 storage substrate: a map from encoded Key bytes to a
// VersionChain, plus an ordered index over the same key bytes for
// prefix scans. Every higher layer (transactions, primitives, recovery)
// reads and writes through Store; Store itself knows nothing about
// transaction ids, WAL records, or primitive semantics — it only keeps
// chains ordered by the monotonic commit version the caller supplies.
package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds every key's version chain in memory and an ordered index
// for range scans. A single commitVersion counter is shared by every
// key; callers (the L2 transaction manager) assign it, Store never
// invents one itself.
type Store struct {
	mu     sync.RWMutex
	chains map[string]*VersionChain
	index  *orderedIndex

	commitVersion uint64 // guarded by mu; current high-water commit version
}

// NewStore creates an empty storage substrate.
func NewStore() *Store {
	return &Store{
		chains: make(map[string]*VersionChain),
		index:  newOrderedIndex(),
	}
}

// CurrentVersion returns the highest commit version applied so far.
func (s *Store) CurrentVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commitVersion
}

// advanceVersion records version as the new high-water mark if it's
// greater than the current one. Recovery replay can apply writes out of
// strict order across different keys within the same commit, so this
// is a max, not a strict increment.
func (s *Store) advanceVersion(version uint64) {
	if version > s.commitVersion {
		s.commitVersion = version
	}
}

// AdvanceVersion records version as the new high-water mark if it's
// greater than the current one, without writing any key. Recovery uses
// this to seed the version floor from a snapshot watermark when
// nothing replayed afterward already advances it that high.
func (s *Store) AdvanceVersion(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceVersion(version)
}

func (s *Store) chainFor(key []byte, create bool) *VersionChain {
	k := string(key)
	c, ok := s.chains[k]
	if !ok {
		if !create {
			return nil
		}
		c = newVersionChain(key)
		s.chains[k] = c
	}
	return c
}

// Get returns the latest non-tombstone, non-expired value for key.
func (s *Store) Get(key Key) ([]byte, bool) {
	v, ok := s.GetVersioned(key)
	if !ok {
		return nil, false
	}
	return v.Value, true
}

// GetVersioned returns the latest VersionedValue for key, including its
// commit version and timestamp, or false if absent/tombstoned/expired.
func (s *Store) GetVersioned(key Key) (VersionedValue, bool) {
	enc := key.Encode()
	s.mu.RLock()
	c := s.chainFor(enc, false)
	s.mu.RUnlock()
	if c == nil {
		return VersionedValue{}, false
	}
	return c.Latest(time.Now())
}

// GetAtVersion returns the value visible as of a snapshot version,
// i.e. the newest entry with Version <= asOf.
func (s *Store) GetAtVersion(key Key, asOf uint64) (VersionedValue, bool) {
	enc := key.Encode()
	s.mu.RLock()
	c := s.chainFor(enc, false)
	s.mu.RUnlock()
	if c == nil {
		return VersionedValue{}, false
	}
	return c.AtVersion(asOf)
}

// GetHistory returns up to limit prior versions of key, newest first.
// limit <= 0 means unbounded.
func (s *Store) GetHistory(key Key, limit int) []VersionedValue {
	enc := key.Encode()
	s.mu.RLock()
	c := s.chainFor(enc, false)
	s.mu.RUnlock()
	if c == nil {
		return nil
	}
	return c.History(limit, nil)
}

// LatestVersion returns the commit version of key's head entry
// (tombstone or not), used by the transaction manager to build a
// read-set for OCC validation.
func (s *Store) LatestVersion(key Key) (uint64, bool) {
	enc := key.Encode()
	s.mu.RLock()
	c := s.chainFor(enc, false)
	s.mu.RUnlock()
	if c == nil {
		return 0, false
	}
	return c.LatestVersion()
}

// Put writes value under key at the given commit version. The caller
// (the transaction manager, or recovery replay) is responsible for
// version monotonicity and for serializing concurrent writers to the
// same key; Put itself only appends to the chain and the index.
func (s *Store) Put(key Key, value []byte, version uint64, expiry *time.Time) {
	s.PutVersioned(key, VersionedValue{
		Value:     append([]byte(nil), value...),
		Version:   version,
		Timestamp: time.Now(),
		Expiry:    expiry,
	})
}

// PutVersioned writes a fully-formed VersionedValue, used by recovery
// replay to preserve the original write's timestamp.
func (s *Store) PutVersioned(key Key, v VersionedValue) {
	enc := key.Encode()
	s.mu.Lock()
	c := s.chainFor(enc, true)
	s.advanceVersion(v.Version)
	s.mu.Unlock()

	c.Prepend(v)
	_ = s.index.Insert(enc, []byte{}) // presence marker; values live in chains
}

// Delete writes a tombstone for key at the given commit version.
func (s *Store) Delete(key Key, version uint64) {
	s.PutVersioned(key, VersionedValue{
		Version:   version,
		Timestamp: time.Now(),
		Tombstone: true,
	})
}

// ScanPrefix calls fn for every live key whose encoded bytes start with
// prefix, in lexicographic order, until fn returns false.
func (s *Store) ScanPrefix(prefix []byte, fn func(key Key, value VersionedValue) bool) error {
	now := time.Now()
	end := prefixUpperBound(prefix)
	return s.index.Range(prefix, end, func(encKey, _ []byte) bool {
		if len(encKey) < len(prefix) || string(encKey[:len(prefix)]) != string(prefix) {
			return true
		}
		s.mu.RLock()
		c := s.chains[string(encKey)]
		s.mu.RUnlock()
		if c == nil {
			return true
		}
		v, ok := c.Latest(now)
		if !ok {
			return true
		}
		k, err := DecodeKey(encKey)
		if err != nil {
			return true
		}
		return fn(k, v)
	})
}

// ForEach calls fn for every live key across every branch/namespace, in
// encoded-key order. Used by checkpoint building, which needs the
// whole store rather than one branch's slice of it.
func (s *Store) ForEach(fn func(key Key, value VersionedValue) bool) error {
	now := time.Now()
	return s.index.ForEach(func(encKey, _ []byte) bool {
		s.mu.RLock()
		c := s.chains[string(encKey)]
		s.mu.RUnlock()
		if c == nil {
			return true
		}
		v, ok := c.Latest(now)
		if !ok {
			return true
		}
		k, err := DecodeKey(encKey)
		if err != nil {
			return true
		}
		return fn(k, v)
	})
}

// ScanByBranch calls fn for every live key in the given branch,
// regardless of tenant/app/agent/type, in encoded-key order.
func (s *Store) ScanByBranch(branch uuid.UUID, fn func(key Key, value VersionedValue) bool) error {
	return s.ScanPrefix(BranchPrefix(branch), fn)
}

// prefixUpperBound returns the smallest byte string greater than every
// string with the given prefix, or nil if prefix is all 0xFF bytes (an
// unbounded upper end — acceptable since encoded keys always include a
// non-0xFF type tag byte in practice).
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// CreateSnapshot returns a SnapshotView pinned to the current commit
// version. Reads against the view never observe writes committed after
// this call.
func (s *Store) CreateSnapshot() *SnapshotView {
	return &SnapshotView{store: s, asOf: s.CurrentVersion()}
}

// Compact drops chain entries older than gcBefore for every key,
// except each chain's single newest entry, and removes chains whose
// sole remaining entry is a tombstone. Returns the number of entries
// reclaimed across all keys.
func (s *Store) Compact(gcBefore uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	for k, c := range s.chains {
		reclaimed += c.Prune(gcBefore)
		if head, ok := c.HeadEntry(); ok && c.Length() == 1 && head.Tombstone && head.Version < gcBefore {
			delete(s.chains, k)
			_ = s.index.Delete([]byte(k))
		}
	}
	return reclaimed
}
