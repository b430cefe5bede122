// pkg/kv/kv.go
//
// KV is the thinnest primitive: get/put/delete/exists/list over
// type_tag=KV keys, with an optional TTL carried as storage's own
// Expiry field rather than wrapped into the value (storage already
// treats an expired entry as absent at read time). Every operation
// goes through a TransactionContext's write_set instead of touching
// storage directly, so KV writes compose atomically with every other
// primitive in the same transaction.
package kv

import (
	"time"

	"stratacore/pkg/storage"
	"stratacore/pkg/txn"
)

// Get returns the value for key in ns, or false if absent, deleted, or
// expired.
func Get(tc *txn.TransactionContext, ns storage.Namespace, key []byte) ([]byte, bool, error) {
	return tc.Get(storageKey(ns, key))
}

// GetOrDefault returns the value for key, or def if the key is absent.
func GetOrDefault(tc *txn.TransactionContext, ns storage.Namespace, key []byte, def []byte) ([]byte, error) {
	v, ok, err := Get(tc, ns, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Put stages a write of value under key with no expiration.
func Put(tc *txn.TransactionContext, ns storage.Namespace, key, value []byte) error {
	return tc.Put(storageKey(ns, key), value, nil)
}

// PutWithTTL stages a write that storage will treat as absent once
// time.Now() passes expiresAt. Physical purge is a background
// responsibility (compaction), not this call's.
func PutWithTTL(tc *txn.TransactionContext, ns storage.Namespace, key, value []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl)
	return tc.Put(storageKey(ns, key), value, &expiresAt)
}

// Delete stages a tombstone for key. Returns whether the key was
// observed present beforehand (for the caller's "did this do
// anything" convenience); the delete itself is staged regardless.
func Delete(tc *txn.TransactionContext, ns storage.Namespace, key []byte) (bool, error) {
	_, existed, err := Get(tc, ns, key)
	if err != nil {
		return false, err
	}
	if err := tc.Delete(storageKey(ns, key)); err != nil {
		return false, err
	}
	return existed, nil
}

// Exists reports whether key has a live, unexpired value.
func Exists(tc *txn.TransactionContext, ns storage.Namespace, key []byte) (bool, error) {
	_, ok, err := Get(tc, ns, key)
	return ok, err
}

// Entry is one (key, value) pair returned by List/ListWithValues.
type Entry struct {
	Key   []byte
	Value []byte
}

// List returns the user-supplied key suffixes (not the full encoded
// storage key) of every live KV entry in ns whose suffix starts with
// prefix.
func List(tc *txn.TransactionContext, ns storage.Namespace, prefix []byte) ([][]byte, error) {
	entries, err := ListWithValues(tc, ns, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys, nil
}

// ListWithValues returns key suffixes alongside their decoded values,
// avoiding a second round-trip per key for callers that need both.
func ListWithValues(tc *txn.TransactionContext, ns storage.Namespace, prefix []byte) ([]Entry, error) {
	scanPrefix := storage.NamespaceTypePrefix(ns, storage.TypeKV)
	scanPrefix = append(scanPrefix, prefix...)

	results, err := tc.ScanPrefix(scanPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(results))
	for i, r := range results {
		out[i] = Entry{Key: append([]byte(nil), r.Key.UserBytes...), Value: r.Value}
	}
	return out, nil
}

func storageKey(ns storage.Namespace, key []byte) storage.Key {
	return storage.NewKey(ns, storage.TypeKV, key)
}
