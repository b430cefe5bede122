// pkg/jsondoc/jsondoc.go
//
// JSON documents are MessagePack-encoded and stored under
// type_tag=JSON. Each call decodes the whole document, applies the
// path operation against the tree in tree.go,
// and re-encodes — RFC 6902 operations beyond set/delete are
// explicitly out of scope for the core.
package jsondoc

import (
	"stratacore/pkg/dberrors"
	"stratacore/pkg/storage"
	"stratacore/pkg/txn"

	"github.com/vmihailenco/msgpack/v5"
)

func docKey(ns storage.Namespace, docID string) storage.Key {
	return storage.NewKey(ns, storage.TypeJSON, []byte(docID))
}

func readDoc(tc *txn.TransactionContext, ns storage.Namespace, docID string) (any, bool, error) {
	raw, ok, err := tc.Get(docKey(ns, docID))
	if err != nil || !ok {
		return nil, false, err
	}
	var doc any
	if err := msgpack.Unmarshal(raw, &doc); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func writeDoc(tc *txn.TransactionContext, ns storage.Namespace, docID string, doc any) error {
	raw, err := msgpack.Marshal(&doc)
	if err != nil {
		return err
	}
	return tc.Put(docKey(ns, docID), raw, nil)
}

// Create stores a new document at docID. Fails if a document with this
// id already exists (mirroring the vector collection create's
// already-exists check, per dberrors.ErrCollectionAlreadyExists).
func Create(tc *txn.TransactionContext, ns storage.Namespace, docID string, doc any) error {
	_, exists, err := readDoc(tc, ns, docID)
	if err != nil {
		return err
	}
	if exists {
		return dberrors.ErrCollectionAlreadyExists
	}
	return writeDoc(tc, ns, docID, doc)
}

// Get returns the whole document, or false if it doesn't exist.
func Get(tc *txn.TransactionContext, ns storage.Namespace, docID string) (any, bool, error) {
	return readDoc(tc, ns, docID)
}

// GetPath returns the value at path within the document (path syntax:
// "$" for root, ".field" for object keys, "[n]" for array indices).
func GetPath(tc *txn.TransactionContext, ns storage.Namespace, docID, path string) (any, bool, error) {
	doc, ok, err := readDoc(tc, ns, docID)
	if err != nil || !ok {
		return nil, false, err
	}
	segments, err := parsePath(path)
	if err != nil {
		return nil, false, err
	}
	v, found := getAtPath(doc, segments)
	return v, found, nil
}

// Set writes value at path within docID's document, creating object
// ancestors as needed. Fails on an invalid array index or a type
// mismatch (e.g. indexing into a non-array). If the document doesn't
// exist yet, Set creates it with an empty object root.
func Set(tc *txn.TransactionContext, ns storage.Namespace, docID, path string, value any) error {
	doc, _, err := readDoc(tc, ns, docID)
	if err != nil {
		return err
	}
	segments, err := parsePath(path)
	if err != nil {
		return err
	}
	if doc == nil && len(segments) > 0 {
		doc = make(map[string]any)
	}
	newDoc, err := setAtPath(doc, segments, value)
	if err != nil {
		return err
	}
	return writeDoc(tc, ns, docID, newDoc)
}

// Delete removes the value at path within docID's document. Returns
// whether anything was actually removed.
func Delete(tc *txn.TransactionContext, ns storage.Namespace, docID, path string) (bool, error) {
	doc, ok, err := readDoc(tc, ns, docID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, dberrors.ErrNotFound
	}
	segments, err := parsePath(path)
	if err != nil {
		return false, err
	}
	newDoc, removed, err := deleteAtPath(doc, segments)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	return true, writeDoc(tc, ns, docID, newDoc)
}

// Destroy removes docID's document entirely.
func Destroy(tc *txn.TransactionContext, ns storage.Namespace, docID string) error {
	return tc.Delete(docKey(ns, docID))
}

// List returns the ids of every live document whose id starts with prefix.
func List(tc *txn.TransactionContext, ns storage.Namespace, prefix string) ([]string, error) {
	scanPrefix := storage.NamespaceTypePrefix(ns, storage.TypeJSON)
	scanPrefix = append(scanPrefix, prefix...)

	results, err := tc.ScanPrefix(scanPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = string(r.Key.UserBytes)
	}
	return out, nil
}
