// pkg/vector/registry.go
//
// Registry tracks which vector collections exist, in which namespace,
// and the immutable config each was created with, so recovery knows
// what to instantiate before it can replay a single WAL record into
// any of them. Persisted the same way the manifest is: encode whole,
// write to a temp file, fsync, rename over the destination.
package vector

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"stratacore/pkg/storage"
)

// RegistryEntry is one collection's full identity: the namespace it
// lives in, its name, and its immutable config.
type RegistryEntry struct {
	Namespace storage.Namespace
	Name      string
	Config    CollectionConfig
}

// Registry is a (namespace, name) -> CollectionConfig map, safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]RegistryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]RegistryEntry)}
}

func registryKey(ns storage.Namespace, name string) string {
	return string(ns.Encode()) + "\x00" + name
}

// Put records (ns, name)'s config, overwriting any prior entry.
func (r *Registry) Put(ns storage.Namespace, name string, cfg CollectionConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[registryKey(ns, name)] = RegistryEntry{Namespace: ns, Name: name, Config: cfg}
}

// Remove drops (ns, name) from the registry.
func (r *Registry) Remove(ns storage.Namespace, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, registryKey(ns, name))
}

// Get returns (ns, name)'s config, or false if no such collection is registered.
func (r *Registry) Get(ns storage.Namespace, name string) (CollectionConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[registryKey(ns, name)]
	return e.Config, ok
}

// Entries returns every registered collection's full identity, in no
// particular order. Recovery iterates this to instantiate every
// collection before replaying a single record into it.
func (r *Registry) Entries() []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Save atomically rewrites the registry file at path with the
// registry's current contents.
func (r *Registry) Save(path string) error {
	r.mu.RLock()
	entries := make([]RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	buf, err := msgpack.Marshal(entries)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadRegistry reads the registry file at path. A missing file is not
// an error: it reads back as an empty registry, the state a brand new
// database starts in.
func LoadRegistry(path string) (*Registry, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(), nil
		}
		return nil, err
	}

	var entries []RegistryEntry
	if err := msgpack.Unmarshal(buf, &entries); err != nil {
		return nil, err
	}

	reg := NewRegistry()
	for _, e := range entries {
		reg.entries[registryKey(e.Namespace, e.Name)] = e
	}
	return reg, nil
}
