package storage

import (
	"fmt"
	"maps"
	"slices"
)

// Options configure backend construction.
type Options struct {
	// Dir is the snapshot directory of the fs backend.
	Dir string
	// Memory is the store of the memory backend. A fresh store is used if
	// nil.
	Memory *MemoryStore
}

// Factory opens a backend for a thread.
type Factory func(opts Options, threadID string) (Backend, error)

// Backends maps backend names to their factories.
var Backends = map[string]Factory{
	"fs": func(opts Options, threadID string) (Backend, error) {
		return NewFileSystemBackend(opts.Dir, threadID)
	},
	"memory": func(opts Options, threadID string) (Backend, error) {
		store := opts.Memory
		if store == nil {
			store = NewMemoryStore()
		}
		return NewMemoryBackend(store, threadID)
	},
}

// Open creates the named backend for threadID.
func Open(name string, opts Options, threadID string) (Backend, error) {
	factory, ok := Backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage backend %q (known: %v)", name, slices.Sorted(maps.Keys(Backends)))
	}
	return factory(opts, threadID)
}
