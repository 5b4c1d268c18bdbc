package storage

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore holds snapshots in memory, shared by the backends opened on
// it.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]byte)}
}

// Threads returns the number of stored snapshots.
func (m *MemoryStore) Threads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}

// MemoryBackend is a [Backend] over a [MemoryStore]. Snapshots are stored
// serialized, so callers never share state with the store.
type MemoryBackend struct {
	store    *MemoryStore
	threadID string
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend opens threadID on store.
func NewMemoryBackend(store *MemoryStore, threadID string) (*MemoryBackend, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("storage: nil memory store")
	}
	return &MemoryBackend{store: store, threadID: threadID}, nil
}

func (b *MemoryBackend) Load() (*Snapshot, error) {
	b.store.mu.RLock()
	data, ok := b.store.snapshots[b.threadID]
	b.store.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &s, nil
}

func (b *MemoryBackend) Save(s *Snapshot) error {
	if err := stamp(s, b.threadID); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	b.store.mu.Lock()
	b.store.snapshots[b.threadID] = data
	b.store.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Delete() error {
	b.store.mu.Lock()
	delete(b.store.snapshots, b.threadID)
	b.store.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
