package vault

import (
	"context"
	"sync"
)

// Store memoizes resolved descriptors per market. Entries are never
// invalidated automatically.
type Store interface {
	Get(ctx context.Context, key Key) ([]Descriptor, bool, error)
	Put(ctx context.Context, key Key, descriptors []Descriptor) error
}

// MemoryStore is the default process-lifetime store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Descriptor
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string][]Descriptor{}}
}

func (s *MemoryStore) Get(_ context.Context, key Key) ([]Descriptor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.entries[key.String()]
	if !ok {
		return nil, false, nil
	}
	return append([]Descriptor(nil), entries...), true, nil
}

func (s *MemoryStore) Put(_ context.Context, key Key, descriptors []Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key.String()] = append([]Descriptor(nil), descriptors...)
	return nil
}

// Len reports the number of cached markets.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
