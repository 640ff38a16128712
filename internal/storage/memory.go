package storage

import (
	"context"
	"sync"

	"github.com/dgnsrekt/studybeats/internal/mtypes"
)

// MemoryStore is a process-local Store with a byte quota. It backs tests and
// the "memory" storage backend.
type MemoryStore struct {
	quota int64
	size  int64
	items map[string][]byte

	mu sync.RWMutex
}

// NewMemoryStore creates a store that rejects writes past quota bytes.
// A quota of 0 disables the limit.
func NewMemoryStore(quota int64) *MemoryStore {
	return &MemoryStore{
		quota: quota,
		items: make(map[string][]byte),
	}
}

// Get retrieves a copy of the value stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newSize := s.size + int64(len(value))
	if existing, ok := s.items[key]; ok {
		newSize -= int64(len(existing))
	}
	if s.quota > 0 && newSize > s.quota {
		return mtypes.E(mtypes.KindQuotaExceeded, "set", key, nil)
	}

	s.items[key] = append([]byte(nil), value...)
	s.size = newSize
	return nil
}

// Remove deletes key.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.items[key]; ok {
		s.size -= int64(len(v))
		delete(s.items, key)
	}
	return nil
}

// Keys lists stored keys in lexical order.
func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedKeys(s.items), nil
}

// Usage reports quota consumption.
func (s *MemoryStore) Usage() Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Usage{Quota: s.quota, Used: s.size, Items: int64(len(s.items))}
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
