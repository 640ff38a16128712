package respcache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage keeps every named cache in process memory.
type MemoryStorage struct {
	mu     sync.Mutex
	caches map[string]*memoryCache
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{caches: make(map[string]*memoryCache)}
}

// Open returns the named cache, creating it when missing.
func (s *MemoryStorage) Open(_ context.Context, name string) (Cache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.caches[name]
	if !ok {
		c = &memoryCache{entries: make(map[string]*Response)}
		s.caches[name] = c
	}
	return c, nil
}

// Delete removes the named cache.
func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.caches[name]
	delete(s.caches, name)
	return ok, nil
}

// Names lists existing caches.
func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.caches))
	for n := range s.caches {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

type memoryCache struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*Response
}

func (c *memoryCache) Match(_ context.Context, url string) (*Response, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.entries[url]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (c *memoryCache) Put(_ context.Context, url string, resp *Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[url]; !ok {
		c.order = append(c.order, url)
	}
	c.entries[url] = resp.Clone()
	return nil
}

func (c *memoryCache) Delete(_ context.Context, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[url]; !ok {
		return false, nil
	}
	delete(c.entries, url)
	c.order = removeString(c.order, url)
	return true, nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]string(nil), c.order...), nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
