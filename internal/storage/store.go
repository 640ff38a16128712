package storage

import (
	"context"
	"sort"
)

// Store is a durable string-keyed byte store.
type Store interface {
	// Get returns the value for key. ok is false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set writes value under key, replacing any previous value.
	// Returns an error matching mtypes.ErrQuotaExceeded when the quota would be exceeded.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists every stored key in lexical order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}

// Usage summarizes how much of a store's quota is in use.
type Usage struct {
	Quota int64 // Maximum total value bytes, 0 = unlimited
	Used  int64 // Current total value bytes
	Items int64 // Number of keys
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
