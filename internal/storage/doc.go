// Package storage provides the durable key-value tier. Values survive process
// restarts (except for MemoryStore) and writes are bounded by a byte quota
// rather than evicted, so user settings are never dropped to make room.
package storage
