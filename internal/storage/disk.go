package storage

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/klauspost/compress/zstd"
)

const indexFile = "store.index"

// DiskStore is a Store persisted as one file per key plus a gob index.
// Values larger than 1KB are zstd-compressed when that makes them smaller.
type DiskStore struct {
	basePath string
	quota    int64 // Maximum total of uncompressed value bytes
	size     int64 // Current total of uncompressed value bytes

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*diskEntry

	mu     sync.RWMutex
	logger *log.Logger
}

// diskEntry represents an entry in the disk store index
type diskEntry struct {
	Key          string
	FilePath     string
	Size         int64 // Size on disk
	OriginalSize int64 // Size of the value as written by the caller
	Timestamp    time.Time
	Compressed   bool
}

// NewDiskStore opens (or creates) a disk store rooted at basePath.
// compressionLevel 0 disables compression.
func NewDiskStore(basePath string, quota int64, compressionLevel int) (*DiskStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	ds := &DiskStore{
		basePath: basePath,
		quota:    quota,
		index:    make(map[string]*diskEntry),
		logger:   log.Default().WithPrefix("storage"),
	}

	if compressionLevel > 0 {
		var err error
		ds.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// The decoder is always available so stores written with compression
	// can be reopened without it.
	var err error
	ds.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := ds.loadIndex(); err != nil {
		ds.logger.Warn("discarding unreadable store index", "path", basePath, "error", err)
		ds.index = make(map[string]*diskEntry)
	}
	for _, e := range ds.index {
		ds.size += e.OriginalSize
	}

	return ds, nil
}

// Get retrieves a value from the store.
func (ds *DiskStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	entry, ok := ds.index[key]
	if !ok {
		return nil, false, nil
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File vanished underneath us, drop it from the index
			ds.dropLocked(key)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}

	if entry.Compressed {
		decompressed, err := ds.decoder.DecodeAll(data, nil)
		if err != nil {
			ds.dropLocked(key)
			return nil, false, mtypes.E(mtypes.KindCorruptRecord, "get", key, err)
		}
		data = decompressed
	}

	return data, true, nil
}

// Set stores a value, replacing any previous value for key.
func (ds *DiskStore) Set(_ context.Context, key string, value []byte) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	originalSize := int64(len(value))

	newSize := ds.size + originalSize
	existing, exists := ds.index[key]
	if exists {
		newSize -= existing.OriginalSize
	}
	if ds.quota > 0 && newSize > ds.quota {
		return mtypes.E(mtypes.KindQuotaExceeded, "set", key, nil)
	}

	dataToWrite := value
	compressed := false
	if ds.encoder != nil && originalSize > 1024 { // Only compress if > 1KB
		if c := ds.encoder.EncodeAll(value, nil); len(c) < len(value) {
			dataToWrite = c
			compressed = true
		}
	}

	filePath := ds.generateFilePath(key)
	if err := writeFileAtomic(filePath, dataToWrite); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}

	ds.index[key] = &diskEntry{
		Key:          key,
		FilePath:     filePath,
		Size:         int64(len(dataToWrite)),
		OriginalSize: originalSize,
		Timestamp:    time.Now(),
		Compressed:   compressed,
	}
	ds.size = newSize

	return ds.saveIndex()
}

// Remove deletes key from the store.
func (ds *DiskStore) Remove(_ context.Context, key string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if _, ok := ds.index[key]; !ok {
		return nil
	}
	ds.dropLocked(key)
	return ds.saveIndex()
}

// Keys lists stored keys in lexical order.
func (ds *DiskStore) Keys(_ context.Context) ([]string, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	return sortedKeys(ds.index), nil
}

// Usage reports quota consumption.
func (ds *DiskStore) Usage() Usage {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	return Usage{Quota: ds.quota, Used: ds.size, Items: int64(len(ds.index))}
}

// Close saves the index and releases the codecs.
func (ds *DiskStore) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	err := ds.saveIndex()
	if ds.encoder != nil {
		_ = ds.encoder.Close()
	}
	ds.decoder.Close()
	return err
}

// dropLocked removes key from the index and disk (must be called with lock held).
func (ds *DiskStore) dropLocked(key string) {
	entry := ds.index[key]
	_ = os.Remove(entry.FilePath)
	ds.size -= entry.OriginalSize
	delete(ds.index, key)
}

func (ds *DiskStore) generateFilePath(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(ds.basePath, hex.EncodeToString(hash[:16])+".val")
}

func (ds *DiskStore) loadIndex() error {
	file, err := os.Open(filepath.Join(ds.basePath, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No index file yet
		}
		return err
	}
	defer file.Close() //nolint:errcheck

	return gob.NewDecoder(file).Decode(&ds.index)
}

func (ds *DiskStore) saveIndex() error {
	indexPath := filepath.Join(ds.basePath, indexFile)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(ds.index)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath) //nolint:errcheck
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath) //nolint:errcheck
		return closeErr
	}

	return os.Rename(tempPath, indexPath)
}

// writeFileAtomic writes to a temp file first, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath) //nolint:errcheck
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath) //nolint:errcheck
		return closeErr
	}

	return os.Rename(tempPath, path)
}
