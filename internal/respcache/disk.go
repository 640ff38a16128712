package respcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const cacheIndexFile = "cache.index"

// DiskStorage persists each named cache as a directory of zstd-compressed
// entries plus an ordered index.
type DiskStorage struct {
	basePath string

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu     sync.Mutex
	caches map[string]*diskCache
}

// storedResponse is the on-disk encoding of a Response.
type storedResponse struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Opaque   bool
	StoredAt time.Time
}

// indexEntry maps a URL to its entry file
type indexEntry struct {
	URL  string
	File string
}

// NewDiskStorage opens (or creates) a storage rooted at basePath.
func NewDiskStorage(basePath string, compressionLevel int) (*DiskStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create response cache directory: %w", err)
	}
	if compressionLevel <= 0 {
		compressionLevel = 1
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &DiskStorage{
		basePath: basePath,
		encoder:  encoder,
		decoder:  decoder,
		caches:   make(map[string]*diskCache),
	}, nil
}

// Open returns the named cache, creating its directory when missing.
func (s *DiskStorage) Open(_ context.Context, name string) (Cache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caches[name]; ok {
		return c, nil
	}

	dir := s.dirFor(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}

	c := &diskCache{storage: s, dir: dir}
	if err := c.loadIndex(); err != nil {
		return nil, fmt.Errorf("load cache %s index: %w", name, err)
	}
	s.caches[name] = c
	return c, nil
}

// Delete removes the named cache directory.
func (s *DiskStorage) Delete(_ context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caches[name]; ok {
		c.mu.Lock()
		c.deleted = true
		c.index = nil
		c.mu.Unlock()
		delete(s.caches, name)
	}

	dir := s.dirFor(name)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return true, nil
}

// Names lists the caches present on disk.
func (s *DiskStorage) Names(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close releases the codecs.
func (s *DiskStorage) Close() error {
	_ = s.encoder.Close()
	s.decoder.Close()
	return nil
}

func (s *DiskStorage) dirFor(name string) string {
	return filepath.Join(s.basePath, url.PathEscape(name))
}

// diskCache is one named cache directory.
type diskCache struct {
	storage *DiskStorage
	dir     string

	mu      sync.RWMutex
	index   []indexEntry
	deleted bool
}

func (c *diskCache) Match(_ context.Context, rawURL string) (*Response, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pos := c.find(rawURL)
	if pos < 0 {
		return nil, false, nil
	}

	data, err := os.ReadFile(filepath.Join(c.dir, c.index[pos].File))
	if err != nil {
		return nil, false, fmt.Errorf("read entry %s: %w", rawURL, err)
	}
	raw, err := c.storage.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompress entry %s: %w", rawURL, err)
	}

	var sr storedResponse
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&sr); err != nil {
		return nil, false, fmt.Errorf("decode entry %s: %w", rawURL, err)
	}

	return &Response{
		URL:      sr.URL,
		Status:   sr.Status,
		Header:   sr.Header,
		Body:     sr.Body,
		Opaque:   sr.Opaque,
		StoredAt: sr.StoredAt,
	}, true, nil
}

func (c *diskCache) Put(_ context.Context, rawURL string, resp *Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deleted {
		return fmt.Errorf("cache %s was deleted", filepath.Base(c.dir))
	}

	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(storedResponse{
		URL:      rawURL,
		Status:   resp.Status,
		Header:   resp.Header,
		Body:     resp.Body,
		Opaque:   resp.Opaque,
		StoredAt: storedAt,
	}); err != nil {
		return fmt.Errorf("encode entry %s: %w", rawURL, err)
	}

	file := entryFile(rawURL)
	compressed := c.storage.encoder.EncodeAll(buf.Bytes(), nil)
	if err := writeFileAtomic(filepath.Join(c.dir, file), compressed); err != nil {
		return fmt.Errorf("write entry %s: %w", rawURL, err)
	}

	if c.find(rawURL) < 0 {
		c.index = append(c.index, indexEntry{URL: rawURL, File: file})
	}
	return c.saveIndex()
}

func (c *diskCache) Delete(_ context.Context, rawURL string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.find(rawURL)
	if pos < 0 {
		return false, nil
	}
	_ = os.Remove(filepath.Join(c.dir, c.index[pos].File))
	c.index = append(c.index[:pos], c.index[pos+1:]...)
	return true, c.saveIndex()
}

func (c *diskCache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, len(c.index))
	for i, e := range c.index {
		keys[i] = e.URL
	}
	return keys, nil
}

// find returns the index position of url, or -1 (must be called with lock held).
func (c *diskCache) find(rawURL string) int {
	for i, e := range c.index {
		if e.URL == rawURL {
			return i
		}
	}
	return -1
}

func (c *diskCache) loadIndex() error {
	file, err := os.Open(filepath.Join(c.dir, cacheIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close() //nolint:errcheck

	return gob.NewDecoder(file).Decode(&c.index)
}

func (c *diskCache) saveIndex() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c.index); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(c.dir, cacheIndexFile), buf.Bytes())
}

func entryFile(rawURL string) string {
	hash := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(hash[:16]) + ".resp"
}

// writeFileAtomic writes to a temp file first, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		os.Remove(tempPath) //nolint:errcheck
		return err
	}
	return os.Rename(tempPath, path)
}
