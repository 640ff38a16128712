package respcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/studybeats/internal/mtypes"
)

// ErrOpaqueResponse is returned when the size of an opaque response is requested.
var ErrOpaqueResponse = errors.New("opaque response does not expose its body")

// ValidateName rejects cache names that are empty, "." or "..", or that
// contain a path separator.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return mtypes.E(mtypes.KindInvalidInput, "cache name", name, fmt.Errorf("invalid cache name"))
	}
	return nil
}

// Response is a cached network response.
type Response struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Opaque   bool
	StoredAt time.Time
}

// OK reports whether the response is a transparent 2xx.
func (r *Response) OK() bool {
	return !r.Opaque && r.Status >= 200 && r.Status < 300
}

// Size returns the body length, or ErrOpaqueResponse for opaque responses.
func (r *Response) Size() (int64, error) {
	if r.Opaque {
		return 0, ErrOpaqueResponse
	}
	return int64(len(r.Body)), nil
}

// Date returns the response Date header, or "" when absent.
func (r *Response) Date() string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get("Date")
}

// Clone returns a deep copy so the cached value never shares buffers with the caller.
func (r *Response) Clone() *Response {
	c := *r
	c.Header = r.Header.Clone()
	c.Body = append([]byte(nil), r.Body...)
	return &c
}

// Cache is one named response cache.
type Cache interface {
	// Match returns the response stored for url. ok is false on a miss.
	Match(ctx context.Context, url string) (resp *Response, ok bool, err error)

	// Put stores resp under url, replacing any previous entry.
	Put(ctx context.Context, url string, resp *Response) error

	// Delete removes the entry for url and reports whether it existed.
	Delete(ctx context.Context, url string) (bool, error)

	// Keys lists cached URLs in insertion order.
	Keys(ctx context.Context) ([]string, error)
}

// Storage manages named caches.
type Storage interface {
	// Open returns the named cache, creating it when missing.
	Open(ctx context.Context, name string) (Cache, error)

	// Delete removes the named cache and everything in it.
	// It reports whether the cache existed.
	Delete(ctx context.Context, name string) (bool, error)

	// Names lists existing caches in lexical order.
	Names(ctx context.Context) ([]string, error)
}
