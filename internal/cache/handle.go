package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/prefetch"
)

// Handle is a media element kept alive by the ResourceCache.
type Handle interface {
	// Ready blocks until the media is fully preloaded.
	Ready(ctx context.Context) error
	// Release frees the media. The cache calls it at most once per handle.
	Release()
}

// HandleFactory creates an unready handle for a media URL.
type HandleFactory func(rawURL string, kind ResourceKind) Handle

// Loader injects a script or stylesheet.
type Loader interface {
	Load(ctx context.Context, identifier string, kind ResourceKind) error
}

func defaultClient() *http.Client {
	return prefetch.NewClient("")
}

// HTTPLoader treats a successful GET of the resolved identifier as loaded.
type HTTPLoader struct {
	client *http.Client
	base   *url.URL
}

// NewHTTPLoader resolves relative identifiers against baseURL. A nil client
// uses a default client limited to http and https.
func NewHTTPLoader(client *http.Client, baseURL string) (*HTTPLoader, error) {
	if client == nil {
		client = defaultClient()
	}
	l := &HTTPLoader{client: client}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		l.base = u
	}
	return l, nil
}

// Load fetches identifier and discards the body.
func (l *HTTPLoader) Load(ctx context.Context, identifier string, kind ResourceKind) error {
	target, err := url.Parse(identifier)
	if err != nil {
		return mtypes.E(mtypes.KindInvalidInput, "load "+kind.String(), identifier, err)
	}
	if l.base != nil {
		target = l.base.ResolveReference(target)
	}

	body, err := get(ctx, l.client, target.String())
	if err != nil {
		return mtypes.E(mtypes.KindTransportFailure, "load "+kind.String(), identifier, err)
	}
	return body.Close()
}

// HTTPHandle downloads a media body into memory.
type HTTPHandle struct {
	client *http.Client
	url    string
	kind   ResourceKind

	mu       sync.Mutex
	data     []byte
	released bool
}

// NewHTTPHandleFactory returns a HandleFactory producing HTTPHandles.
func NewHTTPHandleFactory(client *http.Client) HandleFactory {
	if client == nil {
		client = defaultClient()
	}
	return func(rawURL string, kind ResourceKind) Handle {
		return &HTTPHandle{client: client, url: rawURL, kind: kind}
	}
}

// Ready downloads the full body.
func (h *HTTPHandle) Ready(ctx context.Context) error {
	body, err := get(ctx, h.client, h.url)
	if err != nil {
		return mtypes.E(mtypes.KindTransportFailure, "preload "+h.kind.String(), h.url, err)
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return mtypes.E(mtypes.KindTransportFailure, "preload "+h.kind.String(), h.url, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return fmt.Errorf("handle %s released during preload", h.url)
	}
	h.data = data
	return nil
}

// Release drops the buffered body.
func (h *HTTPHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = nil
	h.released = true
}

// Size returns the number of buffered bytes.
func (h *HTTPHandle) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.data)
}

func get(ctx context.Context, client *http.Client, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	// The file transport leaves StatusCode at 200 for files that exist.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close() //nolint:errcheck
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
