package prefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/respcache"
)

// Fetcher issues the network request for one URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*respcache.Response, error)
}

// LocalSource is the prefetch source of songs read from the local library.
// Only its songs may use file:// URLs.
const LocalSource = "local"

// NewTransport returns an http.RoundTripper for http and https. When
// libraryRoot is set, file:// URLs under it are served from disk as well, so
// songs from a local library can be warmed like remote ones.
func NewTransport(libraryRoot string) http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if libraryRoot == "" {
		return t
	}
	root, err := filepath.Abs(libraryRoot)
	if err != nil {
		root = filepath.Clean(libraryRoot)
	}
	t.RegisterProtocol("file", &libraryFiles{
		root:  root,
		files: http.NewFileTransport(http.Dir("/")),
	})
	return t
}

// libraryFiles serves file:// URLs confined to one directory tree.
type libraryFiles struct {
	root  string
	files http.RoundTripper
}

func (l *libraryFiles) RoundTrip(req *http.Request) (*http.Response, error) {
	p := filepath.Clean(filepath.FromSlash(req.URL.Path))
	rel, err := filepath.Rel(l.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%s is outside the music library %s", p, l.root)
	}
	return l.files.RoundTrip(req)
}

// checkScheme allows http and https for every source and file only for the
// local library.
func checkScheme(rawURL, source string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return mtypes.E(mtypes.KindInvalidInput, "prefetch", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	case "file":
		if source == LocalSource {
			return nil
		}
	}
	return mtypes.E(mtypes.KindPolicyViolation, "prefetch", rawURL,
		fmt.Errorf("scheme %q is not allowed for source %s", u.Scheme, source))
}

// NewClient returns a cookie-less client using NewTransport(libraryRoot).
func NewClient(libraryRoot string) *http.Client {
	return &http.Client{Transport: NewTransport(libraryRoot), Timeout: 2 * time.Minute}
}

// NoCORSFetcher fetches without credentials and tolerates cross-origin
// responses: a response from another origin that does not opt in through
// Access-Control-Allow-Origin is returned as opaque (status 0, no headers).
type NoCORSFetcher struct {
	client *http.Client
	origin *url.URL
}

// NewNoCORSFetcher creates a fetcher. client defaults to a cookie-less client
// using NewTransport without local files. origin may be empty, in which case
// nothing is opaque.
func NewNoCORSFetcher(client *http.Client, origin string) (*NoCORSFetcher, error) {
	if client == nil {
		client = NewClient("")
	}
	f := &NoCORSFetcher{client: client}
	if origin != "" {
		u, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin %q: %w", origin, err)
		}
		f.origin = u
	}
	return f, nil
}

// Fetch performs a GET for rawURL.
func (f *NoCORSFetcher) Fetch(ctx context.Context, rawURL string) (*respcache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, mtypes.E(mtypes.KindInvalidInput, "fetch", rawURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, mtypes.E(mtypes.KindTransportFailure, "fetch", rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mtypes.E(mtypes.KindTransportFailure, "read body", rawURL, err)
	}

	out := &respcache.Response{
		URL:      rawURL,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}
	if f.isOpaque(req.URL, resp.Header) {
		out.Opaque = true
		out.Status = 0
		out.Header = nil
	}
	return out, nil
}

func (f *NoCORSFetcher) isOpaque(target *url.URL, header http.Header) bool {
	if f.origin == nil || target.Scheme == "file" {
		return false
	}
	if target.Scheme == f.origin.Scheme && target.Host == f.origin.Host {
		return false
	}
	allow := header.Get("Access-Control-Allow-Origin")
	return allow != "*" && allow != f.origin.Scheme+"://"+f.origin.Host
}
