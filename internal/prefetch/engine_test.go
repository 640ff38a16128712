package prefetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/respcache"
	"github.com/dgnsrekt/studybeats/internal/storage"
)

// fakeFetcher records requested URLs and serves canned responses.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	resp  map[string]*respcache.Response
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*respcache.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, url)
	if err, ok := f.fail[url]; ok {
		return nil, err
	}
	if r, ok := f.resp[url]; ok {
		return r, nil
	}
	return &respcache.Response{URL: url, Status: 200, Body: []byte("audio:" + url)}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func songsFor(urls ...string) []mtypes.Song {
	songs := make([]mtypes.Song, len(urls))
	for i, u := range urls {
		songs[i] = mtypes.Song{Name: fmt.Sprintf("song %d", i), URL: u}
	}
	return songs
}

func newTestEngine(t *testing.T) (*Engine, *fakeFetcher, *respcache.MemoryStorage, *storage.MemoryStore, *fakeClock) {
	t.Helper()
	fetcher := &fakeFetcher{}
	responses := respcache.NewMemoryStorage()
	store := storage.NewMemoryStore(0)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := NewEngine(responses, store, fetcher, WithClock(clock.Now))
	return e, fetcher, responses, store, clock
}

func TestPrefetch_ThrottledWithinWindow(t *testing.T) {
	ctx := context.Background()
	e, fetcher, _, _, clock := newTestEngine(t)
	songs := songsFor("https://m/1.mp3", "https://m/2.mp3")
	opts := Options{Source: "netease", ID: "42"}

	first := e.Prefetch(ctx, songs, opts)
	if first.Skipped != SkipNone {
		t.Fatalf("first run skipped: %s", first.Skipped)
	}
	if first.Stored != 2 {
		t.Errorf("Stored = %d, want 2", first.Stored)
	}

	clock.Advance(11 * time.Hour)
	second := e.Prefetch(ctx, songs, opts)
	if second.Skipped != SkipThrottled {
		t.Errorf("second run Skipped = %q, want throttled", second.Skipped)
	}
	if n := len(fetcher.Calls()); n != 2 {
		t.Errorf("fetch calls = %d, want 2", n)
	}

	clock.Advance(2 * time.Hour)
	if !e.ShouldPrefetch(ctx, "netease", "42", false) {
		t.Error("throttle should have expired")
	}

	// A forced run bypasses the throttle but finds everything warm
	forced := e.Prefetch(ctx, songs, Options{Source: "netease", ID: "42", Force: true})
	if forced.Skipped != SkipNone || forced.Warm != 2 {
		t.Errorf("forced run = %+v, want 2 warm", forced)
	}
	if e.ShouldPrefetch(ctx, "netease", "42", false) {
		t.Error("forced run should refresh the throttle mark")
	}
}

func TestPrefetch_DedupAndCap(t *testing.T) {
	ctx := context.Background()
	e, fetcher, _, _, _ := newTestEngine(t)

	var urls []string
	for i := 0; i < 17; i++ {
		urls = append(urls, fmt.Sprintf("https://m/%02d.mp3", i))
	}
	// 20 songs, 3 of them duplicates of earlier entries
	urls = append(urls, urls[0], urls[5], urls[1])
	songs := songsFor(urls...)
	songs[3], songs[18] = songs[18], songs[3] // move a duplicate early

	report := e.Prefetch(ctx, songs, Options{})
	calls := fetcher.Calls()

	if len(calls) != DefaultMaxSongs {
		t.Fatalf("fetch calls = %d, want %d", len(calls), DefaultMaxSongs)
	}
	want := mtypes.URLs(songs)[:DefaultMaxSongs]
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, calls[i], want[i])
		}
	}
	seen := map[string]bool{}
	for _, c := range calls {
		if seen[c] {
			t.Errorf("duplicate fetch of %s", c)
		}
		seen[c] = true
	}
	if report.Source != "netease" || report.ID != "default" {
		t.Errorf("defaults not applied: %s/%s", report.Source, report.ID)
	}
}

func TestPrefetch_PartialFailureStillMarks(t *testing.T) {
	ctx := context.Background()
	e, fetcher, responses, store, _ := newTestEngine(t)
	fetcher.fail = map[string]error{
		"https://m/2.mp3": mtypes.E(mtypes.KindTransportFailure, "fetch", "https://m/2.mp3", errors.New("reset")),
	}
	fetcher.resp = map[string]*respcache.Response{
		"https://m/3.mp3": {Status: 404},
		"https://m/4.mp3": {Opaque: true, Body: []byte("opaque")},
	}

	report := e.Prefetch(ctx, songsFor("https://m/1.mp3", "https://m/2.mp3", "https://m/3.mp3", "https://m/4.mp3"), Options{Source: "kugou", ID: "7"})

	if report.Stored != 2 {
		t.Errorf("Stored = %d, want 2", report.Stored)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("Failures = %d, want 2", len(report.Failures))
	}
	for _, f := range report.Failures {
		if !errors.Is(f.Err, mtypes.ErrTransportFailure) {
			t.Errorf("failure for %s = %v, want transport failure", f.URL, f.Err)
		}
	}
	if report.MarkedAt.IsZero() {
		t.Error("throttle mark not written after partial failure")
	}
	if _, ok, _ := store.Get(ctx, storage.PrefetchKey("kugou", "7")); !ok {
		t.Error("throttle key missing")
	}

	cache, _ := responses.Open(ctx, DefaultCacheName)
	keys, _ := cache.Keys(ctx)
	if len(keys) != 2 || keys[0] != "https://m/1.mp3" || keys[1] != "https://m/4.mp3" {
		t.Errorf("cached keys = %v", keys)
	}
}

func TestPrefetch_NoOps(t *testing.T) {
	ctx := context.Background()

	e, fetcher, _, store, _ := newTestEngine(t)
	if r := e.Prefetch(ctx, nil, Options{}); r.Skipped != SkipNoSongs {
		t.Errorf("Skipped = %q, want no-songs", r.Skipped)
	}
	if r := e.Prefetch(ctx, []mtypes.Song{{Name: "no url"}}, Options{}); r.Skipped != SkipNoURLs {
		t.Errorf("Skipped = %q, want no-urls", r.Skipped)
	}
	if keys, _ := store.Keys(ctx); len(keys) != 0 {
		t.Errorf("throttle written for no-op: %v", keys)
	}

	unsupported := NewEngine(nil, store, fetcher)
	if r := unsupported.Prefetch(ctx, songsFor("https://m/1.mp3"), Options{}); r.Skipped != SkipUnsupported {
		t.Errorf("Skipped = %q, want unsupported", r.Skipped)
	}
	if n := len(fetcher.Calls()); n != 0 {
		t.Errorf("fetch calls = %d, want 0", n)
	}
}

func TestPrefetch_ClearThrottle(t *testing.T) {
	ctx := context.Background()
	e, fetcher, _, _, _ := newTestEngine(t)
	songs := songsFor("https://m/1.mp3")

	e.Prefetch(ctx, songs, Options{Source: "tencent", ID: "1"})
	if err := e.ClearThrottle(ctx, "tencent", "1"); err != nil {
		t.Fatalf("ClearThrottle: %v", err)
	}
	if !e.ShouldPrefetch(ctx, "tencent", "1", false) {
		t.Error("expected prefetch to be due after clearing throttle")
	}
	r := e.Prefetch(ctx, songs, Options{Source: "tencent", ID: "1"})
	if r.Skipped != SkipNone || r.Warm != 1 {
		t.Errorf("report = %+v", r)
	}
	if n := len(fetcher.Calls()); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}

func TestPrefetch_IgnoresCancellationOnceStarted(t *testing.T) {
	e, fetcher, _, _, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := e.Prefetch(ctx, songsFor("https://m/1.mp3", "https://m/2.mp3"), Options{})
	if r.Stored != 2 {
		t.Errorf("Stored = %d, want 2", r.Stored)
	}
	if n := len(fetcher.Calls()); n != 2 {
		t.Errorf("fetch calls = %d, want 2", n)
	}
}

func TestNoCORSFetcher(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "" {
			t.Error("fetch sent credentials")
		}
		if r.URL.Path == "/cors.mp3" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	sameOrigin, err := NewNoCORSFetcher(nil, srv.URL)
	if err != nil {
		t.Fatalf("NewNoCORSFetcher: %v", err)
	}
	r, err := sameOrigin.Fetch(ctx, srv.URL+"/a.mp3")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if r.Opaque || !r.OK() || string(r.Body) != "data" {
		t.Errorf("same-origin response = %+v", r)
	}

	crossOrigin, _ := NewNoCORSFetcher(nil, "https://app.example")
	r, err = crossOrigin.Fetch(ctx, srv.URL+"/a.mp3")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !r.Opaque || r.Status != 0 {
		t.Errorf("cross-origin response should be opaque: %+v", r)
	}

	r, _ = crossOrigin.Fetch(ctx, srv.URL+"/cors.mp3")
	if r.Opaque {
		t.Error("CORS-enabled response should be transparent")
	}

	if _, err := sameOrigin.Fetch(ctx, "http://127.0.0.1:1/unreachable"); !errors.Is(err, mtypes.ErrTransportFailure) {
		t.Errorf("unreachable error = %v, want transport failure", err)
	}
}

func TestNoCORSFetcher_FileURL(t *testing.T) {
	library := t.TempDir()
	path := filepath.Join(library, "local.mp3")
	if err := os.WriteFile(path, []byte("local audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, _ := NewNoCORSFetcher(NewClient(library), "https://app.example")
	r, err := f.Fetch(context.Background(), "file://"+filepath.ToSlash(path))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !r.OK() || string(r.Body) != "local audio" {
		t.Errorf("file response = %d %q", r.Status, r.Body)
	}

	tests := []struct {
		name    string
		fetcher *NoCORSFetcher
		url     string
	}{
		{"outside library", f, "file://" + filepath.ToSlash(outside)},
		{"dot-dot escape", f, "file://" + filepath.ToSlash(library) + "/../" + filepath.Base(filepath.Dir(outside)) + "/secret.txt"},
	}
	noLibrary, _ := NewNoCORSFetcher(nil, "")
	tests = append(tests, struct {
		name    string
		fetcher *NoCORSFetcher
		url     string
	}{"no library configured", noLibrary, "file://" + filepath.ToSlash(path)})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tt.fetcher.Fetch(context.Background(), tt.url)
			if err == nil {
				t.Fatalf("Fetch(%s) = %d %q, want an error", tt.url, r.Status, r.Body)
			}
			if !errors.Is(err, mtypes.ErrTransportFailure) {
				t.Errorf("error = %v, want transport failure", err)
			}
		})
	}
}

func TestPrefetch_RemoteSourcesOnlyFetchHTTP(t *testing.T) {
	ctx := context.Background()
	e, fetcher, _, _, _ := newTestEngine(t)

	songs := songsFor("file:///etc/passwd", "ftp://m/1.mp3", "https://m/ok.mp3")
	r := e.Prefetch(ctx, songs, Options{Source: "netease", ID: "42"})

	if r.Stored != 1 {
		t.Errorf("Stored = %d, want 1", r.Stored)
	}
	if len(r.Failures) != 2 {
		t.Fatalf("Failures = %+v, want 2", r.Failures)
	}
	for _, f := range r.Failures {
		if !errors.Is(f.Err, mtypes.ErrPolicyViolation) {
			t.Errorf("failure for %s = %v, want policy violation", f.URL, f.Err)
		}
	}
	if calls := fetcher.Calls(); len(calls) != 1 || calls[0] != "https://m/ok.mp3" {
		t.Errorf("fetch calls = %v, want only the https URL", calls)
	}

	local := e.Prefetch(ctx, songsFor("file:///music/a.mp3"), Options{Source: LocalSource, ID: "local"})
	if local.Stored != 1 || len(local.Failures) != 0 {
		t.Errorf("local library run = %+v, want the file URL stored", local)
	}
}
