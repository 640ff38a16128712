package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/studybeats/internal/mtypes"
)

// countingLoader counts loads and can block or fail them.
type countingLoader struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (l *countingLoader) Load(ctx context.Context, _ string, _ ResourceKind) error {
	l.calls.Add(1)
	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return l.err
}

type fakeHandle struct {
	url      string
	readyErr error
	released atomic.Int32
}

func (h *fakeHandle) Ready(context.Context) error { return h.readyErr }
func (h *fakeHandle) Release()                    { h.released.Add(1) }

// handleRecorder is a HandleFactory that remembers every handle it made.
type handleRecorder struct {
	mu       sync.Mutex
	handles  []*fakeHandle
	readyErr error
}

func (r *handleRecorder) New(url string, _ ResourceKind) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := &fakeHandle{url: url, readyErr: r.readyErr}
	r.handles = append(r.handles, h)
	return h
}

func (r *handleRecorder) All() []*fakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeHandle(nil), r.handles...)
}

func newTestResources(loader Loader, handles *handleRecorder) *ResourceCache {
	cfg := DefaultResourceConfig()
	cfg.Loader = loader
	if handles != nil {
		cfg.NewHandle = handles.New
	}
	return NewResourceCache(cfg)
}

func TestEnsureLoaded_RejectsUnlistedIdentifier(t *testing.T) {
	loader := &countingLoader{}
	rc := newTestResources(loader, nil)

	err := rc.EnsureLoaded(context.Background(), "https://evil.example/x.js", KindScript)
	if !errors.Is(err, mtypes.ErrPolicyViolation) {
		t.Fatalf("EnsureLoaded error = %v, want policy violation", err)
	}
	if loader.calls.Load() != 0 {
		t.Error("loader should not be called for a rejected identifier")
	}
	if len(rc.Entries(KindScript)) != 0 {
		t.Error("script set should be unchanged")
	}
}

func TestEnsureLoaded_Idempotent(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{}
	rc := newTestResources(loader, nil)

	for i := 0; i < 3; i++ {
		if err := rc.EnsureLoaded(ctx, "./APlayer.min.js", KindScript); err != nil {
			t.Fatalf("EnsureLoaded failed: %v", err)
		}
	}
	if err := rc.EnsureLoaded(ctx, "./APlayer.min.css", KindStyle); err != nil {
		t.Fatalf("EnsureLoaded style failed: %v", err)
	}

	if n := loader.calls.Load(); n != 2 {
		t.Errorf("loader calls = %d, want 2", n)
	}
	if !rc.Has(KindScript, "./APlayer.min.js") {
		t.Error("script should be recorded")
	}
}

func TestEnsureLoaded_ConcurrentCallsLoadOnce(t *testing.T) {
	loader := &countingLoader{release: make(chan struct{})}
	rc := newTestResources(loader, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- rc.EnsureLoaded(context.Background(), "./APlayer.min.js", KindScript)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(loader.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("EnsureLoaded failed: %v", err)
		}
	}
	if n := loader.calls.Load(); n != 1 {
		t.Errorf("loader calls = %d, want 1", n)
	}
}

func TestEnsureLoaded_CanceledCallerDoesNotFailOthers(t *testing.T) {
	loader := &countingLoader{release: make(chan struct{})}
	rc := newTestResources(loader, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- rc.EnsureLoaded(ctx, "./APlayer.min.js", KindScript) }()
	for loader.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	second := make(chan error, 1)
	go func() { second <- rc.EnsureLoaded(context.Background(), "./APlayer.min.js", KindScript) }()
	time.Sleep(10 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("canceled caller error = %v, want context.Canceled", err)
	}

	close(loader.release)
	if err := <-second; err != nil {
		t.Errorf("waiting caller failed: %v", err)
	}
	if n := loader.calls.Load(); n != 1 {
		t.Errorf("loader calls = %d, want 1", n)
	}
	if !rc.Has(KindScript, "./APlayer.min.js") {
		t.Error("load should be recorded")
	}
}

func TestEnsureLoaded_FailureLeavesSetUnchanged(t *testing.T) {
	loader := &countingLoader{err: errors.New("boom")}
	rc := newTestResources(loader, nil)

	if err := rc.EnsureLoaded(context.Background(), "./APlayer.min.js", KindScript); err == nil {
		t.Fatal("expected load error")
	}
	if rc.Has(KindScript, "./APlayer.min.js") {
		t.Error("failed load should not be recorded")
	}
}

func TestEnsureLoaded_RejectsMediaKind(t *testing.T) {
	rc := newTestResources(&countingLoader{}, nil)
	err := rc.EnsureLoaded(context.Background(), "./APlayer.min.js", KindVideo)
	if !errors.Is(err, mtypes.ErrInvalidInput) {
		t.Errorf("error = %v, want invalid input", err)
	}
}

func TestEnsureMediaHandle_ReusesHandle(t *testing.T) {
	ctx := context.Background()
	handles := &handleRecorder{}
	rc := newTestResources(&countingLoader{}, handles)

	first, err := rc.EnsureMediaHandle(ctx, "https://v/a.mp4", KindVideo)
	if err != nil {
		t.Fatalf("EnsureMediaHandle failed: %v", err)
	}
	second, err := rc.EnsureMediaHandle(ctx, "https://v/a.mp4", KindVideo)
	if err != nil {
		t.Fatalf("EnsureMediaHandle failed: %v", err)
	}

	if first != second {
		t.Error("expected the cached handle to be returned")
	}
	if n := len(handles.All()); n != 1 {
		t.Errorf("handles created = %d, want 1", n)
	}
}

func TestEnsureMediaHandle_FailedReadyReleases(t *testing.T) {
	handles := &handleRecorder{readyErr: errors.New("decode error")}
	rc := newTestResources(&countingLoader{}, handles)

	if _, err := rc.EnsureMediaHandle(context.Background(), "https://a/x.mp3", KindAudio); err == nil {
		t.Fatal("expected readiness error")
	}
	all := handles.All()
	if len(all) != 1 || all[0].released.Load() != 1 {
		t.Errorf("partial handle should be released exactly once")
	}
	if rc.Has(KindAudio, "https://a/x.mp3") {
		t.Error("failed handle should not be stored")
	}
}

func TestClearCategory_ReleasesOnce(t *testing.T) {
	ctx := context.Background()
	handles := &handleRecorder{}
	rc := newTestResources(&countingLoader{}, handles)

	for _, u := range []string{"https://v/1.mp4", "https://v/2.mp4"} {
		if _, err := rc.EnsureMediaHandle(ctx, u, KindVideo); err != nil {
			t.Fatalf("EnsureMediaHandle failed: %v", err)
		}
	}
	if _, err := rc.EnsureMediaHandle(ctx, "https://a/1.mp3", KindAudio); err != nil {
		t.Fatalf("EnsureMediaHandle failed: %v", err)
	}

	if n := rc.ClearCategory(KindVideo); n != 2 {
		t.Errorf("ClearCategory = %d, want 2", n)
	}
	if n := rc.ClearCategory(KindVideo); n != 0 {
		t.Errorf("second ClearCategory = %d, want 0", n)
	}

	for _, h := range handles.All() {
		want := int32(1)
		if h.url == "https://a/1.mp3" {
			want = 0
		}
		if got := h.released.Load(); got != want {
			t.Errorf("%s released %d times, want %d", h.url, got, want)
		}
	}
	if len(rc.Entries(KindVideo)) != 0 {
		t.Error("video category should be empty")
	}
	if len(rc.Entries(KindAudio)) != 1 {
		t.Error("audio category should be untouched")
	}
}

func TestPreloadMedia(t *testing.T) {
	handles := &handleRecorder{}
	rc := newTestResources(&countingLoader{}, handles)
	urls := []string{"https://a/1.mp3", "https://a/2.mp3", "https://a/1.mp3"}

	got, err := rc.PreloadMedia(context.Background(), urls, KindAudio)
	if err != nil {
		t.Fatalf("PreloadMedia failed: %v", err)
	}
	if len(got) != 3 || got[0] != got[2] {
		t.Error("duplicate URLs should share a handle")
	}

	entries := rc.Entries(KindAudio)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if _, ok := entries[0].(MediaEntry); !ok {
		t.Errorf("entry type = %T, want MediaEntry", entries[0])
	}
}

func TestHTTPLoaderAndHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/static/APlayer.min.js":
			w.Write([]byte("/* player */")) //nolint:errcheck
		case "/media/song.mp3":
			w.Write([]byte("0123456789")) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	loader, err := NewHTTPLoader(srv.Client(), srv.URL+"/static/")
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	cfg := DefaultResourceConfig()
	cfg.Loader = loader
	cfg.NewHandle = NewHTTPHandleFactory(srv.Client())
	rc := NewResourceCache(cfg)

	if err := rc.EnsureLoaded(ctx, "./APlayer.min.js", KindScript); err != nil {
		t.Fatalf("EnsureLoaded failed: %v", err)
	}
	if err := rc.EnsureLoaded(ctx, "./APlayer.min.css", KindStyle); !errors.Is(err, mtypes.ErrTransportFailure) {
		t.Errorf("missing stylesheet error = %v, want transport failure", err)
	}

	h, err := rc.EnsureMediaHandle(ctx, srv.URL+"/media/song.mp3", KindAudio)
	if err != nil {
		t.Fatalf("EnsureMediaHandle failed: %v", err)
	}
	hh := h.(*HTTPHandle)
	if hh.Size() != 10 {
		t.Errorf("handle size = %d, want 10", hh.Size())
	}

	rc.ClearAll()
	if hh.Size() != 0 {
		t.Error("released handle should drop its buffer")
	}
}
