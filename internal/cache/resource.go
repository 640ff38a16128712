package cache

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Default allow-lists for injectable resources.
var (
	DefaultAllowedScripts = []string{"./APlayer.min.js"}
	DefaultAllowedStyles  = []string{"./APlayer.min.css"}
)

// ResourceConfig configures a ResourceCache.
type ResourceConfig struct {
	AllowedScripts []string
	AllowedStyles  []string
	Loader         Loader        // Defaults to an HTTPLoader without base URL
	NewHandle      HandleFactory // Defaults to HTTP handles
	Logger         *log.Logger
}

// DefaultResourceConfig returns the built-in allow-lists.
func DefaultResourceConfig() ResourceConfig {
	return ResourceConfig{
		AllowedScripts: DefaultAllowedScripts,
		AllowedStyles:  DefaultAllowedStyles,
	}
}

// ResourceCache remembers loaded scripts and styles and keeps preloaded media
// handles alive. Each (kind, identifier) is loaded at most once at a time.
type ResourceCache struct {
	allowed   map[ResourceKind][]string
	loader    Loader
	newHandle HandleFactory
	logger    *log.Logger

	group singleflight.Group

	mu      sync.Mutex
	loaded  map[ResourceKind]map[string]struct{}
	handles map[ResourceKind]map[string]Handle
}

// NewResourceCache creates an empty cache.
func NewResourceCache(cfg ResourceConfig) *ResourceCache {
	rc := &ResourceCache{
		allowed: map[ResourceKind][]string{
			KindScript: cfg.AllowedScripts,
			KindStyle:  cfg.AllowedStyles,
		},
		loader:    cfg.Loader,
		newHandle: cfg.NewHandle,
		logger:    cfg.Logger,
		loaded: map[ResourceKind]map[string]struct{}{
			KindScript: {},
			KindStyle:  {},
		},
		handles: map[ResourceKind]map[string]Handle{
			KindVideo: {},
			KindAudio: {},
		},
	}
	if rc.loader == nil {
		rc.loader, _ = NewHTTPLoader(nil, "")
	}
	if rc.newHandle == nil {
		rc.newHandle = NewHTTPHandleFactory(nil)
	}
	if rc.logger == nil {
		rc.logger = log.Default().WithPrefix("resources")
	}
	return rc
}

// EnsureLoaded loads a script or stylesheet unless it is already loaded.
func (rc *ResourceCache) EnsureLoaded(ctx context.Context, identifier string, kind ResourceKind) error {
	if kind != KindScript && kind != KindStyle {
		return mtypes.E(mtypes.KindInvalidInput, "ensure loaded", identifier, nil)
	}
	if !rc.isAllowed(identifier, kind) {
		rc.logger.Warn("blocked resource outside allow-list", "kind", kind, "identifier", identifier)
		return mtypes.E(mtypes.KindPolicyViolation, "ensure loaded", identifier, nil)
	}
	if rc.Has(kind, identifier) {
		return nil
	}

	loadCtx := context.WithoutCancel(ctx)
	_, err := rc.wait(ctx, flightKey(kind, identifier), func() (any, error) {
		if rc.Has(kind, identifier) {
			return nil, nil
		}
		if err := rc.loader.Load(loadCtx, identifier, kind); err != nil {
			return nil, err
		}
		rc.mu.Lock()
		rc.loaded[kind][identifier] = struct{}{}
		rc.mu.Unlock()
		rc.logger.Debug("resource loaded", "kind", kind, "identifier", identifier)
		return nil, nil
	})
	return err
}

// wait joins the shared load for key. The load itself is not tied to any
// one caller; each caller stops waiting when its own ctx is done.
func (rc *ResourceCache) wait(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	ch := rc.group.DoChan(key, fn)
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnsureMediaHandle returns the ready handle for url, creating one if needed.
func (rc *ResourceCache) EnsureMediaHandle(ctx context.Context, rawURL string, kind ResourceKind) (Handle, error) {
	if !kind.IsMedia() {
		return nil, mtypes.E(mtypes.KindInvalidInput, "ensure media handle", rawURL, nil)
	}
	if h, ok := rc.handle(kind, rawURL); ok {
		return h, nil
	}

	readyCtx := context.WithoutCancel(ctx)
	v, err := rc.wait(ctx, flightKey(kind, rawURL), func() (any, error) {
		if h, ok := rc.handle(kind, rawURL); ok {
			return h, nil
		}
		h := rc.newHandle(rawURL, kind)
		if err := h.Ready(readyCtx); err != nil {
			h.Release()
			return nil, err
		}
		rc.mu.Lock()
		rc.handles[kind][rawURL] = h
		rc.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Handle), nil
}

// PreloadMedia readies every url concurrently and returns the handles in
// input order. The first failure is returned after all preloads finish.
func (rc *ResourceCache) PreloadMedia(ctx context.Context, urls []string, kind ResourceKind) ([]Handle, error) {
	handles := make([]Handle, len(urls))
	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			h, err := rc.EnsureMediaHandle(ctx, u, kind)
			handles[i] = h
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return handles, err
	}
	return handles, nil
}

// ClearCategory empties one category, releasing media handles exactly once.
// It returns the number of entries removed.
func (rc *ResourceCache) ClearCategory(kind ResourceKind) int {
	rc.mu.Lock()
	var released map[string]Handle
	n := 0
	if kind.IsMedia() {
		released = rc.handles[kind]
		n = len(released)
		rc.handles[kind] = map[string]Handle{}
	} else if set, ok := rc.loaded[kind]; ok {
		n = len(set)
		rc.loaded[kind] = map[string]struct{}{}
	}
	rc.mu.Unlock()

	for _, h := range released {
		h.Release()
	}
	return n
}

// ClearAll empties every category.
func (rc *ResourceCache) ClearAll() {
	for _, k := range ResourceKinds() {
		rc.ClearCategory(k)
	}
}

// Has reports whether identifier is present in kind.
func (rc *ResourceCache) Has(kind ResourceKind, identifier string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if kind.IsMedia() {
		_, ok := rc.handles[kind][identifier]
		return ok
	}
	_, ok := rc.loaded[kind][identifier]
	return ok
}

// Entries lists the entries of one category ordered by identifier.
func (rc *ResourceCache) Entries(kind ResourceKind) []Entry {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	var entries []Entry
	switch kind {
	case KindScript:
		for id := range rc.loaded[kind] {
			entries = append(entries, ScriptEntry{URL: id})
		}
	case KindStyle:
		for id := range rc.loaded[kind] {
			entries = append(entries, StyleEntry{URL: id})
		}
	case KindVideo, KindAudio:
		for u, h := range rc.handles[kind] {
			entries = append(entries, MediaEntry{URL: u, Kind: kind, Handle: h})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Identifier() < entries[j].Identifier()
	})
	return entries
}

// Stats summarizes every category.
func (rc *ResourceCache) Stats() []ResourceStats {
	stats := make([]ResourceStats, 0, len(ResourceKinds()))
	for _, k := range ResourceKinds() {
		entries := rc.Entries(k)
		items := make([]string, 0, len(entries))
		for _, e := range entries {
			items = append(items, e.Identifier())
		}
		stats = append(stats, ResourceStats{Kind: k.String(), Count: len(items), Items: items})
	}
	return stats
}

func (rc *ResourceCache) handle(kind ResourceKind, rawURL string) (Handle, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	h, ok := rc.handles[kind][rawURL]
	return h, ok
}

// isAllowed accepts exact matches and paths equal after cleaning, so
// "./APlayer.min.js" and "APlayer.min.js" are the same resource.
func (rc *ResourceCache) isAllowed(identifier string, kind ResourceKind) bool {
	for _, a := range rc.allowed[kind] {
		if identifier == a || path.Clean(identifier) == path.Clean(a) {
			return true
		}
	}
	return false
}

func flightKey(kind ResourceKind, identifier string) string {
	return kind.String() + "\x00" + identifier
}
