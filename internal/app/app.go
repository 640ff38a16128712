// Package app wires every cache tier and the player from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/studybeats/internal/cache"
	"github.com/dgnsrekt/studybeats/internal/config"
	"github.com/dgnsrekt/studybeats/internal/library"
	"github.com/dgnsrekt/studybeats/internal/meting"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/music"
	"github.com/dgnsrekt/studybeats/internal/prefetch"
	"github.com/dgnsrekt/studybeats/internal/respcache"
	"github.com/dgnsrekt/studybeats/internal/storage"
	"github.com/dgnsrekt/studybeats/internal/storage/sqlite"
)

// App owns the runtime components. Close releases them.
type App struct {
	Config      config.Config
	Store       storage.Store
	Responses   respcache.Storage // nil when response caching is disabled
	Resources   *cache.ResourceCache
	Playlists   *cache.PlaylistStore
	Engine      *prefetch.Engine
	Coordinator *cache.Coordinator
	Meting      *meting.Client
	Player      *music.Player

	closers []io.Closer
}

type options struct {
	onSongs func([]mtypes.Song)
}

// Option customizes New.
type Option func(*options)

// WithSongsListener is called whenever the active playlist changes.
func WithSongsListener(fn func([]mtypes.Song)) Option {
	return func(o *options) { o.onSongs = fn }
}

// New opens the configured stores and builds every component.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store)

	if cfg.Responses.Enabled {
		responses, err := openResponses(cfg)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Responses = responses
		if c, ok := responses.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
	}

	fetcher, err := prefetch.NewNoCORSFetcher(prefetch.NewClient(cfg.Library.Dir), cfg.Responses.Origin)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	a.Engine = prefetch.NewEngine(a.Responses, a.Store, fetcher,
		prefetch.WithCacheName(cfg.Prefetch.CacheName),
		prefetch.WithWindow(cfg.Prefetch.Window),
		prefetch.WithMaxSongs(cfg.Prefetch.MaxSongs),
		prefetch.WithRequestsPerMinute(cfg.Prefetch.RequestsPerMinute),
	)

	loader, err := cache.NewHTTPLoader(nil, cfg.Resources.BaseURL)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create resource loader: %w", err)
	}
	a.Resources = cache.NewResourceCache(cache.ResourceConfig{
		AllowedScripts: cfg.Resources.AllowScripts,
		AllowedStyles:  cfg.Resources.AllowStyles,
		Loader:         loader,
	})

	a.Playlists = cache.NewPlaylistStore(a.Store, cache.PlaylistConfig{TTL: cfg.Playlist.TTL})

	names := append([]string(nil), cache.DefaultCacheNames...)
	if !contains(names, cfg.Prefetch.CacheName) {
		names = append(names, cfg.Prefetch.CacheName)
	}
	a.Coordinator = cache.NewCoordinator(a.Resources, a.Store, a.Responses, a.Engine, cache.CoordinatorConfig{
		CacheNames: names,
		MaxItems:   cfg.Stats.MaxItems,
	})

	a.Meting = meting.NewClient(meting.Config{API: cfg.Meting.API, Timeout: cfg.Meting.Timeout})

	var local music.LocalLoader
	if dir := cfg.Library.Dir; dir != "" {
		local = func() ([]mtypes.Song, error) { return library.Scan(dir) }
	}
	a.Player = music.NewPlayer(ctx, music.Config{
		Store:             a.Store,
		Playlists:         a.Playlists,
		Fetcher:           a.Meting,
		Prefetcher:        a.Engine,
		Local:             local,
		OnChange:          o.onSongs,
		DefaultPlaylistID: cfg.Meting.DefaultID,
	})

	log.Debug("app ready",
		"backend", cfg.Storage.Backend,
		"responses", a.Responses != nil,
		"data_dir", cfg.DataDir)
	return a, nil
}

// PreloadResources loads the configured scripts and stylesheets.
func (a *App) PreloadResources(ctx context.Context) error {
	var errs []error
	for _, s := range a.Config.Resources.PreloadScripts {
		if err := a.Resources.EnsureLoaded(ctx, s, cache.KindScript); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range a.Config.Resources.PreloadStyles {
		if err := a.Resources.EnsureLoaded(ctx, s, cache.KindStyle); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close waits for background work, releases media handles and closes stores.
func (a *App) Close() error {
	if a.Player != nil {
		a.Player.Wait()
	}
	if a.Resources != nil {
		a.Resources.ClearAll()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(cfg config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStore(cfg.Storage.Quota), nil
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		s, err := sqlite.Open(filepath.Join(cfg.DataDir, "studybeats.db"), cfg.Storage.Quota)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewDiskStore(filepath.Join(cfg.DataDir, "store"), cfg.Storage.Quota, cfg.Storage.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("open disk store: %w", err)
		}
		return s, nil
	}
}

func openResponses(cfg config.Config) (respcache.Storage, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		return respcache.NewMemoryStorage(), nil
	}
	s, err := respcache.NewDiskStorage(cfg.ResponsesDir(), cfg.Storage.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("open response cache: %w", err)
	}
	return s, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
