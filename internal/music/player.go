// Package music owns the active playlist: where it comes from, how it is
// cached and when its media is prefetched.
package music

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/studybeats/internal/cache"
	"github.com/dgnsrekt/studybeats/internal/library"
	"github.com/dgnsrekt/studybeats/internal/meting"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/prefetch"
	"github.com/dgnsrekt/studybeats/internal/storage"
)

// Playlist sources.
const (
	SourceMeting = "meting"
	SourceLocal  = "local"
)

// PlaylistFetcher loads a remote playlist. An empty result means the fetch
// failed or the playlist is empty.
type PlaylistFetcher interface {
	FetchPlaylist(ctx context.Context, server, id string) []mtypes.Song
}

// Prefetcher warms the response cache for a playlist.
type Prefetcher interface {
	Prefetch(ctx context.Context, songs []mtypes.Song, opts prefetch.Options) prefetch.Report
}

// LocalLoader lists the songs of the local library.
type LocalLoader func() ([]mtypes.Song, error)

// Config wires a Player.
type Config struct {
	Store      storage.Store
	Playlists  *cache.PlaylistStore
	Fetcher    PlaylistFetcher
	Prefetcher Prefetcher  // Optional
	Local      LocalLoader // Optional
	OnChange   func([]mtypes.Song)
	Logger     *log.Logger

	// DefaultPlaylistID defaults to meting.DefaultPlaylistID.
	DefaultPlaylistID string
}

// State is a snapshot of the player.
type State struct {
	Songs      []mtypes.Song
	Source     string
	Platform   string
	PlaylistID string
	Meting     meting.StoredConfig // Platform and id of the last loaded remote playlist
	Loading    bool
}

// Player loads the active playlist. Cached playlists are served immediately;
// stale ones are refetched in the background and replace the list when the
// refetch succeeds, unless a newer load has started in the meantime.
type Player struct {
	store      storage.Store
	playlists  *cache.PlaylistStore
	fetcher    PlaylistFetcher
	prefetcher Prefetcher
	local      LocalLoader
	onChange   func([]mtypes.Song)
	logger     *log.Logger
	defaultID  string

	wg sync.WaitGroup

	mu         sync.Mutex
	gen        uint64
	songs      []mtypes.Song
	source     string
	platform   string
	playlistID string
	meting     meting.StoredConfig
	loading    bool
}

// NewPlayer restores the persisted source, platform and playlist id.
func NewPlayer(ctx context.Context, cfg Config) *Player {
	p := &Player{
		store:      cfg.Store,
		playlists:  cfg.Playlists,
		fetcher:    cfg.Fetcher,
		prefetcher: cfg.Prefetcher,
		local:      cfg.Local,
		onChange:   cfg.OnChange,
		logger:     cfg.Logger,
		defaultID:  cfg.DefaultPlaylistID,
		songs:      []mtypes.Song{},
	}
	if p.logger == nil {
		p.logger = log.Default().WithPrefix("music")
	}
	if p.defaultID == "" {
		p.defaultID = meting.DefaultPlaylistID
	}

	p.source = p.read(ctx, storage.MusicSourceKey, SourceMeting)
	p.platform = p.read(ctx, storage.MusicPlatformKey, meting.DefaultPlatform)
	p.playlistID = p.read(ctx, storage.PlaylistIDKey, p.defaultID)
	p.meting = meting.LoadStoredConfig(ctx, p.store)
	return p
}

// State returns a snapshot.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		Songs:      append([]mtypes.Song(nil), p.songs...),
		Source:     p.source,
		Platform:   p.platform,
		PlaylistID: p.playlistID,
		Meting:     p.meting,
		Loading:    p.loading,
	}
}

// Songs returns the active playlist.
func (p *Player) Songs() []mtypes.Song {
	return p.State().Songs
}

// Wait blocks until background refetches and prefetches have finished.
func (p *Player) Wait() {
	p.wg.Wait()
}

// LoadSongs loads the playlist of the current source.
func (p *Player) LoadSongs(ctx context.Context) error {
	p.mu.Lock()
	source, platform, id := p.source, p.meting.Platform, p.playlistID
	p.mu.Unlock()

	if source == SourceLocal {
		return p.loadLocal(ctx)
	}
	p.loadMeting(ctx, platform, id, false)
	return nil
}

// SwitchSource persists source and reloads.
func (p *Player) SwitchSource(ctx context.Context, source string) error {
	if source != SourceMeting && source != SourceLocal {
		return mtypes.E(mtypes.KindInvalidInput, "switch source", source,
			fmt.Errorf("want %s or %s", SourceMeting, SourceLocal))
	}
	p.setSource(ctx, source)
	return p.LoadSongs(ctx)
}

// UpdatePlaylist switches to the remote source and force-loads (platform, id).
func (p *Player) UpdatePlaylist(ctx context.Context, platform, id string) error {
	if !meting.ValidPlatform(platform) {
		return invalidPlatform(platform)
	}
	p.setSource(ctx, SourceMeting)
	p.loadMeting(ctx, platform, id, true)
	return nil
}

// ApplyCustomPlaylist stores platform and id as the active selection and
// force-loads them.
func (p *Player) ApplyCustomPlaylist(ctx context.Context, platform, id string) error {
	if err := p.SetPlatform(ctx, platform); err != nil {
		return err
	}
	p.SetPlaylistID(ctx, id)
	p.setSource(ctx, SourceMeting)
	p.loadMeting(ctx, platform, id, true)
	return nil
}

// ResetToDefault restores the default platform and playlist and force-loads them.
func (p *Player) ResetToDefault(ctx context.Context) error {
	p.setSource(ctx, SourceMeting)
	if err := p.SetPlatform(ctx, meting.DefaultPlatform); err != nil {
		return err
	}
	p.ResetPlaylistID(ctx)
	p.loadMeting(ctx, meting.DefaultPlatform, p.defaultID, true)
	return nil
}

// SetPlaylistID persists the playlist id used by LoadSongs.
func (p *Player) SetPlaylistID(ctx context.Context, id string) {
	p.mu.Lock()
	p.playlistID = id
	p.mu.Unlock()
	p.write(ctx, storage.PlaylistIDKey, id)
}

// ResetPlaylistID restores the default playlist id.
func (p *Player) ResetPlaylistID(ctx context.Context) {
	p.SetPlaylistID(ctx, p.defaultID)
}

// SetPlatform persists the selected platform.
func (p *Player) SetPlatform(ctx context.Context, platform string) error {
	if !meting.ValidPlatform(platform) {
		return invalidPlatform(platform)
	}
	p.mu.Lock()
	p.platform = platform
	p.mu.Unlock()
	p.write(ctx, storage.MusicPlatformKey, platform)
	return nil
}

func (p *Player) loadLocal(ctx context.Context) error {
	gen := p.begin()
	defer p.finish(gen)

	if p.local == nil {
		return mtypes.E(mtypes.KindInvalidInput, "load local songs", "", fmt.Errorf("no local library configured"))
	}
	songs, err := p.local()
	if err != nil {
		return fmt.Errorf("load local songs: %w", err)
	}
	p.setSongs(gen, songs)
	p.startPrefetch(ctx, songs, prefetch.Options{Source: library.Source, ID: library.ID})
	return nil
}

func (p *Player) loadMeting(ctx context.Context, platform, id string, force bool) {
	gen := p.begin()

	rec := p.playlists.Get(ctx, platform, id)
	if rec == nil || len(rec.Songs) == 0 {
		p.revalidate(ctx, gen, platform, id, force, false)
		return
	}

	p.setSongs(gen, rec.Songs)
	p.persist(ctx, platform, id)
	p.startPrefetch(ctx, rec.Songs, prefetch.Options{Source: platform, ID: id, Force: force})

	if !force && !p.playlists.IsStale(rec) {
		p.finish(gen)
		return
	}

	p.logger.Debug("revalidating cached playlist", "platform", platform, "id", id, "force", force)
	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.revalidate(bg, gen, platform, id, force, true)
	}()
}

// revalidate fetches (platform, id) and installs the result if gen is
// still the latest load.
func (p *Player) revalidate(ctx context.Context, gen uint64, platform, id string, force, hadCache bool) {
	defer p.finish(gen)

	songs := p.fetcher.FetchPlaylist(ctx, platform, id)
	if len(songs) == 0 {
		if !hadCache {
			p.logger.Warn("playlist is empty or unavailable", "platform", platform, "id", id)
		}
		return
	}

	// Cache the fresh copy even when a newer load superseded this one
	_ = p.playlists.Put(ctx, platform, id, songs)

	if !p.setSongs(gen, songs) {
		p.logger.Debug("discarding superseded playlist", "platform", platform, "id", id)
		return
	}
	p.persist(ctx, platform, id)
	p.startPrefetch(ctx, songs, prefetch.Options{Source: platform, ID: id, Force: force})
}

func (p *Player) startPrefetch(ctx context.Context, songs []mtypes.Song, opts prefetch.Options) {
	if len(songs) == 0 || p.prefetcher == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		report := p.prefetcher.Prefetch(bg, songs, opts)
		p.logger.Debug("prefetch done", "source", opts.Source, "id", opts.ID,
			"skipped", report.Skipped, "stored", report.Stored)
	}()
}

// begin starts a new load generation, superseding every earlier one.
func (p *Player) begin() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.loading = true
	return p.gen
}

func (p *Player) finish(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen == p.gen {
		p.loading = false
	}
}

// setSongs installs songs if gen is current and reports whether it did.
func (p *Player) setSongs(gen uint64, songs []mtypes.Song) bool {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return false
	}
	p.songs = append([]mtypes.Song(nil), songs...)
	onChange := p.onChange
	p.mu.Unlock()

	if onChange != nil {
		onChange(append([]mtypes.Song(nil), songs...))
	}
	return true
}

func (p *Player) persist(ctx context.Context, platform, id string) {
	if err := meting.SaveConfig(ctx, p.store, platform, id); err != nil {
		p.logger.Warn("failed to save music config", "error", err)
	}
	p.mu.Lock()
	p.meting = meting.StoredConfig{Platform: platform, ID: id}
	p.mu.Unlock()
}

func (p *Player) setSource(ctx context.Context, source string) {
	p.mu.Lock()
	p.source = source
	p.mu.Unlock()
	p.write(ctx, storage.MusicSourceKey, source)
}

func (p *Player) read(ctx context.Context, key, fallback string) string {
	v, ok, err := p.store.Get(ctx, key)
	if err != nil || !ok || len(v) == 0 {
		return fallback
	}
	return string(v)
}

func (p *Player) write(ctx context.Context, key, value string) {
	if err := p.store.Set(ctx, key, []byte(value)); err != nil {
		p.logger.Warn("failed to persist music setting", "key", key, "error", err)
	}
}

func invalidPlatform(platform string) error {
	return mtypes.E(mtypes.KindInvalidInput, "set platform", platform, fmt.Errorf("unsupported platform"))
}
