package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/storage"
)

// DefaultPlaylistTTL is how long a cached playlist is considered fresh.
const DefaultPlaylistTTL = 12 * time.Hour

// PlaylistRecord is a cached playlist.
type PlaylistRecord struct {
	Source    string
	ID        string
	Songs     []mtypes.Song
	WrittenAt time.Time
}

// Stale reports whether the record is older than ttl at now.
func (r *PlaylistRecord) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.WrittenAt) > ttl
}

// playlistPayload is the stored JSON form: {"timestamp": ms, "songs": [...]}.
type playlistPayload struct {
	Timestamp int64           `json:"timestamp"`
	Songs     json.RawMessage `json:"songs"`
}

// PlaylistConfig configures a PlaylistStore.
type PlaylistConfig struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger *log.Logger
}

// PlaylistStore persists playlists in a durable Store keyed by (source, id).
type PlaylistStore struct {
	store  storage.Store
	ttl    time.Duration
	now    func() time.Time
	logger *log.Logger
}

// NewPlaylistStore wraps store.
func NewPlaylistStore(store storage.Store, cfg PlaylistConfig) *PlaylistStore {
	ps := &PlaylistStore{store: store, ttl: cfg.TTL, now: cfg.Now, logger: cfg.Logger}
	if ps.ttl <= 0 {
		ps.ttl = DefaultPlaylistTTL
	}
	if ps.now == nil {
		ps.now = time.Now
	}
	if ps.logger == nil {
		ps.logger = log.Default().WithPrefix("playlist")
	}
	return ps
}

// TTL returns the freshness window.
func (ps *PlaylistStore) TTL() time.Duration { return ps.ttl }

// IsStale reports whether r is past the TTL now.
func (ps *PlaylistStore) IsStale(r *PlaylistRecord) bool {
	return r.Stale(ps.now(), ps.ttl)
}

// Get returns the cached record or nil. Unreadable records are removed.
func (ps *PlaylistStore) Get(ctx context.Context, source, id string) *PlaylistRecord {
	rec, err := ps.Lookup(ctx, source, id)
	if err != nil {
		ps.logger.Warn("failed to read cached playlist", "source", source, "id", id, "error", err)
		return nil
	}
	return rec
}

// Lookup is Get with errors. A corrupt record is deleted and reported as
// mtypes.ErrCorruptRecord; a miss returns (nil, nil).
func (ps *PlaylistStore) Lookup(ctx context.Context, source, id string) (*PlaylistRecord, error) {
	key := storage.PlaylistKey(source, id)

	raw, ok, err := ps.store.Get(ctx, key)
	if err != nil {
		if mtypes.KindOf(err) == mtypes.KindCorruptRecord {
			ps.remove(ctx, key)
		}
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var p playlistPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		ps.remove(ctx, key)
		return nil, mtypes.E(mtypes.KindCorruptRecord, "lookup playlist", key, err)
	}

	var songs []mtypes.Song
	if len(p.Songs) > 0 {
		// A non-array songs field reads as an empty playlist
		if err := json.Unmarshal(p.Songs, &songs); err != nil {
			songs = nil
		}
	}
	if songs == nil {
		songs = []mtypes.Song{}
	}

	return &PlaylistRecord{
		Source:    source,
		ID:        id,
		Songs:     songs,
		WrittenAt: time.UnixMilli(p.Timestamp),
	}, nil
}

// Put overwrites the record for (source, id) stamped with the current time.
func (ps *PlaylistStore) Put(ctx context.Context, source, id string, songs []mtypes.Song) error {
	key := storage.PlaylistKey(source, id)
	if songs == nil {
		songs = []mtypes.Song{}
	}

	encoded, err := json.Marshal(songs)
	if err != nil {
		return fmt.Errorf("encode playlist %s: %w", key, err)
	}
	raw, err := json.Marshal(playlistPayload{Timestamp: ps.now().UnixMilli(), Songs: encoded})
	if err != nil {
		return fmt.Errorf("encode playlist %s: %w", key, err)
	}

	if err := ps.store.Set(ctx, key, raw); err != nil {
		ps.logger.Error("failed to cache playlist", "source", source, "id", id, "error", err)
		return fmt.Errorf("cache playlist %s: %w", key, err)
	}
	return nil
}

// Clear removes the record for (source, id). Missing records are ignored.
func (ps *PlaylistStore) Clear(ctx context.Context, source, id string) error {
	if err := ps.store.Remove(ctx, storage.PlaylistKey(source, id)); err != nil {
		return fmt.Errorf("clear playlist: %w", err)
	}
	return nil
}

func (ps *PlaylistStore) remove(ctx context.Context, key string) {
	if err := ps.store.Remove(ctx, key); err != nil {
		ps.logger.Warn("failed to remove corrupt playlist", "key", key, "error", err)
	}
}
