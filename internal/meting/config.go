package meting

import (
	"context"
	"fmt"

	"github.com/dgnsrekt/studybeats/internal/storage"
)

// StoredConfig is the persisted platform selection.
type StoredConfig struct {
	Platform string
	ID       string
}

// LoadStoredConfig reads the saved platform. The playlist id always starts
// at DefaultPlaylistID; the active id lives under storage.PlaylistIDKey.
func LoadStoredConfig(ctx context.Context, store storage.Store) StoredConfig {
	cfg := StoredConfig{Platform: DefaultPlatform, ID: DefaultPlaylistID}
	if v, ok, err := store.Get(ctx, storage.MusicPlatformKey); err == nil && ok && len(v) > 0 {
		cfg.Platform = string(v)
	}
	return cfg
}

// SaveConfig persists the platform and playlist id of the loaded playlist.
func SaveConfig(ctx context.Context, store storage.Store, platform, id string) error {
	if err := store.Set(ctx, storage.MusicPlatformKey, []byte(platform)); err != nil {
		return fmt.Errorf("save platform: %w", err)
	}
	if err := store.Set(ctx, storage.MusicIDKey, []byte(id)); err != nil {
		return fmt.Errorf("save playlist id: %w", err)
	}
	return nil
}
