package storage

import (
	"net/url"
	"strings"
)

// Durable key layout shared by every component that reads or clears them.
const (
	PlaylistPrefix = "meting_playlist_cache"
	PrefetchPrefix = "meting_playlist_prefetch"

	SettingsKey = "study_with_miku_settings"

	MusicPlatformKey = "music_platform"
	MusicIDKey       = "music_id"
	MusicSourceKey   = "music_source"
	PlaylistIDKey    = "playlist_id"
)

// Key joins prefix and parts with ':' after query-escaping each part, so two
// distinct part lists never produce the same key.
func Key(prefix string, parts ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(url.QueryEscape(p))
	}
	return b.String()
}

// PlaylistKey is the durable key of a cached playlist record.
func PlaylistKey(source, id string) string {
	return Key(PlaylistPrefix, source, id)
}

// PrefetchKey is the durable key of a prefetch throttle mark.
func PrefetchKey(source, id string) string {
	return Key(PrefetchPrefix, source, id)
}
