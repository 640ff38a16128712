package config

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// SetDefaults registers the built-in values with v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.quota", humanize.IBytes(uint64(d.Storage.Quota)))
	v.SetDefault("storage.compression_level", d.Storage.CompressionLevel)
	v.SetDefault("responses.enabled", d.Responses.Enabled)
	v.SetDefault("prefetch.max_songs", d.Prefetch.MaxSongs)
	v.SetDefault("prefetch.window", d.Prefetch.Window)
	v.SetDefault("prefetch.requests_per_minute", d.Prefetch.RequestsPerMinute)
	v.SetDefault("prefetch.cache_name", d.Prefetch.CacheName)
	v.SetDefault("playlist.ttl", d.Playlist.TTL)
	v.SetDefault("stats.max_items", d.Stats.MaxItems)
	v.SetDefault("meting.api", d.Meting.API)
	v.SetDefault("meting.default_id", d.Meting.DefaultID)
	v.SetDefault("meting.timeout", d.Meting.Timeout)
	v.SetDefault("resources.allow_scripts", d.Resources.AllowScripts)
	v.SetDefault("resources.allow_styles", d.Resources.AllowStyles)
}

// Load builds a Config from v, expands paths and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	if v.IsSet("data_dir") {
		cfg.DataDir = v.GetString("data_dir")
	}

	// Storage
	if v.IsSet("storage.backend") {
		cfg.Storage.Backend = v.GetString("storage.backend")
	}
	if v.IsSet("storage.quota") {
		quota, err := parseBytes(v.GetString("storage.quota"))
		if err != nil {
			return cfg, fmt.Errorf("invalid storage quota: %w", err)
		}
		cfg.Storage.Quota = quota
	}
	if v.IsSet("storage.compression_level") {
		cfg.Storage.CompressionLevel = v.GetInt("storage.compression_level")
	}

	// Response caches
	if v.IsSet("responses.enabled") {
		cfg.Responses.Enabled = v.GetBool("responses.enabled")
	}
	if v.IsSet("responses.dir") {
		cfg.Responses.Dir = v.GetString("responses.dir")
	}
	if v.IsSet("responses.origin") {
		cfg.Responses.Origin = v.GetString("responses.origin")
	}

	// Prefetch
	if v.IsSet("prefetch.max_songs") {
		cfg.Prefetch.MaxSongs = v.GetInt("prefetch.max_songs")
	}
	if v.IsSet("prefetch.window") {
		cfg.Prefetch.Window = v.GetDuration("prefetch.window")
	}
	if v.IsSet("prefetch.requests_per_minute") {
		cfg.Prefetch.RequestsPerMinute = v.GetInt("prefetch.requests_per_minute")
	}
	if v.IsSet("prefetch.cache_name") {
		cfg.Prefetch.CacheName = v.GetString("prefetch.cache_name")
	}

	if v.IsSet("playlist.ttl") {
		cfg.Playlist.TTL = v.GetDuration("playlist.ttl")
	}
	if v.IsSet("stats.max_items") {
		cfg.Stats.MaxItems = v.GetInt("stats.max_items")
	}

	// Meting
	if v.IsSet("meting.api") {
		cfg.Meting.API = v.GetString("meting.api")
	}
	if v.IsSet("meting.default_id") {
		cfg.Meting.DefaultID = v.GetString("meting.default_id")
	}
	if v.IsSet("meting.timeout") {
		cfg.Meting.Timeout = v.GetDuration("meting.timeout")
	}

	// Resources
	if v.IsSet("resources.base_url") {
		cfg.Resources.BaseURL = v.GetString("resources.base_url")
	}
	if v.IsSet("resources.allow_scripts") {
		cfg.Resources.AllowScripts = v.GetStringSlice("resources.allow_scripts")
	}
	if v.IsSet("resources.allow_styles") {
		cfg.Resources.AllowStyles = v.GetStringSlice("resources.allow_styles")
	}
	if v.IsSet("resources.preload_scripts") {
		cfg.Resources.PreloadScripts = v.GetStringSlice("resources.preload_scripts")
	}
	if v.IsSet("resources.preload_styles") {
		cfg.Resources.PreloadStyles = v.GetStringSlice("resources.preload_styles")
	}

	if v.IsSet("library.dir") {
		cfg.Library.Dir = v.GetString("library.dir")
	}

	cfg.DataDir = ExpandPath(cfg.DataDir)
	cfg.Responses.Dir = ExpandPath(cfg.Responses.Dir)
	cfg.Library.Dir = ExpandPath(cfg.Library.Dir)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseBytes accepts plain byte counts and sizes like "5 MiB" or "10MB".
func parseBytes(s string) (int64, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil //nolint:gosec
}
