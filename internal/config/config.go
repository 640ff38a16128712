// Package config holds the studybeats configuration model.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
)

// AppName scopes config, data and log directories.
const AppName = "studybeats"

// Storage backends.
const (
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir   string
	Storage   StorageConfig
	Responses ResponsesConfig
	Prefetch  PrefetchConfig
	Playlist  PlaylistConfig
	Stats     StatsConfig
	Meting    MetingConfig
	Resources ResourcesConfig
	Library   LibraryConfig
}

// StorageConfig configures the durable key-value tier.
type StorageConfig struct {
	Backend          string
	Quota            int64 // Bytes; 0 disables the limit
	CompressionLevel int   // zstd level for the disk backend; 0 disables compression
}

// ResponsesConfig configures the named response caches.
type ResponsesConfig struct {
	Enabled bool
	Dir     string // Defaults to <data_dir>/responses
	Origin  string // Responses from other origins without CORS opt-in are opaque
}

// PrefetchConfig configures the prefetch engine.
type PrefetchConfig struct {
	MaxSongs          int
	Window            time.Duration
	RequestsPerMinute int
	CacheName         string
}

// PlaylistConfig configures the playlist record store.
type PlaylistConfig struct {
	TTL time.Duration
}

// StatsConfig configures cache statistics.
type StatsConfig struct {
	MaxItems int
}

// MetingConfig configures the remote playlist API.
type MetingConfig struct {
	API       string
	DefaultID string
	Timeout   time.Duration
}

// ResourcesConfig configures injectable scripts and styles.
type ResourcesConfig struct {
	BaseURL        string
	AllowScripts   []string
	AllowStyles    []string
	PreloadScripts []string
	PreloadStyles  []string
}

// LibraryConfig configures the local music library.
type LibraryConfig struct {
	Dir string
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		DataDir: defaultDataDir(),
		Storage: StorageConfig{
			Backend:          BackendDisk,
			Quota:            5 * 1024 * 1024,
			CompressionLevel: 3,
		},
		Responses: ResponsesConfig{Enabled: true},
		Prefetch: PrefetchConfig{
			MaxSongs:          12,
			Window:            12 * time.Hour,
			RequestsPerMinute: 60,
			CacheName:         "streaming-music-cache",
		},
		Playlist: PlaylistConfig{TTL: 12 * time.Hour},
		Stats:    StatsConfig{MaxItems: 50},
		Meting: MetingConfig{
			API:       "https://api.injahow.cn/meting/",
			DefaultID: "17543418420",
			Timeout:   15 * time.Second,
		},
		Resources: ResourcesConfig{
			AllowScripts: []string{"./APlayer.min.js"},
			AllowStyles:  []string{"./APlayer.min.css"},
		},
	}
}

func defaultDataDir() string {
	scope := gap.NewScope(gap.User, AppName)
	if dir, err := scope.DataPath(""); err == nil && dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), AppName)
}

// ResponsesDir returns the response cache directory.
func (c Config) ResponsesDir() string {
	if c.Responses.Dir != "" {
		return c.Responses.Dir
	}
	return filepath.Join(c.DataDir, "responses")
}

// Validate checks values and their ranges.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendDisk, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("storage backend must be %s, %s or %s, got %q",
			BackendDisk, BackendSQLite, BackendMemory, c.Storage.Backend)
	}
	if c.DataDir == "" && c.Storage.Backend != BackendMemory {
		return fmt.Errorf("data_dir is required for the %s backend", c.Storage.Backend)
	}
	if c.Storage.Quota < 0 {
		return fmt.Errorf("storage quota must not be negative, got %d", c.Storage.Quota)
	}
	if c.Storage.CompressionLevel < 0 || c.Storage.CompressionLevel > 22 {
		return fmt.Errorf("storage compression_level must be between 0 and 22, got %d", c.Storage.CompressionLevel)
	}
	if c.Prefetch.MaxSongs < 1 || c.Prefetch.MaxSongs > 100 {
		return fmt.Errorf("prefetch max_songs must be between 1 and 100, got %d", c.Prefetch.MaxSongs)
	}
	if c.Prefetch.Window < 0 {
		return fmt.Errorf("prefetch window must not be negative, got %s", c.Prefetch.Window)
	}
	if c.Prefetch.RequestsPerMinute < 0 {
		return fmt.Errorf("prefetch requests_per_minute must not be negative, got %d", c.Prefetch.RequestsPerMinute)
	}
	if c.Prefetch.CacheName == "" {
		return fmt.Errorf("prefetch cache_name is required")
	}
	if c.Playlist.TTL <= 0 {
		return fmt.Errorf("playlist ttl must be positive, got %s", c.Playlist.TTL)
	}
	if c.Stats.MaxItems < 1 {
		return fmt.Errorf("stats max_items must be positive, got %d", c.Stats.MaxItems)
	}
	if c.Meting.API == "" {
		return fmt.Errorf("meting api is required")
	}
	if c.Meting.Timeout <= 0 {
		return fmt.Errorf("meting timeout must be positive, got %s", c.Meting.Timeout)
	}
	return nil
}

// ExpandPath expands a leading tilde and environment variables.
func ExpandPath(path string) string {
	s, err := homedir.Expand(path)
	if err == nil {
		return os.ExpandEnv(s)
	}
	return os.ExpandEnv(path)
}
