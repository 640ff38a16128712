package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# directory for cached playlists, settings and media (default: user data dir)
# data_dir: "~/.local/share/studybeats"

storage:
  # durable backend: disk, sqlite or memory
  backend: "disk"
  # maximum size of durable values, e.g. "5 MiB" ("0" disables the limit)
  quota: "5 MiB"
  # zstd level used by the disk backend and response caches (0 disables)
  compression_level: 3

responses:
  # keep named response caches (media prefetch, api responses)
  enabled: true
  # dir: "~/.cache/studybeats/responses"
  # responses from other origins without a CORS opt-in are stored opaque
  # origin: "https://study.example.com"

prefetch:
  # distinct songs warmed per run
  max_songs: 12
  # minimum time between automatic runs for one playlist
  window: "12h"
  # request pacing, 0 disables
  requests_per_minute: 60
  cache_name: "streaming-music-cache"

playlist:
  # cached playlists older than this are refetched in the background
  ttl: "12h"

stats:
  # entries read per named cache when collecting statistics
  max_items: 50

meting:
  api: "https://api.injahow.cn/meting/"
  default_id: "17543418420"
  timeout: "15s"

resources:
  # base_url: "https://study.example.com/"
  allow_scripts: ["./APlayer.min.js"]
  allow_styles: ["./APlayer.min.css"]
  preload_scripts: []
  preload_styles: []

library:
  # local music directory used by the "local" source
  # dir: "~/Music"
`

var configPathOnly bool

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the studybeats config file",
	Long:    paragraph(fmt.Sprintf("\n%s the studybeats config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("studybeats config\nstudybeats config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}
		if configPathOnly {
			fmt.Println(configFile)
			return nil
		}

		c, err := editor.Cmd("Studybeats", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}

func init() {
	configCmd.Flags().BoolVar(&configPathOnly, "path", false, "print the config file path instead of editing it")
}
