// Package library builds a playlist from audio files on disk.
package library

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/prefetch"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/gitcha"
)

// Source and ID of the local playlist, used as its prefetch throttle key.
const (
	Source = prefetch.LocalSource
	ID     = "local"
)

var audioExtensions = []string{
	"*.mp3", "*.flac", "*.ogg", "*.opus", "*.m4a", "*.aac", "*.wav",
}

var coverNames = []string{"cover.jpg", "cover.png", "cover.webp", "folder.jpg"}

const debounce = 200 * time.Millisecond

// Scan lists the audio files under dir, honoring .gitignore rules, ordered by
// path. Files named "Artist - Title.ext" are split into artist and title.
func Scan(dir string) ([]mtypes.Song, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve library dir: %w", err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("open library dir: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("library path %s is not a directory", abs)
	}

	ch, err := gitcha.FindFilesExcept(abs, audioExtensions, nil)
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}

	var paths []string
	for res := range ch {
		paths = append(paths, res.Path)
	}
	sort.Strings(paths)

	songs := make([]mtypes.Song, 0, len(paths))
	for _, p := range paths {
		songs = append(songs, songFromPath(p))
	}
	return songs, nil
}

func songFromPath(p string) mtypes.Song {
	base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	song := mtypes.Song{Name: base, URL: fileURL(p)}
	if artist, title, ok := strings.Cut(base, " - "); ok {
		song.Artist = strings.TrimSpace(artist)
		song.Name = strings.TrimSpace(title)
	}
	for _, name := range coverNames {
		cover := filepath.Join(filepath.Dir(p), name)
		if _, err := os.Stat(cover); err == nil {
			song.Cover = fileURL(cover)
			break
		}
	}
	return song
}

func fileURL(p string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}

// Watch rescans dir whenever audio files under it change and passes the new
// playlist to onChange. It blocks until ctx is canceled.
func Watch(ctx context.Context, dir string, onChange func([]mtypes.Song)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch library: %w", err)
	}
	log.Info("watching library", "dir", dir)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						log.Error("failed to watch directory", "dir", event.Name, "error", err)
					}
				}
			}
			if !relevant(event) {
				continue
			}
			log.Debug("library event", "file", event.Name, "event", event.Op)
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Debug("library watch error", "dir", dir, "error", err)

		case <-timer.C:
			songs, err := Scan(dir)
			if err != nil {
				log.Error("failed to rescan library", "dir", dir, "error", err)
				continue
			}
			onChange(songs)
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return false
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return true
	}
	name := strings.ToLower(filepath.Base(event.Name))
	for _, pattern := range audioExtensions {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
