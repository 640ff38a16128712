package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/studybeats/internal/app"
	"github.com/dgnsrekt/studybeats/internal/library"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/music"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

var (
	songsRefresh bool
	songsReset   bool
	songsFilter  string
	songsCopy    bool
	songsWatch   bool
	songsJSON    bool

	songsCmd = &cobra.Command{
		Use:   "songs",
		Short: "Load the active playlist and list its songs",
		Long: paragraph(fmt.Sprintf(
			"\nCached playlists are listed %s and refreshed in the background once they are older than the playlist TTL. Pass %s or %s to switch playlists.",
			keyword("immediately"), keyword("--platform"), keyword("--id"),
		)),
		Args: cobra.NoArgs,
		RunE: runSongs,
	}
)

func runSongs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	var opts []app.Option
	changes := make(chan []mtypes.Song, 1)
	if songsWatch {
		opts = append(opts, app.WithSongsListener(func(songs []mtypes.Song) {
			// Keep only the latest list
			select {
			case <-changes:
			default:
			}
			changes <- songs
		}))
	}

	a, err := openApp(ctx, opts...)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	if err := loadPlaylist(ctx, a); err != nil {
		return err
	}

	if !songsWatch {
		return showSongs(os.Stdout, a.Player.Songs())
	}
	return watchSongs(ctx, a, changes)
}

// loadPlaylist applies the selection flags to the player and loads.
func loadPlaylist(ctx context.Context, a *app.App) error {
	st := a.Player.State()

	switch {
	case songsReset:
		if err := a.Player.ResetToDefault(ctx); err != nil {
			return err
		}

	case targetSource == music.SourceLocal:
		return a.Player.SwitchSource(ctx, music.SourceLocal)

	case targetPlatform != "" || targetID != "":
		platform := targetPlatform
		if platform == "" {
			platform = st.Meting.Platform
		}
		id := targetID
		if id == "" {
			id = st.PlaylistID
		}
		if err := a.Player.ApplyCustomPlaylist(ctx, platform, id); err != nil {
			return err
		}

	case songsRefresh && (st.Source == music.SourceMeting || targetSource == music.SourceMeting):
		if err := a.Player.UpdatePlaylist(ctx, st.Meting.Platform, st.PlaylistID); err != nil {
			return err
		}

	case targetSource != "":
		return a.Player.SwitchSource(ctx, targetSource)

	default:
		return a.Player.LoadSongs(ctx)
	}

	if songsRefresh {
		// Wait for the refetch so the listing shows the new playlist
		a.Player.Wait()
	}
	return nil
}

func watchSongs(ctx context.Context, a *app.App, changes <-chan []mtypes.Song) error {
	dir := a.Config.Library.Dir
	if dir == "" || a.Player.State().Source != music.SourceLocal {
		return fmt.Errorf("%s needs the local source and %s", keyword("--watch"), keyword("library.dir"))
	}

	errc := make(chan error, 1)
	go func() {
		errc <- library.Watch(ctx, dir, func([]mtypes.Song) {
			if err := a.Player.LoadSongs(ctx); err != nil {
				log.Error("failed to reload library", "error", err)
			}
		})
	}()

	for {
		select {
		case songs := <-changes:
			if isTerminal() && !songsJSON {
				fmt.Println(heading(fmt.Sprintf("Library changed, %s", plural(len(songs), "song"))))
			}
			if err := showSongs(os.Stdout, songs); err != nil {
				return err
			}
		case err := <-errc:
			return err
		}
	}
}

func showSongs(w io.Writer, songs []mtypes.Song) error {
	songs = filterSongs(songs, songsFilter)

	if songsCopy {
		urls := mtypes.URLs(songs)
		if err := clipboard.WriteAll(strings.Join(urls, "\n")); err != nil {
			return fmt.Errorf("unable to copy to clipboard: %w", err)
		}
		fmt.Fprintln(os.Stderr, faint(fmt.Sprintf("Copied %s to the clipboard", plural(len(urls), "URL"))))
	}

	if songsJSON || !isTerminal() {
		return writeJSON(w, songs)
	}
	if len(songs) == 0 {
		fmt.Fprintln(w, faint("No songs."))
		return nil
	}
	printSongTable(w, songs, terminalWidth())
	return nil
}

func printSongTable(w io.Writer, songs []mtypes.Song, total int) {
	numWidth := len(strconv.Itoa(len(songs)))
	rest := max(total-numWidth-4, 20)
	titleWidth := rest * 3 / 5
	artistWidth := rest - titleWidth

	for i, s := range songs {
		num := fmt.Sprintf("%*d", numWidth, i+1)
		title := runewidth.FillRight(runewidth.Truncate(s.Name, titleWidth, "…"), titleWidth)
		artist := runewidth.Truncate(s.Artist, artistWidth, "…")
		fmt.Fprintf(w, "%s  %s  %s\n", faint(num), title, keyword(artist))
	}
}

// songList adapts a playlist to fuzzy.Source over folded title and artist.
type songList []mtypes.Song

func (l songList) String(i int) string { return normalize(l[i].Name + " " + l[i].Artist) }
func (l songList) Len() int            { return len(l) }

// filterSongs returns the songs matching pattern, best match first.
func filterSongs(songs []mtypes.Song, pattern string) []mtypes.Song {
	if pattern == "" {
		return songs
	}
	matches := fuzzy.FindFrom(normalize(pattern), songList(songs))
	out := make([]mtypes.Song, 0, len(matches))
	for _, m := range matches {
		out = append(out, songs[m.Index])
	}
	return out
}

// normalize folds full-width forms and case so "ＭＩＫＵ" matches "miku".
func normalize(s string) string {
	return cases.Fold().String(width.Fold.String(s))
}

func init() {
	addTargetFlags(songsCmd)
	songsCmd.Flags().BoolVar(&songsRefresh, "refresh", false, "refetch the playlist even when the cached copy is fresh")
	songsCmd.Flags().BoolVar(&songsReset, "reset", false, "switch back to the default platform and playlist")
	songsCmd.Flags().StringVarP(&songsFilter, "filter", "f", "", "fuzzy filter by title or artist")
	songsCmd.Flags().BoolVar(&songsCopy, "copy", false, "copy the listed song URLs to the clipboard")
	songsCmd.Flags().BoolVarP(&songsWatch, "watch", "w", false, "relist whenever the local library changes")
	songsCmd.Flags().BoolVar(&songsJSON, "json", false, "print songs as JSON")
}
