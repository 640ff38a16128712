package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dgnsrekt/studybeats/internal/app"
	"github.com/dgnsrekt/studybeats/internal/cache"
	"github.com/dgnsrekt/studybeats/internal/library"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/music"
	"github.com/dgnsrekt/studybeats/internal/prefetch"
	"github.com/dgnsrekt/studybeats/internal/storage"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var (
	statsJSON  bool
	statsItems bool

	targetSource   string
	targetPlatform string
	targetID       string

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect, clear and warm the caches",
	}

	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show what every cache tier holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			stats := a.Coordinator.RefreshStats(cmd.Context())
			if statsJSON || !isTerminal() {
				return writeJSON(os.Stdout, stats)
			}

			out, err := renderMarkdown(statsMarkdown(stats, storeUsage(a.Store), statsItems, terminalWidth()))
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear <named|durable|resource|all> [name]",
		Short: "Clear a named response cache, a durable category, a resource kind or everything",
		Long: paragraph(fmt.Sprintf(
			"\nDurable categories: %s. Resource kinds: %s. %s keeps user settings.",
			keyword(strings.Join(categoryNames(), ", ")),
			keyword(strings.Join(kindNames(), ", ")),
			keyword("clear all"),
		)),
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"named", "durable", "resource", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			if target != "all" && len(args) < 2 {
				return fmt.Errorf("clear %s needs a name", target)
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			return runClear(cmd.Context(), a, target, args[1:])
		},
	}

	cachePrefetchCmd = &cobra.Command{
		Use:   "prefetch",
		Short: "Warm the response cache with the active playlist, ignoring the throttle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			source, id := resolveTarget(a)
			songs, err := playlistSongs(ctx, a, source, id)
			if err != nil {
				return err
			}

			throttleSource := source
			if source == music.SourceMeting {
				throttleSource = targetPlatformOr(a)
			}
			report, err := a.Coordinator.TriggerManualPrefetch(ctx, songs, throttleSource, id)
			if err != nil {
				return err
			}
			printReport(os.Stdout, report, a.Config.Prefetch.Window, terminalWidth())
			return nil
		},
	}

	cacheResetThrottleCmd = &cobra.Command{
		Use:   "reset-throttle",
		Short: "Forget when the active playlist was last prefetched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			source, id := resolveTarget(a)
			if source == music.SourceMeting {
				source = targetPlatformOr(a)
			}
			if err := a.Coordinator.ClearThrottleMark(cmd.Context(), source, id); err != nil {
				return err
			}
			fmt.Printf("Throttle cleared for %s/%s\n", keyword(source), keyword(id))
			return nil
		},
	}

	cachePreloadCmd = &cobra.Command{
		Use:   "preload",
		Short: "Load the configured player scripts and stylesheets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			err = a.PreloadResources(cmd.Context())
			for _, rs := range a.Resources.Stats() {
				if rs.Count == 0 {
					continue
				}
				fmt.Printf("%s %s\n", heading(rs.Kind), strings.Join(rs.Items, ", "))
			}
			if err != nil {
				if errors.Is(err, mtypes.ErrPolicyViolation) {
					fmt.Fprintln(os.Stderr, warning("some resources are not on the allow-list"))
				}
				return err
			}
			return nil
		},
	}
)

func runClear(ctx context.Context, a *app.App, target string, args []string) error {
	switch target {
	case "named":
		name := args[0]
		if a.Coordinator.ClearNamedCache(ctx, name) {
			fmt.Printf("Deleted response cache %s\n", keyword(name))
		} else {
			fmt.Printf("Response cache %s %s\n", keyword(name), faint("was not present"))
		}
	case "durable":
		category, err := cache.ParseDurableCategory(args[0])
		if err != nil {
			return err
		}
		n, err := a.Coordinator.ClearDurableCategory(ctx, category)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %s from %s\n", plural(n, "key"), keyword(string(category)))
	case "resource":
		kind, err := cache.ParseResourceKind(args[0])
		if err != nil {
			return err
		}
		n := a.Coordinator.ClearResourceCategory(ctx, kind)
		fmt.Printf("Released %s from %s\n", plural(n, "entry"), keyword(kind.String()))
	case "all":
		stats := a.Coordinator.ClearEverything(ctx)
		remaining := 0
		for _, c := range stats.Durable {
			remaining += c.Count
		}
		fmt.Printf("Cleared every cache. %s\n", faint(fmt.Sprintf("%s kept (settings).", plural(remaining, "durable key"))))
	default:
		return fmt.Errorf("unknown clear target %q", target)
	}
	return nil
}

// resolveTarget picks the playlist the flags name, falling back to the
// persisted player state.
func resolveTarget(a *app.App) (source, id string) {
	st := a.Player.State()
	source = st.Source
	if targetSource != "" {
		source = targetSource
	}
	if source == music.SourceLocal {
		return source, library.ID
	}
	id = st.PlaylistID
	if targetID != "" {
		id = targetID
	}
	return source, id
}

func targetPlatformOr(a *app.App) string {
	if targetPlatform != "" {
		return targetPlatform
	}
	return a.Player.State().Meting.Platform
}

// playlistSongs returns the cached playlist, fetching and caching it on a miss.
func playlistSongs(ctx context.Context, a *app.App, source, id string) ([]mtypes.Song, error) {
	if source == music.SourceLocal {
		if a.Config.Library.Dir == "" {
			return nil, fmt.Errorf("no local library configured (set %s)", keyword("library.dir"))
		}
		return library.Scan(a.Config.Library.Dir)
	}

	platform := targetPlatformOr(a)
	if rec := a.Playlists.Get(ctx, platform, id); rec != nil && len(rec.Songs) > 0 {
		return rec.Songs, nil
	}
	songs := a.Meting.FetchPlaylist(ctx, platform, id)
	if len(songs) == 0 {
		return nil, fmt.Errorf("playlist %s/%s is empty or unreachable", platform, id)
	}
	if err := a.Playlists.Put(ctx, platform, id, songs); err != nil {
		return nil, err
	}
	return songs, nil
}

func printReport(w io.Writer, r prefetch.Report, window time.Duration, width int) {
	target := keyword(r.Source + "/" + r.ID)
	if r.Skipped != prefetch.SkipNone {
		fmt.Fprintf(w, "Prefetch of %s skipped: %s\n", target, warning(string(r.Skipped)))
		return
	}

	fmt.Fprintf(w, "Prefetched %s: %s stored, %s already cached, %s failed\n",
		target,
		humanize.Comma(int64(r.Stored)),
		humanize.Comma(int64(r.Warm)),
		humanize.Comma(int64(len(r.Failures))))

	for _, f := range r.Failures {
		u := truncate.StringWithTail(f.URL, uint(max(width-4, 10)), "…") //nolint:gosec
		fmt.Fprintf(w, "  %s\n", warning(u))
		fmt.Fprintln(w, lipgloss.NewStyle().PaddingLeft(4).Render(
			faint(wordwrap.String(f.Err.Error(), max(width-6, 10)))))
	}
	if !r.MarkedAt.IsZero() {
		fmt.Fprintln(w, faint("Next automatic prefetch "+humanize.Time(r.MarkedAt.Add(window))))
	}
}

func storeUsage(s storage.Store) *storage.Usage {
	u, ok := s.(interface{ Usage() storage.Usage })
	if !ok {
		return nil
	}
	usage := u.Usage()
	return &usage
}

func statsMarkdown(s cache.Stats, usage *storage.Usage, items bool, width int) string {
	keyWidth := max(width/2, 20)
	var b strings.Builder

	b.WriteString("# Cache statistics\n\n")

	b.WriteString("## Response caches\n\n")
	if !s.ResponsesSupported {
		b.WriteString("_Response caching is disabled._\n\n")
	} else {
		b.WriteString("| Cache | Entries | Size |\n|---|---:|---:|\n")
		for _, c := range s.Responses {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", c.Name, humanize.Comma(int64(c.Count)), c.TotalSizeFormatted)
		}
		b.WriteString("\n")
		if items {
			for _, c := range s.Responses {
				if len(c.Items) == 0 {
					continue
				}
				fmt.Fprintf(&b, "### %s\n\n| Entry | Size | Date |\n|---|---:|---|\n", c.Name)
				for _, it := range c.Items {
					fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(it.Key, keyWidth), it.SizeFormatted, it.Timestamp)
				}
				if c.Truncated {
					fmt.Fprintf(&b, "\n_Showing %d of %s entries._\n", len(c.Items), humanize.Comma(int64(c.Count)))
				}
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("## Durable storage\n\n| Category | Keys | Size |\n|---|---:|---:|\n")
	for _, c := range s.Durable {
		fmt.Fprintf(&b, "| %s | %d | %s |\n", c.Category, c.Count, c.TotalSizeFormatted)
	}
	b.WriteString("\n")
	if usage != nil {
		if usage.Quota > 0 {
			fmt.Fprintf(&b, "%s of %s quota used across %s.\n\n",
				cache.FormatBytes(usage.Used), cache.FormatBytes(usage.Quota), plural(int(usage.Items), "key"))
		} else {
			fmt.Fprintf(&b, "%s used across %s.\n\n", cache.FormatBytes(usage.Used), plural(int(usage.Items), "key"))
		}
	}
	if items {
		for _, c := range s.Durable {
			for _, it := range c.Items {
				fmt.Fprintf(&b, "- `%s` %s\n", runewidth.Truncate(it.Key, keyWidth, "…"), it.SizeFormatted)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Resources\n\n| Kind | Loaded |\n|---|---:|\n")
	for _, r := range s.Resources {
		fmt.Fprintf(&b, "| %s | %d |\n", r.Kind, r.Count)
	}
	b.WriteString("\n")

	if len(s.Failures) > 0 {
		b.WriteString("## Problems\n\n")
		for _, f := range s.Failures {
			if f.Name != "" {
				fmt.Fprintf(&b, "- **%s** %s: %s\n", f.Tier, f.Name, f.Err)
			} else {
				fmt.Fprintf(&b, "- **%s**: %s\n", f.Tier, f.Err)
			}
		}
		b.WriteString("\n")
	}

	if !s.CollectedAt.IsZero() {
		fmt.Fprintf(&b, "_Collected %s._\n", humanize.Time(s.CollectedAt))
	}
	return b.String()
}

// cell truncates s to w columns and escapes it for a markdown table.
func cell(s string, w int) string {
	s = runewidth.Truncate(s, w, "…")
	return strings.ReplaceAll(s, "|", `\|`)
}

func renderMarkdown(md string) (string, error) {
	style := glamour.WithAutoStyle()
	if termenv.EnvNoColor() {
		style = glamour.WithStandardStyle("notty")
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithColorProfile(lipgloss.ColorProfile()),
		style,
		glamour.WithWordWrap(terminalWidth()),
	)
	if err != nil {
		return "", fmt.Errorf("unable to create renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("unable to render markdown: %w", err)
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	if strings.HasSuffix(noun, "y") {
		return humanize.Comma(int64(n)) + " " + strings.TrimSuffix(noun, "y") + "ies"
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}

func categoryNames() []string {
	var names []string
	for _, c := range cache.DurableCategories() {
		names = append(names, string(c))
	}
	return names
}

func kindNames() []string {
	var names []string
	for _, k := range cache.ResourceKinds() {
		names = append(names, k.String())
	}
	return names
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&targetSource, "source", "", "playlist source (meting or local)")
	cmd.Flags().StringVar(&targetPlatform, "platform", "", "meting platform (netease, tencent, kugou or kuwo)")
	cmd.Flags().StringVar(&targetID, "id", "", "meting playlist id")
}

func init() {
	cacheStatsCmd.Flags().BoolVar(&statsJSON, "json", false, "print statistics as JSON")
	cacheStatsCmd.Flags().BoolVar(&statsItems, "items", false, "list individual entries")

	addTargetFlags(cachePrefetchCmd)
	addTargetFlags(cacheResetThrottleCmd)

	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cachePrefetchCmd, cacheResetThrottleCmd, cachePreloadCmd)
}
