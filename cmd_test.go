package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/studybeats/internal/cache"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/prefetch"
	"github.com/dgnsrekt/studybeats/internal/storage"
)

func TestFilterSongs(t *testing.T) {
	songs := []mtypes.Song{
		{Name: "Senbonzakura", Artist: "Kurousa-P"},
		{Name: "Ｍｅｌｔ", Artist: "ryo"},
		{Name: "World is Mine", Artist: "ryo"},
	}

	if got := filterSongs(songs, ""); len(got) != 3 {
		t.Fatalf("empty filter returned %d songs, want 3", len(got))
	}

	got := filterSongs(songs, "MELT")
	if len(got) != 1 || got[0].Artist != "ryo" || !strings.Contains(got[0].Name, "Ｍ") {
		t.Errorf("full-width title not matched: %+v", got)
	}

	got = filterSongs(songs, "ryo")
	if len(got) != 2 {
		t.Errorf("artist filter returned %d songs, want 2", len(got))
	}

	if got := filterSongs(songs, "zzz"); len(got) != 0 {
		t.Errorf("expected no matches, got %+v", got)
	}
}

func TestPlural(t *testing.T) {
	tests := []struct {
		n    int
		noun string
		want string
	}{
		{1, "key", "1 key"},
		{0, "key", "0 keys"},
		{2, "entry", "2 entries"},
		{1200, "song", "1,200 songs"},
	}
	for _, tt := range tests {
		if got := plural(tt.n, tt.noun); got != tt.want {
			t.Errorf("plural(%d, %q) = %q, want %q", tt.n, tt.noun, got, tt.want)
		}
	}
}

func TestStatsMarkdown(t *testing.T) {
	stats := cache.Stats{
		ResponsesSupported: true,
		Responses: []cache.NamedCacheStats{{
			Name:               "audio-cache",
			Count:              120,
			TotalSizeFormatted: "1.5 MB",
			Items:              []cache.ItemStats{{Key: "https://cdn/a|b.mp3", SizeFormatted: "10 KB", Timestamp: "unknown"}},
			Truncated:          true,
		}},
		Durable: []cache.CategoryStats{{Category: cache.CategoryPlaylist, Count: 2, TotalSizeFormatted: "2 KB"}},
		Failures: []cache.TierFailure{{Tier: "responses", Name: "video-cache", Err: "boom"}},
	}
	usage := &storage.Usage{Quota: 5 << 20, Used: 2048, Items: 2}

	md := statsMarkdown(stats, usage, true, 80)
	for _, want := range []string{
		"| audio-cache | 120 | 1.5 MB |",
		`https://cdn/a\|b.mp3`,
		"_Showing 1 of 120 entries._",
		"2 KB of 5 MB quota used across 2 keys.",
		"**responses** video-cache: boom",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}

	md = statsMarkdown(cache.Stats{}, nil, false, 80)
	if !strings.Contains(md, "Response caching is disabled") {
		t.Errorf("expected disabled note:\n%s", md)
	}
}

func TestPrintReport(t *testing.T) {
	var b strings.Builder
	printReport(&b, prefetch.Report{Source: "netease", ID: "1", Skipped: prefetch.SkipThrottled}, time.Hour, 80)
	if !strings.Contains(b.String(), string(prefetch.SkipThrottled)) {
		t.Errorf("skip reason missing: %q", b.String())
	}

	b.Reset()
	printReport(&b, prefetch.Report{
		Source:   "netease",
		ID:       "1",
		Stored:   2,
		Warm:     1,
		Failures: []prefetch.URLFailure{{URL: "https://cdn/x.mp3", Err: errors.New("status 404")}},
	}, time.Hour, 80)
	out := b.String()
	for _, want := range []string{"2 stored", "1 already cached", "1 failed", "https://cdn/x.mp3", "status 404"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
