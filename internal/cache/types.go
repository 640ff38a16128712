package cache

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/storage"
)

// DefaultCacheNames are the named response caches the client knows about.
var DefaultCacheNames = []string{
	"video-cache",
	"r2-video-cache",
	"image-font-cache",
	"audio-cache",
	"api-cache",
	"streaming-music-cache",
}

// DefaultMaxItems bounds how many entries of one named cache are read for stats.
const DefaultMaxItems = 50

// ResourceKind is a ResourceCache category.
type ResourceKind int

const (
	KindScript ResourceKind = iota
	KindStyle
	KindVideo
	KindAudio
)

// ResourceKinds lists every resource category.
func ResourceKinds() []ResourceKind {
	return []ResourceKind{KindScript, KindStyle, KindVideo, KindAudio}
}

// String returns the category name.
func (k ResourceKind) String() string {
	switch k {
	case KindScript:
		return "scripts"
	case KindStyle:
		return "styles"
	case KindVideo:
		return "videos"
	case KindAudio:
		return "audios"
	default:
		return "unknown"
	}
}

// IsMedia reports whether the kind holds media handles.
func (k ResourceKind) IsMedia() bool {
	return k == KindVideo || k == KindAudio
}

// ParseResourceKind accepts singular or plural category names.
func ParseResourceKind(s string) (ResourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "script", "scripts":
		return KindScript, nil
	case "style", "styles":
		return KindStyle, nil
	case "video", "videos":
		return KindVideo, nil
	case "audio", "audios":
		return KindAudio, nil
	}
	return 0, mtypes.E(mtypes.KindInvalidInput, "parse resource kind", s, nil)
}

// Entry is one ResourceCache entry: ScriptEntry, StyleEntry or MediaEntry.
type Entry interface {
	Identifier() string
	isEntry()
}

// ScriptEntry records that a script identifier has been loaded.
type ScriptEntry struct{ URL string }

// StyleEntry records that a stylesheet identifier has been loaded.
type StyleEntry struct{ URL string }

// MediaEntry holds a ready media handle.
type MediaEntry struct {
	URL    string
	Kind   ResourceKind
	Handle Handle
}

func (e ScriptEntry) Identifier() string { return e.URL }
func (e StyleEntry) Identifier() string  { return e.URL }
func (e MediaEntry) Identifier() string  { return e.URL }

func (ScriptEntry) isEntry() {}
func (StyleEntry) isEntry()  {}
func (MediaEntry) isEntry()  {}

// DurableCategory groups durable keys for stats and clearing.
type DurableCategory string

const (
	CategoryPlaylist    DurableCategory = "playlist"
	CategoryPrefetch    DurableCategory = "prefetch"
	CategorySettings    DurableCategory = "settings"
	CategoryMusicConfig DurableCategory = "musicConfig"
)

var durablePatterns = map[DurableCategory]*regexp.Regexp{
	CategoryPlaylist:    regexp.MustCompile(`^` + regexp.QuoteMeta(storage.PlaylistPrefix) + `:`),
	CategoryPrefetch:    regexp.MustCompile(`^` + regexp.QuoteMeta(storage.PrefetchPrefix) + `:`),
	CategorySettings:    regexp.MustCompile(`^` + regexp.QuoteMeta(storage.SettingsKey) + `$`),
	CategoryMusicConfig: regexp.MustCompile(`^music_(platform|id|source)$`),
}

// DurableCategories lists every durable category in display order.
func DurableCategories() []DurableCategory {
	return []DurableCategory{CategoryPlaylist, CategoryPrefetch, CategorySettings, CategoryMusicConfig}
}

// ParseDurableCategory validates a category name.
func ParseDurableCategory(s string) (DurableCategory, error) {
	c := DurableCategory(s)
	if _, ok := durablePatterns[c]; !ok {
		return "", mtypes.E(mtypes.KindInvalidInput, "parse durable category", s,
			fmt.Errorf("known categories: %v", DurableCategories()))
	}
	return c, nil
}

// Matches reports whether key belongs to the category.
func (c DurableCategory) Matches(key string) bool {
	re, ok := durablePatterns[c]
	return ok && re.MatchString(key)
}

// ItemStats describes one cached entry.
type ItemStats struct {
	Key           string `json:"key"`
	Size          int64  `json:"size"`
	SizeFormatted string `json:"sizeFormatted"`
	Timestamp     string `json:"timestamp,omitempty"`
	Unknown       bool   `json:"unknown,omitempty"` // Size could not be determined
}

// NamedCacheStats summarizes one named response cache.
type NamedCacheStats struct {
	Name               string      `json:"name"`
	Count              int         `json:"count"`
	TotalSize          int64       `json:"totalSize"`
	TotalSizeFormatted string      `json:"totalSizeFormatted"`
	Items              []ItemStats `json:"items"`
	Truncated          bool        `json:"truncated"`
	Err                string      `json:"error,omitempty"`
}

// CategoryStats summarizes one durable category.
type CategoryStats struct {
	Category           DurableCategory `json:"category"`
	Count              int             `json:"count"`
	TotalSize          int64           `json:"totalSize"`
	TotalSizeFormatted string          `json:"totalSizeFormatted"`
	Items              []ItemStats     `json:"items"`
}

// ResourceStats summarizes one ResourceCache category.
type ResourceStats struct {
	Kind  string   `json:"kind"`
	Count int      `json:"count"`
	Items []string `json:"items"`
}

// TierFailure records a failure that made part of a stats scan incomplete.
type TierFailure struct {
	Tier string `json:"tier"`
	Name string `json:"name,omitempty"`
	Err  string `json:"error"`
}

// Stats is an aggregated snapshot of every tier.
type Stats struct {
	ResponsesSupported bool              `json:"responsesSupported"`
	Responses          []NamedCacheStats `json:"responses"`
	Durable            []CategoryStats   `json:"durable"`
	Resources          []ResourceStats   `json:"resources"`
	Failures           []TierFailure     `json:"failures,omitempty"`
	CollectedAt        time.Time         `json:"collectedAt"`
}

// Response returns the stats of the named response cache.
func (s Stats) Response(name string) (NamedCacheStats, bool) {
	for _, r := range s.Responses {
		if r.Name == name {
			return r, true
		}
	}
	return NamedCacheStats{}, false
}

// Category returns the stats of a durable category.
func (s Stats) Category(c DurableCategory) (CategoryStats, bool) {
	for _, d := range s.Durable {
		if d.Category == c {
			return d, true
		}
	}
	return CategoryStats{}, false
}

// Resource returns the stats of a resource category.
func (s Stats) Resource(k ResourceKind) (ResourceStats, bool) {
	for _, r := range s.Resources {
		if r.Kind == k.String() {
			return r, true
		}
	}
	return ResourceStats{}, false
}
