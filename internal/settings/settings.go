// Package settings persists user preferences as one JSON document under
// storage.SettingsKey. Clearing every cache leaves it in place.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/storage"
)

// Loop modes.
const (
	LoopList   = "list"
	LoopOne    = "one"
	LoopRandom = "random"
)

// Settings are the user's playback preferences.
type Settings struct {
	Volume          float64 `json:"volume"`
	Muted           bool    `json:"muted"`
	Loop            string  `json:"loop"`
	ShowLyrics      bool    `json:"showLyrics"`
	BackgroundVideo string  `json:"backgroundVideo,omitempty"`
	FocusMinutes    int     `json:"focusMinutes"`
	BreakMinutes    int     `json:"breakMinutes"`
}

// Default returns the settings used before anything is saved.
func Default() Settings {
	return Settings{
		Volume:       0.7,
		Loop:         LoopList,
		ShowLyrics:   true,
		FocusMinutes: 25,
		BreakMinutes: 5,
	}
}

// Keys lists the settable keys in display order.
func Keys() []string {
	return []string{"volume", "muted", "loop", "showLyrics", "backgroundVideo", "focusMinutes", "breakMinutes"}
}

// Load reads the saved settings. A missing document yields Default; an
// unreadable one yields Default and a CorruptRecord error.
func Load(ctx context.Context, store storage.Store) (Settings, error) {
	s := Default()
	raw, ok, err := store.Get(ctx, storage.SettingsKey)
	if err != nil {
		return s, fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Default(), mtypes.E(mtypes.KindCorruptRecord, "load settings", storage.SettingsKey, err)
	}
	return s, nil
}

// Save validates and writes s.
func Save(ctx context.Context, store storage.Store, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := store.Set(ctx, storage.SettingsKey, raw); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	invalid := func(format string, args ...any) error {
		return mtypes.E(mtypes.KindInvalidInput, "validate settings", "", fmt.Errorf(format, args...))
	}
	switch {
	case s.Volume < 0 || s.Volume > 1:
		return invalid("volume must be between 0 and 1, got %v", s.Volume)
	case s.Loop != LoopList && s.Loop != LoopOne && s.Loop != LoopRandom:
		return invalid("loop must be one of %s, %s, %s, got %q", LoopList, LoopOne, LoopRandom, s.Loop)
	case s.FocusMinutes <= 0 || s.BreakMinutes <= 0:
		return invalid("timer minutes must be positive")
	}
	return nil
}

// Get returns the string form of key.
func (s Settings) Get(key string) (string, error) {
	switch key {
	case "volume":
		return strconv.FormatFloat(s.Volume, 'f', -1, 64), nil
	case "muted":
		return strconv.FormatBool(s.Muted), nil
	case "loop":
		return s.Loop, nil
	case "showLyrics":
		return strconv.FormatBool(s.ShowLyrics), nil
	case "backgroundVideo":
		return s.BackgroundVideo, nil
	case "focusMinutes":
		return strconv.Itoa(s.FocusMinutes), nil
	case "breakMinutes":
		return strconv.Itoa(s.BreakMinutes), nil
	}
	return "", unknownKey(key)
}

// Set parses value into key. It does not validate ranges.
func (s *Settings) Set(key, value string) error {
	var err error
	switch key {
	case "volume":
		s.Volume, err = strconv.ParseFloat(value, 64)
	case "muted":
		s.Muted, err = strconv.ParseBool(value)
	case "loop":
		s.Loop = strings.ToLower(value)
	case "showLyrics":
		s.ShowLyrics, err = strconv.ParseBool(value)
	case "backgroundVideo":
		s.BackgroundVideo = value
	case "focusMinutes":
		s.FocusMinutes, err = strconv.Atoi(value)
	case "breakMinutes":
		s.BreakMinutes, err = strconv.Atoi(value)
	default:
		return unknownKey(key)
	}
	if err != nil {
		return mtypes.E(mtypes.KindInvalidInput, "set "+key, value, err)
	}
	return nil
}

func unknownKey(key string) error {
	return mtypes.E(mtypes.KindInvalidInput, "settings", key,
		fmt.Errorf("unknown key, want one of %s", strings.Join(Keys(), ", ")))
}
