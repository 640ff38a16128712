package meting

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/storage"
)

const playlistPayload = `[
	{"title":"千本桜","author":"黒うさP","url":"https://m/1.mp3","pic":"https://p/1.jpg","lrc":"https://l/1"},
	{"name":"Fallback","artist":"Someone","url":"https://m/2.mp3","cover":"https://p/2.jpg"},
	{"title":"","name":"Named","url":"https://m/3.mp3"}
]`

func TestFetch_MapsFields(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{"server": q.Get("server"), "type": q.Get("type"), "id": q.Get("id")}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(playlistPayload)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(Config{API: srv.URL + "/meting/", HTTPClient: srv.Client()})
	songs, err := c.Fetch(context.Background(), "tencent", "123")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	want := map[string]string{"server": "tencent", "type": "playlist", "id": "123"}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}

	if len(songs) != 3 {
		t.Fatalf("songs = %d, want 3", len(songs))
	}
	first := mtypes.Song{Name: "千本桜", Artist: "黒うさP", URL: "https://m/1.mp3", Cover: "https://p/1.jpg", Lyrics: "https://l/1"}
	if songs[0] != first {
		t.Errorf("songs[0] = %+v, want %+v", songs[0], first)
	}
	if songs[1].Name != "Fallback" || songs[1].Artist != "Someone" || songs[1].Cover != "https://p/2.jpg" {
		t.Errorf("songs[1] = %+v", songs[1])
	}
	if songs[2].Name != "Named" {
		t.Errorf("songs[2].Name = %q, want Named", songs[2].Name)
	}
}

func TestFetch_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"server error", http.StatusBadGateway, `[]`},
		{"invalid json", http.StatusOK, `[{`},
		{"not a list", http.StatusOK, `{"error":"rate limited"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.payload)) //nolint:errcheck
			}))
			defer srv.Close()

			c := NewClient(Config{API: srv.URL, HTTPClient: srv.Client()})
			_, err := c.Fetch(context.Background(), "netease", "1")
			if !errors.Is(err, mtypes.ErrTransportFailure) {
				t.Errorf("Fetch error = %v, want transport failure", err)
			}

			if songs := c.FetchPlaylist(context.Background(), "netease", "1"); songs == nil || len(songs) != 0 {
				t.Errorf("FetchPlaylist = %v, want empty slice", songs)
			}
		})
	}
}

func TestStoredConfig(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(0)

	if cfg := LoadStoredConfig(ctx, store); cfg.Platform != DefaultPlatform || cfg.ID != DefaultPlaylistID {
		t.Errorf("default config = %+v", cfg)
	}

	if err := SaveConfig(ctx, store, "kuwo", "999"); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if cfg := LoadStoredConfig(ctx, store); cfg.Platform != "kuwo" {
		t.Errorf("Platform = %q, want kuwo", cfg.Platform)
	}
	if v, _, _ := store.Get(ctx, storage.MusicIDKey); string(v) != "999" {
		t.Errorf("music_id = %q, want 999", v)
	}
}

func TestValidPlatform(t *testing.T) {
	for _, p := range []string{"netease", "tencent", "kugou", "kuwo"} {
		if !ValidPlatform(p) {
			t.Errorf("%s should be valid", p)
		}
	}
	if ValidPlatform("spotify") {
		t.Error("spotify should not be valid")
	}
}
