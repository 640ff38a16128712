package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/storage"
)

func TestLoadSave(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(0)

	s, err := Load(ctx, store)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s != Default() {
		t.Errorf("Load on empty store = %+v, want defaults", s)
	}

	s.Volume = 0.25
	s.Loop = LoopRandom
	if err := Save(ctx, store, s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := Load(ctx, store)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != s {
		t.Errorf("Load = %+v, want %+v", got, s)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(0)
	if err := store.Set(ctx, storage.SettingsKey, []byte("nope")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s, err := Load(ctx, store)
	if !errors.Is(err, mtypes.ErrCorruptRecord) {
		t.Errorf("Load error = %v, want corrupt record", err)
	}
	if s != Default() {
		t.Errorf("Load = %+v, want defaults", s)
	}
}

func TestSetGet(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{"volume", "0.5", false},
		{"muted", "true", false},
		{"loop", "ONE", false},
		{"focusMinutes", "50", false},
		{"volume", "loud", true},
		{"breakMinutes", "x", true},
		{"color", "red", true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			s := Default()
			err := s.Set(tt.key, tt.value)
			if tt.wantErr {
				if !errors.Is(err, mtypes.ErrInvalidInput) {
					t.Errorf("Set error = %v, want invalid input", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			got, err := s.Get(tt.key)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if tt.key == "loop" && got != "one" {
				t.Errorf("loop = %q, want one", got)
			} else if tt.key != "loop" && got != tt.value {
				t.Errorf("%s = %q, want %q", tt.key, got, tt.value)
			}
		})
	}
}

func TestSave_Validates(t *testing.T) {
	s := Default()
	s.Volume = 2
	if err := Save(context.Background(), storage.NewMemoryStore(0), s); !errors.Is(err, mtypes.ErrInvalidInput) {
		t.Errorf("Save error = %v, want invalid input", err)
	}
}
