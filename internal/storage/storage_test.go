package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/dgnsrekt/studybeats/internal/mtypes"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	disk, err := NewDiskStore(t.TempDir(), 4096, 3)
	if err != nil {
		t.Fatalf("Failed to create disk store: %v", err)
	}
	t.Cleanup(func() { _ = disk.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(4096),
		"disk":   disk,
	}
}

func TestStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, "b", []byte("two")); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := s.Set(ctx, "a", []byte("one")); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			v, ok, err := s.Get(ctx, "a")
			if err != nil || !ok {
				t.Fatalf("Get failed: ok=%v err=%v", ok, err)
			}
			if string(v) != "one" {
				t.Errorf("Get = %q, want %q", v, "one")
			}

			keys, _ := s.Keys(ctx)
			if strings.Join(keys, ",") != "a,b" {
				t.Errorf("Keys = %v, want [a b]", keys)
			}

			if err := s.Remove(ctx, "a"); err != nil {
				t.Fatalf("Remove failed: %v", err)
			}
			if err := s.Remove(ctx, "missing"); err != nil {
				t.Errorf("Remove of missing key failed: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "a"); ok {
				t.Error("Key still exists after remove")
			}
		})
	}
}

func TestStore_QuotaRejectsWithoutEviction(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, "keep", make([]byte, 3000)); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			err := s.Set(ctx, "big", make([]byte, 2000))
			if !errors.Is(err, mtypes.ErrQuotaExceeded) {
				t.Fatalf("Set error = %v, want quota exceeded", err)
			}

			if _, ok, _ := s.Get(ctx, "keep"); !ok {
				t.Error("existing key was evicted")
			}
			if _, ok, _ := s.Get(ctx, "big"); ok {
				t.Error("rejected key was stored")
			}

			// Overwriting an existing key only counts the delta
			if err := s.Set(ctx, "keep", make([]byte, 4000)); err != nil {
				t.Errorf("overwrite within quota failed: %v", err)
			}
		})
	}
}

func TestDiskStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ds, err := NewDiskStore(dir, 0, 3)
	if err != nil {
		t.Fatalf("Failed to create disk store: %v", err)
	}

	large := bytes.Repeat([]byte("playlist "), 500)
	if err := ds.Set(ctx, "large", large); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewDiskStore(dir, 0, 0)
	if err != nil {
		t.Fatalf("Failed to reopen disk store: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.Get(ctx, "large")
	if err != nil || !ok {
		t.Fatalf("Get after reopen failed: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v, large) {
		t.Error("value mismatch after reopen")
	}
	if u := reopened.Usage(); u.Used != int64(len(large)) {
		t.Errorf("Usage.Used = %d, want %d", u.Used, len(large))
	}
}

func TestDiskStore_MissingFileIsMiss(t *testing.T) {
	ctx := context.Background()
	ds, err := NewDiskStore(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatalf("Failed to create disk store: %v", err)
	}
	defer ds.Close()

	_ = ds.Set(ctx, "gone", []byte("x"))
	if err := os.Remove(ds.generateFilePath("gone")); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	if _, ok, err := ds.Get(ctx, "gone"); ok || err != nil {
		t.Errorf("Get = ok %v err %v, want miss", ok, err)
	}
	keys, _ := ds.Keys(ctx)
	if len(keys) != 0 {
		t.Errorf("Keys = %v, want empty", keys)
	}
}

func TestKey_NoAliasing(t *testing.T) {
	tests := []struct {
		a, b [2]string
	}{
		{[2]string{"a:b", "c"}, [2]string{"a", "b:c"}},
		{[2]string{"a%3Ab", "c"}, [2]string{"a:b", "c"}},
		{[2]string{"", "x"}, [2]string{"x", ""}},
	}
	for _, tt := range tests {
		ka := PlaylistKey(tt.a[0], tt.a[1])
		kb := PlaylistKey(tt.b[0], tt.b[1])
		if ka == kb {
			t.Errorf("keys alias: %v and %v both map to %q", tt.a, tt.b, ka)
		}
	}

	if got := PlaylistKey("netease", "17543418420"); got != "meting_playlist_cache:netease:17543418420" {
		t.Errorf("PlaylistKey = %q", got)
	}
	if got := PrefetchKey("local", "local"); got != "meting_playlist_prefetch:local:local" {
		t.Errorf("PrefetchKey = %q", got)
	}
}
