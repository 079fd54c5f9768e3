package blob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"teacher-agent/internal/domain"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), "/media/", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return s
}

func TestLocalStorePut(t *testing.T) {
	s := newTestStore(t)
	data := []byte{0x89, 'P', 'N', 'G'}

	url, err := s.Put(context.Background(), "educational_images/cell_20240101_120000_abcd1234.png", data, "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "/media/educational_images/cell_20240101_120000_abcd1234.png" {
		t.Errorf("url = %q", url)
	}

	got, err := os.ReadFile(filepath.Join(s.Root(), "educational_images", "cell_20240101_120000_abcd1234.png"))
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("stored %v, want %v", got, data)
	}
}

func TestLocalStorePutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "a.txt", []byte("one"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "a.txt", []byte("two"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(filepath.Join(s.Root(), "a.txt"))
	if string(got) != "two" {
		t.Errorf("content = %q, want two", got)
	}

	entries, _ := os.ReadDir(s.Root())
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestLocalStoreRejectsBadKeys(t *testing.T) {
	s := newTestStore(t)
	for _, key := range []string{"", "  ", "../escape.png", "a/../../b.png", "/abs.png", `..\win.png`} {
		t.Run(key, func(t *testing.T) {
			_, err := s.Put(context.Background(), key, []byte("x"), "image/png")
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("Put(%q) error = %v, want ErrInvalidInput", key, err)
			}
		})
	}
}

func TestLocalStoreCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, "a.png", []byte("x"), "image/png"); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestLocalStoreWriteFailure(t *testing.T) {
	s := newTestStore(t)
	// A regular file where a directory is needed makes MkdirAll fail.
	if err := os.WriteFile(filepath.Join(s.Root(), "taken"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := s.Put(context.Background(), "taken/a.png", []byte("x"), "image/png")
	if !errors.Is(err, domain.ErrBlobStore) {
		t.Errorf("error = %v, want ErrBlobStore", err)
	}
}
