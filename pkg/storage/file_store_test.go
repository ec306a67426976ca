package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStorePutOpenDelete(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	data := []byte("%PDF-1.4 test")
	key := "candidatures/7/doc_1_abcdef0123456789.pdf"
	if err := fs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}

	rc, err := fs.Open(ctx, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(got, data) {
		t.Fatalf("content mismatch: %q", got)
	}

	entries, err := os.ReadDir(filepath.Join(fs.Root(), "candidatures", "7"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the final file, got %d entries", len(entries))
	}

	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := fs.Open(ctx, key); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}

func TestFileStoreShortWriteLeavesNothing(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	key := "candidatures/1/doc_1_x.png"
	if err := fs.Put(ctx, key, bytes.NewReader([]byte("abc")), 10, "image/png"); err == nil {
		t.Fatalf("expected size mismatch error")
	}
	entries, _ := os.ReadDir(filepath.Join(fs.Root(), "candidatures", "1"))
	if len(entries) != 0 {
		t.Fatalf("expected no leftovers, got %d", len(entries))
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	for _, key := range []string{"", "/etc/passwd", "../outside", "a/../../b", `a\b`} {
		if err := fs.Put(ctx, key, bytes.NewReader(nil), 0, ""); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}
