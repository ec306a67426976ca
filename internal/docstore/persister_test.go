package docstore

import (
	"context"
	"io"
	"regexp"
	"testing"

	"gestloc/internal/intake"
	"gestloc/pkg/storage"
)

var keyPattern = regexp.MustCompile(`^candidatures/42/doc_3_[0-9a-f]{16}\.png$`)

func TestSaveWritesUnderGeneratedKey(t *testing.T) {
	ctx := context.Background()
	fs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	p, err := NewPersister(fs)
	if err != nil {
		t.Fatalf("persister: %v", err)
	}
	file := intake.Accepted{Data: []byte("\x89PNG\r\n\x1a\nrest"), MIME: "image/png", Ext: "png", Size: 12}
	key, err := p.Save(ctx, 42, 3, file)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !keyPattern.MatchString(key) {
		t.Fatalf("unexpected key %q", key)
	}
	rc, err := fs.Open(ctx, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != string(file.Data) {
		t.Fatalf("content mismatch")
	}

	if err := p.Remove(ctx, key); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := fs.Open(ctx, key); err != storage.ErrObjectNotFound {
		t.Fatalf("expected removed object, got %v", err)
	}
}

func TestKeysAreUnique(t *testing.T) {
	a, _ := Key(1, 1, "pdf")
	b, _ := Key(1, 1, "pdf")
	if a == b {
		t.Fatalf("expected random component to differ")
	}
}

func TestKeyRejectsBadInput(t *testing.T) {
	for _, tc := range []struct {
		id  int64
		seq int
		ext string
	}{
		{0, 1, "pdf"},
		{1, 0, "pdf"},
		{1, 1, "../x"},
		{1, 1, ""},
		{1, 1, "PDF"},
	} {
		if _, err := Key(tc.id, tc.seq, tc.ext); err == nil {
			t.Fatalf("expected error for %+v", tc)
		}
	}
}
