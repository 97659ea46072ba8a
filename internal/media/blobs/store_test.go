package blobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/picdexapp/picdex-server/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "originals"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestNewStore_EmptyRoot(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestWriteAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Write(ctx, "aa/bb/blob.jpg", strings.NewReader("hello blob"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != int64(len("hello blob")) {
		t.Errorf("bytes written: got %d, want %d", n, len("hello blob"))
	}

	if !s.Exists("aa/bb/blob.jpg") {
		t.Error("blob should exist after write")
	}

	size, err := s.Size("aa/bb/blob.jpg")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != n {
		t.Errorf("Size: got %d, want %d", size, n)
	}

	f, err := s.Open("aa/bb/blob.jpg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	data := make([]byte, size)
	if _, err := f.Read(data); err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if string(data) != "hello blob" {
		t.Errorf("content: got %q", data)
	}
}

func TestWrite_LeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Write(context.Background(), "cc/dd/x.png", strings.NewReader("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(s.Root(), "cc", "dd"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".upload-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWrite_CancelledContext(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Write(ctx, "aa/bb/cancelled.jpg", strings.NewReader("data"))
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if s.Exists("aa/bb/cancelled.jpg") {
		t.Error("cancelled write must not leave a blob")
	}

	// No temp files either.
	entries, _ := os.ReadDir(filepath.Join(s.Root(), "aa", "bb"))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".upload-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestDelete_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Write(ctx, "aa/bb/gone.jpg", strings.NewReader("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.Delete("aa/bb/gone.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists("aa/bb/gone.jpg") {
		t.Error("blob should be gone")
	}

	// Second delete of the same path succeeds.
	if err := s.Delete("aa/bb/gone.jpg"); err != nil {
		t.Fatalf("repeated Delete: %v", err)
	}

	// Deleting a never-written path succeeds too.
	if err := s.Delete("zz/zz/never.jpg"); err != nil {
		t.Fatalf("Delete of absent blob: %v", err)
	}
}

func TestPathEscape(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	escapes := []string{
		"../outside.jpg",
		"aa/../../outside.jpg",
		"aa/bb/../../../etc/passwd",
	}

	for _, rel := range escapes {
		if _, err := s.Write(ctx, rel, strings.NewReader("x")); !errors.Is(err, apperrors.ErrPathEscape) {
			t.Errorf("Write(%q): expected path escape error, got %v", rel, err)
		}
		if err := s.Delete(rel); !errors.Is(err, apperrors.ErrPathEscape) {
			t.Errorf("Delete(%q): expected path escape error, got %v", rel, err)
		}
		if s.Exists(rel) {
			t.Errorf("Exists(%q): escaping path must not report existence", rel)
		}
	}
}

func TestSize_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Size("aa/bb/missing.jpg")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found error, got %v", err)
	}
}
