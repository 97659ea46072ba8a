package blobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/picdexapp/picdex-server/internal/errors"
)

// Store manages blob files under a single root directory.
// Thread-safe for concurrent operations. Every path handed to a Store is
// relative to its root; paths that resolve outside the root are rejected.
type Store struct {
	root string
}

// NewStore creates a blob store rooted at the given directory, creating
// it if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &Store{root: abs}, nil
}

// Root returns the absolute root directory of the store.
func (s *Store) Root() string {
	return s.root
}

// FullPath resolves a relative blob path against the root.
// Fails with a path escape error when the resolved path would land
// outside the root — a defensive check against malformed shard
// computation or traversal sequences in stored names.
func (s *Store) FullPath(rel string) (string, error) {
	if rel == "" {
		return "", apperrors.Validation("blob path cannot be empty")
	}

	full := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(rel)))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", apperrors.PathEscape(fmt.Sprintf("blob path %q escapes storage root", rel))
	}
	return full, nil
}

// Write streams r to the blob at rel, creating parent directories as
// needed, and returns the number of bytes written. Data goes to a
// temporary file in the target directory first and is renamed into
// place, so a crash mid-write leaves either no file or a complete one.
// Cancellation counts as failure: the temporary file is removed.
func (s *Store) Write(ctx context.Context, rel string, r io.Reader) (int64, error) {
	full, err := s.FullPath(rel)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, apperrors.Wrapf(err, apperrors.CodeIOFailure, "create shard directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeIOFailure, "create temp file")
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := ctx.Err(); err != nil {
		cleanup()
		return 0, apperrors.Wrap(err, apperrors.CodeIOFailure, "write cancelled")
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return 0, apperrors.Wrapf(err, apperrors.CodeIOFailure, "write blob %s", rel)
	}

	if err := ctx.Err(); err != nil {
		cleanup()
		return 0, apperrors.Wrap(err, apperrors.CodeIOFailure, "write cancelled")
	}

	// Rename is the durability boundary.
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, apperrors.Wrapf(err, apperrors.CodeIOFailure, "sync blob %s", rel)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, apperrors.Wrapf(err, apperrors.CodeIOFailure, "close blob %s", rel)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return 0, apperrors.Wrapf(err, apperrors.CodeIOFailure, "rename blob into place %s", rel)
	}

	return n, nil
}

// Delete removes the blob at rel if present. Deleting an already-absent
// blob is not an error — cascades may enumerate the same blob twice
// under retry and deletion must stay safe to repeat.
func (s *Store) Delete(rel string) error {
	full, err := s.FullPath(rel)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.Wrapf(err, apperrors.CodeIOFailure, "delete blob %s", rel)
	}
	return nil
}

// Exists reports whether a blob is present at rel.
func (s *Store) Exists(rel string) bool {
	full, err := s.FullPath(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}

// Size returns the byte size of the blob at rel.
func (s *Store) Size(rel string) (int64, error) {
	full, err := s.FullPath(rel)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, apperrors.NotFoundf("blob %s not found", rel)
		}
		return 0, apperrors.Wrapf(err, apperrors.CodeIOFailure, "stat blob %s", rel)
	}
	return info.Size(), nil
}

// Open opens the blob at rel for reading.
func (s *Store) Open(rel string) (*os.File, error) {
	full, err := s.FullPath(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFoundf("blob %s not found", rel)
		}
		return nil, apperrors.Wrapf(err, apperrors.CodeIOFailure, "open blob %s", rel)
	}
	return f, nil
}
