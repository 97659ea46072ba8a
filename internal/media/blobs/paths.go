// Package blobs implements sharded filesystem storage for image blobs.
// Originals and derived thumbnails live under separate roots; within a
// root, files are spread over a two-level shard directory derived from
// the blob's hex identifier so no single directory grows unbounded.
package blobs

import (
	"encoding/hex"
	"path"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/picdexapp/picdex-server/internal/errors"
)

// thumbSuffix is inserted before the extension of a derived thumbnail.
const thumbSuffix = "_thumb"

// Location identifies one blob inside a storage root.
type Location struct {
	ShardDir   string // two-level shard directory, e.g. "3f/9a"
	StoredName string // hex identifier + extension, e.g. "3f9a….jpg"
}

// RelativePath returns the slash-separated blob path under the storage root.
func (l Location) RelativePath() string {
	return path.Join(l.ShardDir, l.StoredName)
}

// Allocate picks a fresh storage location for a blob with the given file
// extension. A random 128-bit identifier is hex-encoded (32 characters);
// the first two and next two characters become the shard directories and
// the stored name is the full hex plus the lowercased extension.
// Safe for concurrent use; uniqueness comes from the identifier.
//
// Returns a validation error when the extension is empty — filenames
// without an extension are rejected before any allocation happens.
func Allocate(ext string) (Location, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || ext == "." {
		return Location{}, apperrors.Validation("filename has no extension")
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	u := uuid.New()
	return locationFor(hex.EncodeToString(u[:]), ext), nil
}

// locationFor is the deterministic part of allocation: the same hex
// identifier always yields the same shard coordinates.
func locationFor(hexID, ext string) Location {
	return Location{
		ShardDir:   path.Join(hexID[:2], hexID[2:4]),
		StoredName: hexID + ext,
	}
}

// ThumbName returns the stored name of the thumbnail derived from an
// original's stored name: "<hex>_thumb<ext>". Thumbnails share the
// original's shard directory, so the caller never needs a second lookup
// to pair them. Thumbnails are re-encoded; originals in formats without
// an encoder (webp) get a ".jpg" thumbnail so the name matches the bytes.
func ThumbName(storedName string) string {
	ext := path.Ext(storedName)
	stem := strings.TrimSuffix(storedName, ext)
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".gif":
	default:
		ext = ".jpg"
	}
	return stem + thumbSuffix + ext
}

// ThumbLocation returns the thumbnail location paired with an original.
func ThumbLocation(original Location) Location {
	return Location{
		ShardDir:   original.ShardDir,
		StoredName: ThumbName(original.StoredName),
	}
}
