package domain

import "time"

// Image is a catalog record for one uploaded picture. The record is only
// created after the original blob is durably on disk; the thumbnail
// reference stays empty when derivation failed.
type Image struct {
	ID         string `json:"id"`
	CategoryID string `json:"category_id"` // Owning category, always set

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// Blob references. Paths are relative to the originals/thumbnails
	// storage roots; URL construction is up to the HTTP layer.
	OriginalFilename  string `json:"original_filename"` // Name the uploader claimed
	StoredFilename    string `json:"stored_filename"`   // Hex identifier + extension
	RelativePath      string `json:"relative_path"`     // aa/bb/<hex><ext>
	RelativeThumbPath string `json:"relative_thumbnail_path,omitempty"`

	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	BlurHash  string `json:"blur_hash,omitempty"` // Placeholder hash computed from the thumbnail

	// Metadata is an opaque key-value blob (EXIF or similar) attached
	// verbatim at ingestion. The catalog never interprets it.
	Metadata map[string]any `json:"metadata,omitempty"`

	Tags []*Tag `json:"tags,omitempty"` // Populated by queries that join tags

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch updates the UpdatedAt timestamp.
func (i *Image) Touch() {
	i.UpdatedAt = time.Now().UTC()
}

// HasThumbnail reports whether thumbnail derivation succeeded for this image.
func (i *Image) HasThumbnail() bool {
	return i.RelativeThumbPath != ""
}

// TagIDs returns the IDs of the attached tags.
func (i *Image) TagIDs() []string {
	ids := make([]string, 0, len(i.Tags))
	for _, t := range i.Tags {
		ids = append(ids, t.ID)
	}
	return ids
}
