package domain

import "time"

// Tag is a free-form label attached to images. Names match
// case-insensitively ("Birds" and "birds" are the same tag) and tags are
// created on first use. A tag with zero image links is an orphan and is
// garbage-collected by the operation that removed its last link.
type Tag struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`        // Display form as first entered
	ImageCount int       `json:"image_count"` // Denormalized count of images with this tag
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Touch updates the UpdatedAt timestamp.
func (t *Tag) Touch() {
	t.UpdatedAt = time.Now().UTC()
}

// ImageTag represents the many-to-many link between images and tags.
// It has no lifecycle of its own beyond its two endpoints existing.
type ImageTag struct {
	ImageID   string    `json:"image_id"`
	TagID     string    `json:"tag_id"`
	CreatedAt time.Time `json:"created_at"`
}
