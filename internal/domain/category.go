package domain

import "time"

// Category groups uploaded images into a named collection.
// Deleting a category cascades to every image it owns.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`                  // Unique display name
	Description string `json:"description,omitempty"` // Optional description

	// ThumbnailPath is the relative thumbnail blob path of one of the
	// category's own images, or empty when unset. It must never dangle:
	// when the referenced image (or its thumbnail) goes away, this field
	// is cleared or reassigned in the same operation.
	ThumbnailPath string `json:"thumbnail_path,omitempty"`

	ImageCount int `json:"image_count"` // Denormalized count of images in this category

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch updates the UpdatedAt timestamp.
func (c *Category) Touch() {
	c.UpdatedAt = time.Now().UTC()
}
