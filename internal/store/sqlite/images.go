package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/picdexapp/picdex-server/internal/domain"
	"github.com/picdexapp/picdex-server/internal/store"
)

// imageColumns is the ordered list of columns selected in image queries.
// Must match the scan order in scanImage.
const imageColumns = `id, category_id, title, description, original_filename, stored_filename,
	relative_path, relative_thumb_path, mime_type, size_bytes, blur_hash, metadata,
	created_at, updated_at`

// scanImage scans a sql.Row (or sql.Rows via its Scan method) into a domain.Image.
// Tags are left nil; callers that need them attach them separately.
func scanImage(scanner interface{ Scan(dest ...any) error }) (*domain.Image, error) {
	var img domain.Image

	var (
		title     sql.NullString
		desc      sql.NullString
		thumbPath sql.NullString
		blurHash  sql.NullString
		metadata  sql.NullString
		createdAt string
		updatedAt string
	)

	err := scanner.Scan(
		&img.ID,
		&img.CategoryID,
		&title,
		&desc,
		&img.OriginalFilename,
		&img.StoredFilename,
		&img.RelativePath,
		&thumbPath,
		&img.MimeType,
		&img.SizeBytes,
		&blurHash,
		&metadata,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	img.Title = title.String
	img.Description = desc.String
	img.RelativeThumbPath = thumbPath.String
	img.BlurHash = blurHash.String

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &img.Metadata); err != nil {
			return nil, fmt.Errorf("decode image metadata: %w", err)
		}
	}

	img.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	img.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &img, nil
}

// encodeMetadata serializes the opaque metadata map, NULL when empty.
func encodeMetadata(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode image metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// CreateImage inserts a new image record. The owning category must
// exist; the original blob must already be on disk when this is called.
func (s *Store) CreateImage(ctx context.Context, img *domain.Image) error {
	metadata, err := encodeMetadata(img.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO images (id, category_id, title, description, original_filename, stored_filename,
			relative_path, relative_thumb_path, mime_type, size_bytes, blur_hash, metadata,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID,
		img.CategoryID,
		nullString(img.Title),
		nullString(img.Description),
		img.OriginalFilename,
		img.StoredFilename,
		img.RelativePath,
		nullString(img.RelativeThumbPath),
		img.MimeType,
		img.SizeBytes,
		nullString(img.BlurHash),
		metadata,
		formatTime(img.CreatedAt),
		formatTime(img.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return store.ErrNotFound.WithMessage("owning category not found")
		}
		return err
	}
	return nil
}

// GetImageByID retrieves an image by its ID, tags attached.
// Returns store.ErrNotFound if the image does not exist.
func (s *Store) GetImageByID(ctx context.Context, imageID string) (*domain.Image, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = ?`, imageID)

	img, err := scanImage(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	img.Tags, err = s.GetTagsForImage(ctx, img.ID)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// UpdateImage persists the mutable fields of an image record.
// Returns store.ErrNotFound if no row matched.
func (s *Store) UpdateImage(ctx context.Context, img *domain.Image) error {
	metadata, err := encodeMetadata(img.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE images
		SET category_id = ?, title = ?, description = ?, relative_thumb_path = ?,
			blur_hash = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		img.CategoryID,
		nullString(img.Title),
		nullString(img.Description),
		nullString(img.RelativeThumbPath),
		nullString(img.BlurHash),
		metadata,
		formatTime(img.UpdatedAt),
		img.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return store.ErrNotFound.WithMessage("owning category not found")
		}
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteImageWithLinks removes an image row together with its tag links
// in one transaction. Returns the IDs of the tags that were linked, so
// the caller can sweep the ones this delete orphaned.
// Deleting an absent image is not an error; it returns no tag IDs.
func (s *Store) DeleteImageWithLinks(ctx context.Context, imageID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT tag_id FROM image_tags WHERE image_id = ?`, imageID)
	if err != nil {
		return nil, fmt.Errorf("query image tags: %w", err)
	}
	var tagIDs []string
	for rows.Next() {
		var tagID string
		if err := rows.Scan(&tagID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan tag id: %w", err)
		}
		tagIDs = append(tagIDs, tagID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM image_tags WHERE image_id = ?`, imageID); err != nil {
		return nil, fmt.Errorf("delete image tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM images WHERE id = ?`, imageID); err != nil {
		return nil, fmt.Errorf("delete image: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return tagIDs, nil
}

// ListImagesByCategory returns a page of images in a category, newest
// first. Fetches one row beyond the limit so the caller can tell whether
// more pages exist.
func (s *Store) ListImagesByCategory(ctx context.Context, categoryID string, page store.PaginationParams) ([]*domain.Image, error) {
	page.Validate()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images
		WHERE category_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		categoryID, page.Limit+1, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.collectImages(ctx, rows)
}

// ListImages returns a page over the whole catalog, newest first.
func (s *Store) ListImages(ctx context.Context, page store.PaginationParams) ([]*domain.Image, error) {
	page.Validate()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		page.Limit+1, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.collectImages(ctx, rows)
}

// ListImagesByTagIDs returns a page of images linked to the given tags,
// newest first. With matchAll, an image qualifies only when it is linked
// to every requested tag (count of distinct matching links equals the
// size of the requested set); otherwise one match suffices, with
// duplicates suppressed by the grouping.
func (s *Store) ListImagesByTagIDs(ctx context.Context, tagIDs []string, matchAll bool, page store.PaginationParams) ([]*domain.Image, error) {
	page.Validate()

	if len(tagIDs) == 0 {
		return []*domain.Image{}, nil
	}

	placeholders := strings.Repeat("?,", len(tagIDs))
	placeholders = placeholders[:len(placeholders)-1]

	query := `SELECT ` + prefixColumns("i.") + ` FROM images i
		JOIN image_tags it ON it.image_id = i.id
		WHERE it.tag_id IN (` + placeholders + `)
		GROUP BY i.id`
	args := make([]any, 0, len(tagIDs)+3)
	for _, id := range tagIDs {
		args = append(args, id)
	}
	if matchAll {
		query += ` HAVING COUNT(DISTINCT it.tag_id) = ?`
		args = append(args, len(tagIDs))
	}
	query += ` ORDER BY i.created_at DESC, i.id DESC LIMIT ? OFFSET ?`
	args = append(args, page.Limit+1, page.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.collectImages(ctx, rows)
}

// prefixColumns qualifies imageColumns with a table alias for joins.
func prefixColumns(prefix string) string {
	parts := strings.Split(imageColumns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// collectImages drains rows into image records and attaches their tags.
func (s *Store) collectImages(ctx context.Context, rows *sql.Rows) ([]*domain.Image, error) {
	var images []*domain.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, img := range images {
		tags, err := s.GetTagsForImage(ctx, img.ID)
		if err != nil {
			return nil, err
		}
		img.Tags = tags
	}

	if images == nil {
		images = []*domain.Image{}
	}
	return images, nil
}
