package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/picdexapp/picdex-server/internal/domain"
	"github.com/picdexapp/picdex-server/internal/id"
	"github.com/picdexapp/picdex-server/internal/normalize"
	"github.com/picdexapp/picdex-server/internal/store"
)

// tagColumns is the ordered list of columns selected in tag queries.
// Must match the scan order in scanTag. The image count is computed per
// row so listings can show it without extra queries.
const tagColumns = `t.id, t.name, t.created_at, t.updated_at,
	(SELECT COUNT(*) FROM image_tags it WHERE it.tag_id = t.id)`

// scanTag scans a sql.Row (or sql.Rows via its Scan method) into a domain.Tag.
func scanTag(scanner interface{ Scan(dest ...any) error }) (*domain.Tag, error) {
	var t domain.Tag

	var (
		createdAt string
		updatedAt string
	)

	err := scanner.Scan(
		&t.ID,
		&t.Name,
		&createdAt,
		&updatedAt,
		&t.ImageCount,
	)
	if err != nil {
		return nil, err
	}

	t.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	t.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// CreateTag inserts a new tag. Names are unique case-insensitively via
// the folded column. Returns store.ErrAlreadyExists on a duplicate.
func (s *Store) CreateTag(ctx context.Context, t *domain.Tag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, name, name_fold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID,
		t.Name,
		normalize.FoldTagName(t.Name),
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetTagByID retrieves a tag by its ID.
// Returns store.ErrNotFound if the tag does not exist.
func (s *Store) GetTagByID(ctx context.Context, tagID string) (*domain.Tag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags t WHERE t.id = ?`, tagID)

	t, err := scanTag(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTagByName retrieves a tag by name, matching case-insensitively.
// Returns store.ErrNotFound if the tag does not exist.
func (s *Store) GetTagByName(ctx context.Context, name string) (*domain.Tag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags t WHERE t.name_fold = ?`,
		normalize.FoldTagName(name))

	t, err := scanTag(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTags returns all tags ordered case-insensitively by name.
func (s *Store) ListTags(ctx context.Context) ([]*domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tagColumns+` FROM tags t ORDER BY t.name_fold ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []*domain.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if tags == nil {
		tags = []*domain.Tag{}
	}

	return tags, nil
}

// FindOrCreateTagByName finds an existing tag by case-insensitive name
// or creates a new one carrying the caller's spelling as display form.
// Returns (tag, created, error) where created is true if a new tag was made.
func (s *Store) FindOrCreateTagByName(ctx context.Context, name string) (*domain.Tag, bool, error) {
	name = normalize.TagName(name)
	if name == "" {
		return nil, false, store.ErrInvalidInput.WithMessage("tag name is empty")
	}

	// Try to find existing tag first.
	existing, err := s.GetTagByName(ctx, name)
	if err == nil {
		return existing, false, nil
	}
	if err != store.ErrNotFound {
		return nil, false, err
	}

	// Tag doesn't exist, create it.
	tagID, err := id.Generate("tag")
	if err != nil {
		return nil, false, fmt.Errorf("generate tag id: %w", err)
	}

	now := nowUTC()
	t := &domain.Tag{
		ID:        tagID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.CreateTag(ctx, t); err != nil {
		if err == store.ErrAlreadyExists {
			// Race condition: another goroutine created it.
			existing, err := s.GetTagByName(ctx, name)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	return t, true, nil
}

// ReplaceImageTags resolves each name via find-or-create, then replaces
// the image's link set in a single transaction: delete existing rows,
// insert the new set. Returns the resolved tags in input order with
// duplicates and blank names dropped. The caller is responsible for
// sweeping any tags the replacement orphaned.
func (s *Store) ReplaceImageTags(ctx context.Context, imageID string, tagNames []string) ([]*domain.Tag, error) {
	tags := make([]*domain.Tag, 0, len(tagNames))
	seen := make(map[string]bool, len(tagNames))
	for _, name := range tagNames {
		if normalize.TagName(name) == "" {
			continue
		}
		t, _, err := s.FindOrCreateTagByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		tags = append(tags, t)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Delete existing links for this image.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM image_tags WHERE image_id = ?`, imageID); err != nil {
		return nil, fmt.Errorf("delete image_tags: %w", err)
	}

	// Insert new tag associations.
	now := formatTime(nowUTC())
	for _, t := range tags {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO image_tags (image_id, tag_id, created_at)
			VALUES (?, ?, ?)`,
			imageID,
			t.ID,
			now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert image_tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return tags, nil
}

// GetTagsForImage returns the tags attached to an image, ordered
// case-insensitively by name.
func (s *Store) GetTagsForImage(ctx context.Context, imageID string) ([]*domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tagColumns+` FROM tags t
		JOIN image_tags it ON it.tag_id = t.id
		WHERE it.image_id = ?
		ORDER BY t.name_fold ASC`, imageID)
	if err != nil {
		return nil, fmt.Errorf("query image tags: %w", err)
	}
	defer rows.Close()

	var tags []*domain.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tags, nil
}

// GetImageTagIDs returns the tag IDs linked to an image.
func (s *Store) GetImageTagIDs(ctx context.Context, imageID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag_id FROM image_tags WHERE image_id = ?`, imageID)
	if err != nil {
		return nil, fmt.Errorf("query image_tags: %w", err)
	}
	defer rows.Close()

	var tagIDs []string
	for rows.Next() {
		var tagID string
		if err := rows.Scan(&tagID); err != nil {
			return nil, fmt.Errorf("scan image_tag: %w", err)
		}
		tagIDs = append(tagIDs, tagID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return tagIDs, nil
}

// ResolveTagIDsByNames maps tag names to IDs, case-insensitively.
// Names with no matching tag are simply absent from the result.
func (s *Store) ResolveTagIDsByNames(ctx context.Context, names []string) ([]string, error) {
	var ids []string
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		t, err := s.GetTagByName(ctx, name)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// SweepOrphanTags deletes every candidate tag that no longer has any
// image links. Called after any operation that may have removed the
// last link to a tag. Returns the number of tags removed.
func (s *Store) SweepOrphanTags(ctx context.Context, candidateTagIDs []string) (int, error) {
	deleted := 0
	for _, tagID := range candidateTagIDs {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM tags
			WHERE id = ?
			AND NOT EXISTS (SELECT 1 FROM image_tags WHERE tag_id = ?)`,
			tagID, tagID)
		if err != nil {
			return deleted, fmt.Errorf("sweep tag %s: %w", tagID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
	}
	return deleted, nil
}

// DeleteTag removes a tag by ID. Refuses with store.ErrConflict while
// any image still references it.
func (s *Store) DeleteTag(ctx context.Context, tagID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var links int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM image_tags WHERE tag_id = ?`, tagID).Scan(&links); err != nil {
		return err
	}
	if links > 0 {
		return store.ErrConflict.WithMessage("tag is still referenced by images")
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, tagID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}

	return tx.Commit()
}
