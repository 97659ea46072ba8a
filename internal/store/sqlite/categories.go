package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/picdexapp/picdex-server/internal/domain"
	"github.com/picdexapp/picdex-server/internal/store"
)

// categoryColumns is the ordered list of columns selected in category
// queries. Must match the scan order in scanCategory. The image count is
// computed per row so list responses can show it without extra queries.
const categoryColumns = `c.id, c.name, c.description, c.thumbnail_path, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM images i WHERE i.category_id = c.id)`

// scanCategory scans a sql.Row (or sql.Rows via its Scan method) into a domain.Category.
func scanCategory(scanner interface{ Scan(dest ...any) error }) (*domain.Category, error) {
	var c domain.Category

	var (
		description   sql.NullString
		thumbnailPath sql.NullString
		createdAt     string
		updatedAt     string
	)

	err := scanner.Scan(
		&c.ID,
		&c.Name,
		&description,
		&thumbnailPath,
		&createdAt,
		&updatedAt,
		&c.ImageCount,
	)
	if err != nil {
		return nil, err
	}

	c.Description = description.String
	c.ThumbnailPath = thumbnailPath.String

	c.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	c.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// CreateCategory inserts a new category.
// Returns store.ErrAlreadyExists on duplicate name.
func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, description, thumbnail_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.Name,
		nullString(c.Description),
		nullString(c.ThumbnailPath),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetCategoryByID retrieves a category by its ID.
// Returns store.ErrNotFound if the category does not exist.
func (s *Store) GetCategoryByID(ctx context.Context, categoryID string) (*domain.Category, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories c WHERE c.id = ?`, categoryID)

	c, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetCategoryByName retrieves a category by its exact name.
// Returns store.ErrNotFound if the category does not exist.
func (s *Store) GetCategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories c WHERE c.name = ?`, name)

	c, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories c ORDER BY c.name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []*domain.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if categories == nil {
		categories = []*domain.Category{}
	}

	return categories, nil
}

// UpdateCategory persists name, description, thumbnail path, and
// updated_at for an existing category.
// Returns store.ErrNotFound if no row matched and store.ErrAlreadyExists
// if the new name collides with another category.
func (s *Store) UpdateCategory(ctx context.Context, c *domain.Category) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE categories
		SET name = ?, description = ?, thumbnail_path = ?, updated_at = ?
		WHERE id = ?`,
		c.Name,
		nullString(c.Description),
		nullString(c.ThumbnailPath),
		formatTime(c.UpdatedAt),
		c.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
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

// SetCategoryThumbnail sets or clears (empty path) a category's
// thumbnail reference.
func (s *Store) SetCategoryThumbnail(ctx context.Context, categoryID, thumbPath string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE categories SET thumbnail_path = ?, updated_at = ? WHERE id = ?`,
		nullString(thumbPath),
		formatTime(nowUTC()),
		categoryID,
	)
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
	return nil
}

// ClearCategoryThumbnailIf clears the category's thumbnail reference
// only when it currently equals thumbPath. Used when an image (or its
// thumbnail) goes away so the reference never dangles; the conditional
// update keeps the check-and-clear atomic under concurrent writers.
func (s *Store) ClearCategoryThumbnailIf(ctx context.Context, categoryID, thumbPath string) (bool, error) {
	if thumbPath == "" {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE categories SET thumbnail_path = NULL, updated_at = ?
		WHERE id = ? AND thumbnail_path = ?`,
		formatTime(nowUTC()),
		categoryID,
		thumbPath,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteCategoryCascade removes a category together with all its member
// images and their tag links in one transaction. Blob deletion is the
// caller's job and must have been attempted before this commits.
// Returns store.ErrNotFound if the category does not exist.
func (s *Store) DeleteCategoryCascade(ctx context.Context, categoryID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM image_tags
		WHERE image_id IN (SELECT id FROM images WHERE category_id = ?)`, categoryID); err != nil {
		return fmt.Errorf("delete member image tags: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM images WHERE category_id = ?`, categoryID); err != nil {
		return fmt.Errorf("delete member images: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, categoryID)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
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
