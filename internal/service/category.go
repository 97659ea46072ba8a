// Package service provides the business logic layer coordinating the
// catalog store and the blob stores. Services sequence cross-store
// effects so the catalog never references a blob that was not durably
// written, and blobs are removed before the rows that point at them.
package service

import (
	"context"
	"log/slog"

	"github.com/picdexapp/picdex-server/internal/domain"
	apperrors "github.com/picdexapp/picdex-server/internal/errors"
	"github.com/picdexapp/picdex-server/internal/id"
	"github.com/picdexapp/picdex-server/internal/media/blobs"
	"github.com/picdexapp/picdex-server/internal/store"
	"github.com/picdexapp/picdex-server/internal/store/sqlite"
	"github.com/picdexapp/picdex-server/internal/validation"
)

// CategoryService orchestrates category lifecycle, including the
// cascade that removes a category together with all member images.
type CategoryService struct {
	store     *sqlite.Store
	originals *blobs.Store
	thumbs    *blobs.Store
	validator *validation.Validator
	logger    *slog.Logger
}

// NewCategoryService creates a new category service.
func NewCategoryService(
	catalog *sqlite.Store,
	originals *blobs.Store,
	thumbs *blobs.Store,
	validator *validation.Validator,
	logger *slog.Logger,
) *CategoryService {
	return &CategoryService{
		store:     catalog,
		originals: originals,
		thumbs:    thumbs,
		validator: validator,
		logger:    logger,
	}
}

// CreateCategoryRequest carries the fields for a new category.
type CreateCategoryRequest struct {
	Name        string `json:"name" validate:"required,max=50"`
	Description string `json:"description" validate:"max=300"`
}

// CategoryUpdate carries optional field updates; nil means unchanged.
type CategoryUpdate struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=50"`
	Description *string `json:"description" validate:"omitempty,max=300"`
}

// Create makes a new category with a unique name.
func (s *CategoryService) Create(ctx context.Context, req CreateCategoryRequest) (*domain.Category, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	categoryID, err := id.Generate("cat")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "generate category id")
	}

	now := nowUTC()
	c := &domain.Category{
		ID:          categoryID,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateCategory(ctx, c); err != nil {
		if apperrors.Is(err, store.ErrAlreadyExists) {
			return nil, apperrors.AlreadyExistsf("category name %q already in use", req.Name)
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "create category")
	}

	s.logger.Info("category created", "id", c.ID, "name", c.Name)
	return c, nil
}

// Get returns one category by ID.
func (s *CategoryService) Get(ctx context.Context, categoryID string) (*domain.Category, error) {
	c, err := s.store.GetCategoryByID(ctx, categoryID)
	if err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFoundf("category %s not found", categoryID)
		}
		return nil, err
	}
	return c, nil
}

// List returns all categories ordered by name.
func (s *CategoryService) List(ctx context.Context) ([]*domain.Category, error) {
	return s.store.ListCategories(ctx)
}

// Update applies the non-nil fields of upd to an existing category.
func (s *CategoryService) Update(ctx context.Context, categoryID string, upd CategoryUpdate) (*domain.Category, error) {
	if err := s.validator.Validate(upd); err != nil {
		return nil, err
	}

	c, err := s.Get(ctx, categoryID)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.Description != nil {
		c.Description = *upd.Description
	}
	c.Touch()

	if err := s.store.UpdateCategory(ctx, c); err != nil {
		if apperrors.Is(err, store.ErrAlreadyExists) {
			return nil, apperrors.AlreadyExistsf("category name %q already in use", c.Name)
		}
		if apperrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFoundf("category %s not found", categoryID)
		}
		return nil, err
	}

	s.logger.Info("category updated", "id", c.ID)
	return c, nil
}

// Delete removes a category and cascades over every member image:
// blobs are deleted first, then all rows go in one transaction, then
// tags orphaned by the cascade are swept. Blob deletion failures other
// than absence abort before any catalog rows are touched.
func (s *CategoryService) Delete(ctx context.Context, categoryID string) error {
	if _, err := s.Get(ctx, categoryID); err != nil {
		return err
	}

	// Enumerate every member image; page until exhausted.
	var members []*domain.Image
	page := store.PaginationParams{Limit: 500}
	for {
		batch, err := s.store.ListImagesByCategory(ctx, categoryID, page)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "list member images")
		}
		res := store.NewPaginatedResult(batch, page)
		members = append(members, res.Items...)
		if !res.HasMore {
			break
		}
		page.Offset += page.Limit
	}

	// Union of tag IDs across members, captured before rows disappear.
	tagCandidates := make(map[string]bool)
	for _, img := range members {
		ids, err := s.store.GetImageTagIDs(ctx, img.ID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "collect tag links")
		}
		for _, tagID := range ids {
			tagCandidates[tagID] = true
		}
	}

	// Blobs first. Delete is idempotent, so a crash between here and
	// the cascade leaves rows pointing at missing blobs, not the reverse.
	for _, img := range members {
		deleteImageBlobs(s.originals, s.thumbs, img, s.logger)
	}

	if err := s.store.DeleteCategoryCascade(ctx, categoryID); err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			return apperrors.NotFoundf("category %s not found", categoryID)
		}
		return apperrors.Wrap(err, apperrors.CodeInternal, "cascade delete")
	}

	candidates := make([]string, 0, len(tagCandidates))
	for tagID := range tagCandidates {
		candidates = append(candidates, tagID)
	}
	swept, err := s.store.SweepOrphanTags(ctx, candidates)
	if err != nil {
		// The cascade is committed; a failed sweep leaves orphan tags
		// that the next sweep touching them will collect.
		s.logger.Warn("orphan tag sweep failed after cascade",
			"category_id", categoryID,
			"error", err,
		)
	}

	s.logger.Info("category deleted",
		"id", categoryID,
		"images_removed", len(members),
		"tags_swept", swept,
	)
	return nil
}

// deleteImageBlobs removes an image's original and thumbnail blobs.
// Removal failures are logged and swallowed: an unreachable or
// already-gone file must never block catalog cleanup.
func deleteImageBlobs(originals, thumbs *blobs.Store, img *domain.Image, logger *slog.Logger) {
	if err := originals.Delete(img.RelativePath); err != nil {
		logger.Warn("failed to delete original blob",
			"image_id", img.ID,
			"path", img.RelativePath,
			"error", err,
		)
	}
	if img.HasThumbnail() {
		if err := thumbs.Delete(img.RelativeThumbPath); err != nil {
			logger.Warn("failed to delete thumbnail blob",
				"image_id", img.ID,
				"path", img.RelativeThumbPath,
				"error", err,
			)
		}
	}
}
