package service

import (
	"context"
	"log/slog"

	"github.com/picdexapp/picdex-server/internal/domain"
	apperrors "github.com/picdexapp/picdex-server/internal/errors"
	"github.com/picdexapp/picdex-server/internal/normalize"
	"github.com/picdexapp/picdex-server/internal/store"
	"github.com/picdexapp/picdex-server/internal/store/sqlite"
)

// TagService orchestrates global tag operations. Tags are catalog-wide
// and come into existence through image tagging; explicit deletion is
// only allowed for unreferenced tags, and referenced ones disappear
// automatically once their last image link is removed.
type TagService struct {
	store  *sqlite.Store
	logger *slog.Logger
}

// NewTagService creates a new tag service.
func NewTagService(catalog *sqlite.Store, logger *slog.Logger) *TagService {
	return &TagService{
		store:  catalog,
		logger: logger,
	}
}

// List returns all tags with their image counts.
func (s *TagService) List(ctx context.Context) ([]*domain.Tag, error) {
	return s.store.ListTags(ctx)
}

// Get returns one tag by ID.
func (s *TagService) Get(ctx context.Context, tagID string) (*domain.Tag, error) {
	t, err := s.store.GetTagByID(ctx, tagID)
	if err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFoundf("tag %s not found", tagID)
		}
		return nil, err
	}
	return t, nil
}

// GetByName returns one tag by case-insensitive name.
func (s *TagService) GetByName(ctx context.Context, name string) (*domain.Tag, error) {
	t, err := s.store.GetTagByName(ctx, name)
	if err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFoundf("tag %q not found", name)
		}
		return nil, err
	}
	return t, nil
}

// ListImages returns a page of images matching the given tag names.
// With matchAll, an image must carry every named tag; a name that
// resolves to no tag then makes the result empty. Without matchAll,
// unknown names are simply ignored.
func (s *TagService) ListImages(ctx context.Context, names []string, matchAll bool, page store.PaginationParams) (store.PaginatedResult[*domain.Image], error) {
	page.Validate()

	if len(names) == 0 {
		return store.PaginatedResult[*domain.Image]{}, apperrors.Validation("no tags given")
	}

	tagIDs, err := s.store.ResolveTagIDsByNames(ctx, names)
	if err != nil {
		return store.PaginatedResult[*domain.Image]{}, err
	}
	if matchAll && len(tagIDs) < len(dedupe(names)) {
		// An unknown tag can never be matched by any image.
		return store.NewPaginatedResult[*domain.Image](nil, page), nil
	}

	items, err := s.store.ListImagesByTagIDs(ctx, tagIDs, matchAll, page)
	if err != nil {
		return store.PaginatedResult[*domain.Image]{}, err
	}
	return store.NewPaginatedResult(items, page), nil
}

// Delete removes an unreferenced tag. Returns a conflict error while
// any image still carries it.
func (s *TagService) Delete(ctx context.Context, tagID string) error {
	if err := s.store.DeleteTag(ctx, tagID); err != nil {
		if apperrors.Is(err, store.ErrConflict) {
			return apperrors.Conflict("tag is still referenced by images")
		}
		if apperrors.Is(err, store.ErrNotFound) {
			return apperrors.NotFoundf("tag %s not found", tagID)
		}
		return err
	}
	s.logger.Info("tag deleted", "id", tagID)
	return nil
}

// dedupe collapses names that fold to the same canonical form, so the
// count lines up with what the store lookup resolves.
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		fold := normalize.FoldTagName(n)
		if seen[fold] {
			continue
		}
		seen[fold] = true
		out = append(out, n)
	}
	return out
}
