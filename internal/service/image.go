package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/picdexapp/picdex-server/internal/domain"
	apperrors "github.com/picdexapp/picdex-server/internal/errors"
	"github.com/picdexapp/picdex-server/internal/id"
	"github.com/picdexapp/picdex-server/internal/media/blobs"
	"github.com/picdexapp/picdex-server/internal/media/thumbs"
	"github.com/picdexapp/picdex-server/internal/store"
	"github.com/picdexapp/picdex-server/internal/store/sqlite"
	"github.com/picdexapp/picdex-server/internal/validation"
)

// sniffLen is how many leading bytes content-type detection examines.
const sniffLen = 3072

// ImageOptions configures ingestion limits and thumbnail bounds.
type ImageOptions struct {
	MaxUploadBytes   int64
	AllowedMimeTypes []string
	ThumbMaxWidth    int
	ThumbMaxHeight   int
	ThumbQuality     int
}

// ImageService orchestrates the image lifecycle: ingestion writes the
// original blob before any catalog row exists, deletion removes blobs
// before the row, and tag links are kept consistent with orphan sweeps.
type ImageService struct {
	store     *sqlite.Store
	originals *blobs.Store
	thumbs    *blobs.Store
	deriver   *thumbs.Deriver
	opts      ImageOptions
	validator *validation.Validator
	logger    *slog.Logger
}

// NewImageService creates a new image service.
func NewImageService(
	catalog *sqlite.Store,
	originals *blobs.Store,
	thumbStore *blobs.Store,
	deriver *thumbs.Deriver,
	opts ImageOptions,
	validator *validation.Validator,
	logger *slog.Logger,
) *ImageService {
	return &ImageService{
		store:     catalog,
		originals: originals,
		thumbs:    thumbStore,
		deriver:   deriver,
		opts:      opts,
		validator: validator,
		logger:    logger,
	}
}

// IngestRequest carries one upload into the catalog.
type IngestRequest struct {
	CategoryID             string `validate:"required"`
	Filename               string `validate:"required"`
	Title                  string `validate:"max=100"`
	Description            string `validate:"max=300"`
	Tags                   []string
	Metadata               map[string]any
	SetAsCategoryThumbnail bool
	Data                   io.Reader
}

// ImageUpdate carries optional field updates; nil means unchanged.
type ImageUpdate struct {
	CategoryID             *string   `json:"category_id" validate:"omitempty,min=1"`
	Title                  *string   `json:"title" validate:"omitempty,max=100"`
	Description            *string   `json:"description" validate:"omitempty,max=300"`
	Tags                   *[]string `json:"tags"`
	SetAsCategoryThumbnail *bool     `json:"set_as_category_thumbnail"`
}

// Ingest runs the full ingestion pipeline: validate, sniff the content
// type against the allow-list, write the original blob, derive a
// thumbnail (best-effort), create the catalog row, link tags, and
// optionally promote the thumbnail to category thumbnail. Any failure
// after the blob write removes what was written.
func (s *ImageService) Ingest(ctx context.Context, req IngestRequest) (*domain.Image, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	if req.Data == nil {
		return nil, apperrors.Validation("upload body is empty")
	}

	category, err := s.store.GetCategoryByID(ctx, req.CategoryID)
	if err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFoundf("category %s not found", req.CategoryID)
		}
		return nil, err
	}

	loc, err := blobs.Allocate(path.Ext(req.Filename))
	if err != nil {
		return nil, err
	}

	// Sniff the real content type from the leading bytes, then stitch
	// them back in front of the remaining stream.
	header := make([]byte, sniffLen)
	n, err := io.ReadFull(req.Data, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, apperrors.Wrap(err, apperrors.CodeIOFailure, "read upload")
	}
	mime := mimetype.Detect(header[:n]).String()
	if !s.mimeAllowed(mime) {
		return nil, apperrors.Validationf("unsupported image type %q", mime)
	}
	data := io.MultiReader(bytes.NewReader(header[:n]), req.Data)

	// One byte past the limit is enough to prove the upload is too big.
	size, err := s.originals.Write(ctx, loc.RelativePath(), io.LimitReader(data, s.opts.MaxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if size > s.opts.MaxUploadBytes {
		s.discardBlob(s.originals, loc.RelativePath())
		return nil, apperrors.Validationf("upload exceeds %d bytes", s.opts.MaxUploadBytes)
	}

	// Thumbnail derivation is best-effort: a corrupt original is still
	// cataloged, just without a thumbnail reference.
	thumbLoc := blobs.ThumbLocation(loc)
	thumbPath := ""
	blurHash := ""
	res, err := s.deriver.Derive(ctx, loc.RelativePath(), thumbLoc.RelativePath(), thumbs.Options{
		MaxWidth:  s.opts.ThumbMaxWidth,
		MaxHeight: s.opts.ThumbMaxHeight,
		Quality:   s.opts.ThumbQuality,
	})
	if err != nil {
		s.logger.Warn("thumbnail derivation failed",
			"source", loc.RelativePath(),
			"error", err,
		)
	} else {
		thumbPath = thumbLoc.RelativePath()
		blurHash = res.BlurHash
	}

	imageID, err := id.Generate("img")
	if err != nil {
		s.cleanupIngest(loc, thumbPath)
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "generate image id")
	}

	now := nowUTC()
	img := &domain.Image{
		ID:                imageID,
		CategoryID:        category.ID,
		Title:             req.Title,
		Description:       req.Description,
		OriginalFilename:  req.Filename,
		StoredFilename:    loc.StoredName,
		RelativePath:      loc.RelativePath(),
		RelativeThumbPath: thumbPath,
		MimeType:          mime,
		SizeBytes:         size,
		BlurHash:          blurHash,
		Metadata:          req.Metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.CreateImage(ctx, img); err != nil {
		s.cleanupIngest(loc, thumbPath)
		if apperrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFoundf("category %s not found", req.CategoryID)
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "create image record")
	}

	if len(req.Tags) > 0 {
		tags, err := s.store.ReplaceImageTags(ctx, img.ID, req.Tags)
		if err != nil {
			// The record is half-built without its tags; unwind it
			// along with the blobs rather than catalog a partial ingest.
			if _, delErr := s.store.DeleteImageWithLinks(ctx, img.ID); delErr != nil {
				s.logger.Warn("failed to remove record after tag linking failure",
					"image_id", img.ID,
					"error", delErr,
				)
			}
			s.cleanupIngest(loc, thumbPath)
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "link tags")
		}
		img.Tags = tags
	}

	if req.SetAsCategoryThumbnail && thumbPath != "" {
		if err := s.store.SetCategoryThumbnail(ctx, category.ID, thumbPath); err != nil {
			s.logger.Warn("failed to set category thumbnail",
				"category_id", category.ID,
				"error", err,
			)
		}
	}

	s.logger.Info("image ingested",
		"id", img.ID,
		"category_id", img.CategoryID,
		"size_bytes", img.SizeBytes,
		"has_thumbnail", img.HasThumbnail(),
	)
	return img, nil
}

// Get returns one image with its tags attached.
func (s *ImageService) Get(ctx context.Context, imageID string) (*domain.Image, error) {
	img, err := s.store.GetImageByID(ctx, imageID)
	if err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFoundf("image %s not found", imageID)
		}
		return nil, err
	}
	return img, nil
}

// List returns a page over the whole catalog, newest first.
func (s *ImageService) List(ctx context.Context, page store.PaginationParams) (store.PaginatedResult[*domain.Image], error) {
	page.Validate()
	items, err := s.store.ListImages(ctx, page)
	if err != nil {
		return store.PaginatedResult[*domain.Image]{}, err
	}
	return store.NewPaginatedResult(items, page), nil
}

// ListByCategory returns a page of one category's images, newest first.
func (s *ImageService) ListByCategory(ctx context.Context, categoryID string, page store.PaginationParams) (store.PaginatedResult[*domain.Image], error) {
	page.Validate()
	if _, err := s.store.GetCategoryByID(ctx, categoryID); err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			return store.PaginatedResult[*domain.Image]{}, apperrors.NotFoundf("category %s not found", categoryID)
		}
		return store.PaginatedResult[*domain.Image]{}, err
	}
	items, err := s.store.ListImagesByCategory(ctx, categoryID, page)
	if err != nil {
		return store.PaginatedResult[*domain.Image]{}, err
	}
	return store.NewPaginatedResult(items, page), nil
}

// Update applies the non-nil fields of upd to an existing image. A
// category move clears the old category's thumbnail reference when it
// pointed at this image; a tag replacement sweeps tags it orphaned.
func (s *ImageService) Update(ctx context.Context, imageID string, upd ImageUpdate) (*domain.Image, error) {
	if err := s.validator.Validate(upd); err != nil {
		return nil, err
	}

	img, err := s.Get(ctx, imageID)
	if err != nil {
		return nil, err
	}
	oldCategoryID := img.CategoryID

	if upd.CategoryID != nil && *upd.CategoryID != img.CategoryID {
		if _, err := s.store.GetCategoryByID(ctx, *upd.CategoryID); err != nil {
			if apperrors.Is(err, store.ErrNotFound) {
				return nil, apperrors.NotFoundf("category %s not found", *upd.CategoryID)
			}
			return nil, err
		}
		img.CategoryID = *upd.CategoryID
	}
	if upd.Title != nil {
		img.Title = *upd.Title
	}
	if upd.Description != nil {
		img.Description = *upd.Description
	}
	img.Touch()

	if err := s.store.UpdateImage(ctx, img); err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFoundf("image %s not found", imageID)
		}
		return nil, err
	}

	if img.CategoryID != oldCategoryID && img.HasThumbnail() {
		if _, err := s.store.ClearCategoryThumbnailIf(ctx, oldCategoryID, img.RelativeThumbPath); err != nil {
			s.logger.Warn("failed to clear old category thumbnail",
				"category_id", oldCategoryID,
				"error", err,
			)
		}
	}

	if upd.Tags != nil {
		before, err := s.store.GetImageTagIDs(ctx, img.ID)
		if err != nil {
			return nil, err
		}
		tags, err := s.store.ReplaceImageTags(ctx, img.ID, *upd.Tags)
		if err != nil {
			return nil, err
		}
		img.Tags = tags
		if _, err := s.store.SweepOrphanTags(ctx, before); err != nil {
			s.logger.Warn("orphan tag sweep failed after retag",
				"image_id", img.ID,
				"error", err,
			)
		}
	} else {
		img.Tags, err = s.store.GetTagsForImage(ctx, img.ID)
		if err != nil {
			return nil, err
		}
	}

	if upd.SetAsCategoryThumbnail != nil && img.HasThumbnail() {
		if *upd.SetAsCategoryThumbnail {
			if err := s.store.SetCategoryThumbnail(ctx, img.CategoryID, img.RelativeThumbPath); err != nil {
				s.logger.Warn("failed to set category thumbnail",
					"category_id", img.CategoryID,
					"error", err,
				)
			}
		} else {
			// Explicit unset: clear the reference only if it still
			// points at this image's thumbnail.
			if _, err := s.store.ClearCategoryThumbnailIf(ctx, img.CategoryID, img.RelativeThumbPath); err != nil {
				s.logger.Warn("failed to clear category thumbnail",
					"category_id", img.CategoryID,
					"error", err,
				)
			}
		}
	}

	s.logger.Info("image updated", "id", img.ID)
	return img, nil
}

// Delete removes an image: blobs first, then the row with its tag
// links, then a sweep of the tags the delete orphaned, finally the
// owning category's thumbnail reference if it pointed here. Deleting
// an absent image is a no-op, so cascades and retries that enumerate
// the same ID twice always succeed.
func (s *ImageService) Delete(ctx context.Context, imageID string) error {
	img, err := s.Get(ctx, imageID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}

	deleteImageBlobs(s.originals, s.thumbs, img, s.logger)

	tagIDs, err := s.store.DeleteImageWithLinks(ctx, imageID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "delete image record")
	}

	swept, err := s.store.SweepOrphanTags(ctx, tagIDs)
	if err != nil {
		s.logger.Warn("orphan tag sweep failed after delete",
			"image_id", imageID,
			"error", err,
		)
	}

	if img.HasThumbnail() {
		if _, err := s.store.ClearCategoryThumbnailIf(ctx, img.CategoryID, img.RelativeThumbPath); err != nil {
			s.logger.Warn("failed to clear category thumbnail",
				"category_id", img.CategoryID,
				"error", err,
			)
		}
	}

	s.logger.Info("image deleted", "id", imageID, "tags_swept", swept)
	return nil
}

// OpenOriginal returns the stored original blob for an image. The
// caller owns the returned file handle.
func (s *ImageService) OpenOriginal(ctx context.Context, imageID string) (*domain.Image, *os.File, error) {
	img, err := s.Get(ctx, imageID)
	if err != nil {
		return nil, nil, err
	}

	f, err := s.originals.Open(img.RelativePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, apperrors.NotFoundf("blob for image %s", imageID)
		}
		return nil, nil, apperrors.Wrap(err, apperrors.CodeIOFailure, "open original blob")
	}
	return img, f, nil
}

// OpenThumbnail returns the derived thumbnail blob for an image, or a
// not-found error when derivation never produced one.
func (s *ImageService) OpenThumbnail(ctx context.Context, imageID string) (*domain.Image, *os.File, error) {
	img, err := s.Get(ctx, imageID)
	if err != nil {
		return nil, nil, err
	}
	if !img.HasThumbnail() {
		return nil, nil, apperrors.NotFoundf("thumbnail for image %s", imageID)
	}

	f, err := s.thumbs.Open(img.RelativeThumbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, apperrors.NotFoundf("thumbnail for image %s", imageID)
		}
		return nil, nil, apperrors.Wrap(err, apperrors.CodeIOFailure, "open thumbnail blob")
	}
	return img, f, nil
}

// mimeAllowed checks the sniffed type against the configured allow-list.
func (s *ImageService) mimeAllowed(mime string) bool {
	for _, allowed := range s.opts.AllowedMimeTypes {
		if mime == allowed {
			return true
		}
	}
	return false
}

// cleanupIngest removes blobs written during a failed ingestion.
func (s *ImageService) cleanupIngest(loc blobs.Location, thumbPath string) {
	s.discardBlob(s.originals, loc.RelativePath())
	if thumbPath != "" {
		s.discardBlob(s.thumbs, thumbPath)
	}
}

func (s *ImageService) discardBlob(bs *blobs.Store, rel string) {
	if err := bs.Delete(rel); err != nil {
		s.logger.Warn("failed to discard blob", "path", rel, "error", err)
	}
}

// nowUTC returns the current time in UTC.
func nowUTC() time.Time {
	return time.Now().UTC()
}
