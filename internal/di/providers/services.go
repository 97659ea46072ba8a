package providers

import (
	"github.com/samber/do/v2"

	"github.com/picdexapp/picdex-server/internal/config"
	"github.com/picdexapp/picdex-server/internal/logger"
	"github.com/picdexapp/picdex-server/internal/media/thumbs"
	"github.com/picdexapp/picdex-server/internal/service"
	"github.com/picdexapp/picdex-server/internal/validation"
)

// ProvideCategoryService provides the category service.
func ProvideCategoryService(i do.Injector) (*service.CategoryService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	stores := do.MustInvoke[*BlobStores](i)
	v := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewCategoryService(
		storeHandle.Store,
		stores.Originals,
		stores.Thumbnails,
		v,
		log.Logger,
	), nil
}

// ProvideImageService provides the image lifecycle service.
func ProvideImageService(i do.Injector) (*service.ImageService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	stores := do.MustInvoke[*BlobStores](i)
	deriver := do.MustInvoke[*thumbs.Deriver](i)
	v := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*logger.Logger](i)

	opts := service.ImageOptions{
		MaxUploadBytes:   cfg.Upload.MaxUploadBytes,
		AllowedMimeTypes: cfg.Upload.AllowedMimeTypes,
		ThumbMaxWidth:    cfg.Thumbnail.MaxWidth,
		ThumbMaxHeight:   cfg.Thumbnail.MaxHeight,
		ThumbQuality:     cfg.Thumbnail.Quality,
	}

	return service.NewImageService(
		storeHandle.Store,
		stores.Originals,
		stores.Thumbnails,
		deriver,
		opts,
		v,
		log.Logger,
	), nil
}

// ProvideTagService provides the tag service.
func ProvideTagService(i do.Injector) (*service.TagService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewTagService(storeHandle.Store, log.Logger), nil
}
