// Package di provides dependency injection configuration for the PicDex server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/picdexapp/picdex-server/internal/config"
	"github.com/picdexapp/picdex-server/internal/di/providers"
	"github.com/picdexapp/picdex-server/internal/logger"
	"github.com/picdexapp/picdex-server/internal/media/thumbs"
	"github.com/picdexapp/picdex-server/internal/service"
	"github.com/picdexapp/picdex-server/internal/validation"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideValidator)

	// Database layer
	do.Provide(injector, providers.ProvideStore)

	// Storage layer
	do.Provide(injector, providers.ProvideBlobStores)
	do.Provide(injector, providers.ProvideThumbnailDeriver)

	// Business services
	do.Provide(injector, providers.ProvideCategoryService)
	do.Provide(injector, providers.ProvideImageService)
	do.Provide(injector, providers.ProvideTagService)

	// Server
	do.Provide(injector, providers.ProvideUploadLimiter)
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle management.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*logger.Logger](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*validation.Validator](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.BlobStores](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*thumbs.Deriver](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*service.CategoryService](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*service.ImageService](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*service.TagService](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.UploadLimiterHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.HTTPServerHandle](injector); err != nil {
		return err
	}

	return nil
}
