package providers

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/picdexapp/picdex-server/internal/config"
	"github.com/picdexapp/picdex-server/internal/logger"
	"github.com/picdexapp/picdex-server/internal/media/blobs"
	"github.com/picdexapp/picdex-server/internal/media/thumbs"
)

// BlobStores groups the sharded blob stores.
type BlobStores struct {
	Originals  *blobs.Store
	Thumbnails *blobs.Store
}

// ProvideBlobStores provides the original and thumbnail blob stores.
func ProvideBlobStores(i do.Injector) (*BlobStores, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	originals, err := blobs.NewStore(cfg.Storage.OriginalsPath)
	if err != nil {
		return nil, fmt.Errorf("originals storage: %w", err)
	}

	thumbnails, err := blobs.NewStore(cfg.Storage.ThumbnailsPath)
	if err != nil {
		return nil, fmt.Errorf("thumbnails storage: %w", err)
	}

	log.Info("Blob storages initialized",
		"originals", originals.Root(),
		"thumbnails", thumbnails.Root(),
	)

	return &BlobStores{Originals: originals, Thumbnails: thumbnails}, nil
}

// ProvideThumbnailDeriver provides the thumbnail deriver.
func ProvideThumbnailDeriver(i do.Injector) (*thumbs.Deriver, error) {
	stores := do.MustInvoke[*BlobStores](i)
	log := do.MustInvoke[*logger.Logger](i)

	return thumbs.NewDeriver(stores.Originals, stores.Thumbnails, log.Logger), nil
}
