// Package thumbs derives bounded-size thumbnails from original image blobs.
package thumbs

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"path"
	"strings"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder

	"github.com/picdexapp/picdex-server/internal/media/blobs"
)

// Options bound the derived thumbnail.
type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   int // JPEG encode quality, 1-100
}

// Result describes a successful derivation.
type Result struct {
	Width    int
	Height   int
	BlurHash string // Placeholder hash, empty if computation failed
}

// Deriver produces downscaled thumbnails from originals.
// Derivation is best-effort from the caller's perspective: a corrupt or
// unsupported source must not block cataloging of the original, so
// callers log failures and carry on without a thumbnail.
type Deriver struct {
	originals *blobs.Store
	thumbs    *blobs.Store
	logger    *slog.Logger
}

// NewDeriver creates a Deriver reading from the originals store and
// writing to the thumbnails store.
func NewDeriver(originals, thumbs *blobs.Store, logger *slog.Logger) *Deriver {
	return &Deriver{
		originals: originals,
		thumbs:    thumbs,
		logger:    logger,
	}
}

// Derive decodes the original at srcRel, scales it down so neither
// dimension exceeds the bounds (aspect ratio preserved, never upscaled),
// and encodes it to dstRel in the thumbnails store. The target encoding
// follows dstRel's extension; alpha is flattened onto white when the
// target is JPEG. A BlurHash placeholder is computed from the scaled
// image as a side product.
//
// On failure, any partially-written target is removed — no orphan
// partial thumbnails.
func (d *Deriver) Derive(ctx context.Context, srcRel, dstRel string, opts Options) (*Result, error) {
	src, err := d.originals.Open(srcRel)
	if err != nil {
		return nil, fmt.Errorf("open source blob: %w", err)
	}
	defer src.Close()

	img, format, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	scaled := scaleDown(img, opts.MaxWidth, opts.MaxHeight)
	bounds := scaled.Bounds()

	var buf bytes.Buffer
	if err := encode(&buf, scaled, dstRel, opts.Quality); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	if _, err := d.thumbs.Write(ctx, dstRel, &buf); err != nil {
		// Write is atomic, but clean the target anyway so retries start fresh.
		if delErr := d.thumbs.Delete(dstRel); delErr != nil {
			d.logger.Warn("failed to clean up thumbnail target",
				"path", dstRel,
				"error", delErr,
			)
		}
		return nil, fmt.Errorf("write thumbnail: %w", err)
	}

	res := &Result{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	hash, err := ComputeBlurHash(scaled)
	if err != nil {
		d.logger.Warn("blurhash computation failed",
			"path", srcRel,
			"error", err,
		)
	} else {
		res.BlurHash = hash
	}

	d.logger.Debug("derived thumbnail",
		"source", srcRel,
		"target", dstRel,
		"format", format,
		"width", res.Width,
		"height", res.Height,
	)

	return res, nil
}

// scaleDown resizes img to fit within maxW x maxH, preserving aspect
// ratio. Images already within bounds are returned unchanged.
func scaleDown(img image.Image, maxW, maxH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	if srcW <= maxW && srcH <= maxH {
		return img
	}

	ratioW := float64(maxW) / float64(srcW)
	ratioH := float64(maxH) / float64(srcH)
	ratio := min(ratioW, ratioH)

	dstW := max(int(float64(srcW)*ratio), 1)
	dstH := max(int(float64(srcH)*ratio), 1)

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}

// encode writes img in the format implied by the target path's extension.
// Unknown extensions fall back to JPEG, matching the upload allow-list.
func encode(buf *bytes.Buffer, img image.Image, dstRel string, quality int) error {
	switch strings.ToLower(path.Ext(dstRel)) {
	case ".png":
		return png.Encode(buf, img)
	case ".gif":
		return gif.Encode(buf, img, nil)
	default:
		// JPEG has no alpha channel; flatten onto white.
		return jpeg.Encode(buf, flattenAlpha(img), &jpeg.Options{Quality: quality})
	}
}

// flattenAlpha composites img over a solid white background.
func flattenAlpha(img image.Image) image.Image {
	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	xdraw.Draw(flat, bounds, image.NewUniform(color.White), image.Point{}, xdraw.Src)
	xdraw.Draw(flat, bounds, img, bounds.Min, xdraw.Over)
	return flat
}
