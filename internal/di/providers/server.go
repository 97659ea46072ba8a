package providers

import (
	"context"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/picdexapp/picdex-server/internal/api"
	"github.com/picdexapp/picdex-server/internal/config"
	"github.com/picdexapp/picdex-server/internal/logger"
	"github.com/picdexapp/picdex-server/internal/ratelimit"
	"github.com/picdexapp/picdex-server/internal/service"
)

// UploadLimiterHandle wraps the upload rate limiter with Shutdownable.
type UploadLimiterHandle struct {
	*ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *UploadLimiterHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideUploadLimiter provides the per-client upload rate limiter.
func ProvideUploadLimiter(i do.Injector) (*UploadLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)

	perMin := cfg.Upload.RateLimitPerMin
	limiter := ratelimit.New(float64(perMin)/60.0, perMin)

	return &UploadLimiterHandle{KeyedRateLimiter: limiter}, nil
}

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	categoryService := do.MustInvoke[*service.CategoryService](i)
	imageService := do.MustInvoke[*service.ImageService](i)
	tagService := do.MustInvoke[*service.TagService](i)
	limiterHandle := do.MustInvoke[*UploadLimiterHandle](i)

	handler := api.NewServer(categoryService, imageService, tagService, limiterHandle.KeyedRateLimiter, cfg, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Server running", "addr", srv.Addr)

	return &HTTPServerHandle{Server: srv}, nil
}
