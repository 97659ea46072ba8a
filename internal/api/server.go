// Package api provides the HTTP API server and handlers for the PicDex catalog.
package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/picdexapp/picdex-server/internal/config"
	"github.com/picdexapp/picdex-server/internal/http/response"
	"github.com/picdexapp/picdex-server/internal/ratelimit"
	"github.com/picdexapp/picdex-server/internal/service"
	"github.com/picdexapp/picdex-server/internal/store"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	categoryService *service.CategoryService
	imageService    *service.ImageService
	tagService      *service.TagService
	uploadLimiter   *ratelimit.KeyedRateLimiter
	cfg             *config.Config
	router          *chi.Mux
	logger          *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(categoryService *service.CategoryService, imageService *service.ImageService, tagService *service.TagService, uploadLimiter *ratelimit.KeyedRateLimiter, cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		categoryService: categoryService,
		imageService:    imageService,
		tagService:      tagService,
		uploadLimiter:   uploadLimiter,
		cfg:             cfg,
		router:          chi.NewRouter(),
		logger:          logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Health check.
	s.router.Get("/health", s.handleHealthCheck)

	// Static blob serving, mirroring the sharded layout on disk.
	s.router.Handle("/static/uploads/originals/*",
		http.StripPrefix("/static/uploads/originals/", http.FileServer(http.Dir(s.cfg.Storage.OriginalsPath))))
	s.router.Handle("/static/uploads/thumbnails/*",
		http.StripPrefix("/static/uploads/thumbnails/", http.FileServer(http.Dir(s.cfg.Storage.ThumbnailsPath))))

	// API v1.
	s.router.Route("/api/v1", func(r chi.Router) {
		// Categories.
		r.Route("/categories", func(r chi.Router) {
			r.Post("/", s.handleCreateCategory)
			r.Get("/", s.handleListCategories)
			r.Get("/{id}", s.handleGetCategory)
			r.Patch("/{id}", s.handleUpdateCategory)
			r.Delete("/{id}", s.handleDeleteCategory)
			r.Get("/{id}/images", s.handleListCategoryImages)
		})

		// Images.
		r.Route("/images", func(r chi.Router) {
			r.Post("/", s.handleUploadImage)
			r.Get("/", s.handleListImages)
			r.Get("/by-tags", s.handleListImagesByTags)
			r.Get("/{id}", s.handleGetImage)
			r.Get("/{id}/file", s.handleGetImageFile)
			r.Get("/{id}/thumbnail", s.handleGetImageThumbnail)
			r.Patch("/{id}", s.handleUpdateImage)
			r.Delete("/{id}", s.handleDeleteImage)
		})

		// Tags.
		r.Route("/tags", func(r chi.Router) {
			r.Get("/", s.handleListTags)
			r.Get("/{id}", s.handleGetTag)
			r.Delete("/{id}", s.handleDeleteTag)
		})
	})
}

// handleHealthCheck returns server health status.
func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, map[string]string{
		"status": "healthy",
	}, s.logger)
}

// Helper functions.

// parsePaginationParams parses pagination parameters from query string.
func parsePaginationParams(r *http.Request) store.PaginationParams {
	params := store.DefaultPaginationParams()

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			params.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			params.Offset = offset
		}
	}

	// Validate parameters.
	params.Validate()

	return params
}
