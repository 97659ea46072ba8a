package api

import (
	"encoding/json/v2"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/picdexapp/picdex-server/internal/http/response"
	"github.com/picdexapp/picdex-server/internal/service"
)

// handleCreateCategory creates a new category.
func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.CreateCategoryRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	category, err := s.categoryService.Create(ctx, req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Created(w, category, s.logger)
}

// handleListCategories returns all categories ordered by name.
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	categories, err := s.categoryService.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list categories", "error", err)
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, categories, s.logger)
}

// handleGetCategory returns a single category by ID.
func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		response.BadRequest(w, "Category ID is required", s.logger)
		return
	}

	category, err := s.categoryService.Get(ctx, id)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, category, s.logger)
}

// handleUpdateCategory applies a partial update to a category.
func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		response.BadRequest(w, "Category ID is required", s.logger)
		return
	}

	var upd service.CategoryUpdate
	if err := json.UnmarshalRead(r.Body, &upd); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	category, err := s.categoryService.Update(ctx, id, upd)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, category, s.logger)
}

// handleDeleteCategory removes a category and cascades to its images.
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		response.BadRequest(w, "Category ID is required", s.logger)
		return
	}

	if err := s.categoryService.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete category", "error", err, "id", id)
		response.HandleError(w, err, s.logger)
		return
	}

	response.NoContent(w)
}

// handleListCategoryImages returns a paginated page of a category's images.
func (s *Server) handleListCategoryImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		response.BadRequest(w, "Category ID is required", s.logger)
		return
	}

	params := parsePaginationParams(r)

	images, err := s.imageService.ListByCategory(ctx, id, params)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, images, s.logger)
}
