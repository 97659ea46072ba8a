package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/picdexapp/picdex-server/internal/http/response"
)

// handleListTags returns all tags with their usage counts.
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tags, err := s.tagService.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list tags", "error", err)
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, tags, s.logger)
}

// handleGetTag returns a single tag by ID, or by name when the
// "by_name" query parameter is set.
func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		response.BadRequest(w, "Tag ID is required", s.logger)
		return
	}

	var err error
	var tag any
	if r.URL.Query().Get("by_name") == "true" {
		tag, err = s.tagService.GetByName(ctx, id)
	} else {
		tag, err = s.tagService.Get(ctx, id)
	}
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, tag, s.logger)
}

// handleDeleteTag removes an unreferenced tag.
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		response.BadRequest(w, "Tag ID is required", s.logger)
		return
	}

	if err := s.tagService.Delete(ctx, id); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.NoContent(w)
}
