package api

import (
	"encoding/json/v2"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/picdexapp/picdex-server/internal/http/response"
	"github.com/picdexapp/picdex-server/internal/service"
)

// multipartOverheadBytes is extra room on top of the upload cap for the
// multipart framing and the metadata fields.
const multipartOverheadBytes = 1 << 20

// handleUploadImage ingests one multipart upload into the catalog.
// Expected form fields: file (required), category_id (required), title,
// description, tags (comma-separated), metadata (JSON object), and
// set_as_category_thumbnail (bool).
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.uploadLimiter.Allow(clientKey(r)) {
		response.TooManyRequests(w, "Upload rate limit exceeded", s.logger)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxUploadBytes+multipartOverheadBytes)

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		response.BadRequest(w, "Invalid multipart form", s.logger)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "Form field 'file' is required", s.logger)
		return
	}
	defer file.Close()

	req := service.IngestRequest{
		CategoryID:             r.FormValue("category_id"),
		Filename:               header.Filename,
		Title:                  r.FormValue("title"),
		Description:            r.FormValue("description"),
		Tags:                   splitTags(r.FormValue("tags")),
		SetAsCategoryThumbnail: r.FormValue("set_as_category_thumbnail") == "true",
		Data:                   file,
	}

	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Metadata); err != nil {
			response.BadRequest(w, "Form field 'metadata' must be a JSON object", s.logger)
			return
		}
	}

	image, err := s.imageService.Ingest(ctx, req)
	if err != nil {
		s.logger.Error("Failed to ingest upload", "error", err, "filename", header.Filename)
		response.HandleError(w, err, s.logger)
		return
	}

	response.Created(w, image, s.logger)
}

// handleListImages returns a paginated list of all images, newest first.
func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := parsePaginationParams(r)

	images, err := s.imageService.List(ctx, params)
	if err != nil {
		s.logger.Error("Failed to list images", "error", err)
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, images, s.logger)
}

// handleListImagesByTags returns images matching the given tag names.
// Query parameters: tags (comma-separated, required) and match_all.
func (s *Server) handleListImagesByTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	names := splitTags(r.URL.Query().Get("tags"))
	if len(names) == 0 {
		response.BadRequest(w, "Query parameter 'tags' is required", s.logger)
		return
	}

	matchAll, _ := strconv.ParseBool(r.URL.Query().Get("match_all"))
	params := parsePaginationParams(r)

	images, err := s.tagService.ListImages(ctx, names, matchAll, params)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, images, s.logger)
}

// handleGetImage returns a single image record by ID.
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		response.BadRequest(w, "Image ID is required", s.logger)
		return
	}

	image, err := s.imageService.Get(ctx, id)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, image, s.logger)
}

// handleGetImageFile streams the stored original blob.
func (s *Server) handleGetImageFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		response.BadRequest(w, "Image ID is required", s.logger)
		return
	}

	img, f, err := s.imageService.OpenOriginal(ctx, id)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		response.InternalError(w, "Failed to read image file", s.logger)
		return
	}

	w.Header().Set("Content-Type", img.MimeType)
	http.ServeContent(w, r, img.StoredFilename, info.ModTime(), f)
}

// handleGetImageThumbnail streams the derived thumbnail blob.
func (s *Server) handleGetImageThumbnail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		response.BadRequest(w, "Image ID is required", s.logger)
		return
	}

	img, f, err := s.imageService.OpenThumbnail(ctx, id)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		response.InternalError(w, "Failed to read thumbnail file", s.logger)
		return
	}

	// Thumbnails are re-encoded, so their type follows the thumbnail
	// extension, not the original's MIME type.
	if ct := mime.TypeByExtension(path.Ext(img.RelativeThumbPath)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, path.Base(img.RelativeThumbPath), info.ModTime(), f)
}

// handleUpdateImage applies a partial update to an image.
func (s *Server) handleUpdateImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		response.BadRequest(w, "Image ID is required", s.logger)
		return
	}

	var upd service.ImageUpdate
	if err := json.UnmarshalRead(r.Body, &upd); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	image, err := s.imageService.Update(ctx, id, upd)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, image, s.logger)
}

// handleDeleteImage removes an image record with its blobs.
func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		response.BadRequest(w, "Image ID is required", s.logger)
		return
	}

	if err := s.imageService.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete image", "error", err, "id", id)
		response.HandleError(w, err, s.logger)
		return
	}

	response.NoContent(w)
}

// clientKey identifies the caller for rate limiting. RealIP middleware
// has already folded X-Forwarded-For into RemoteAddr.
func clientKey(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

// splitTags splits a comma-separated tag list, dropping empty entries.
func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
