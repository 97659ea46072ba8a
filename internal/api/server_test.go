package api

import (
	"bytes"
	"encoding/json/v2"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picdexapp/picdex-server/internal/config"
	"github.com/picdexapp/picdex-server/internal/media/blobs"
	"github.com/picdexapp/picdex-server/internal/media/thumbs"
	"github.com/picdexapp/picdex-server/internal/ratelimit"
	"github.com/picdexapp/picdex-server/internal/service"
	"github.com/picdexapp/picdex-server/internal/store/sqlite"
	"github.com/picdexapp/picdex-server/internal/validation"
)

// setupTestServer creates a server backed by a temp catalog and blob stores.
func setupTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catalog, err := sqlite.Open(filepath.Join(dir, "catalog.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	originals, err := blobs.NewStore(filepath.Join(dir, "originals"))
	require.NoError(t, err)
	thumbStore, err := blobs.NewStore(filepath.Join(dir, "thumbnails"))
	require.NoError(t, err)

	deriver := thumbs.NewDeriver(originals, thumbStore, logger)
	v := validation.New()

	cfg := &config.Config{
		Storage: config.StorageConfig{
			DataPath:       dir,
			OriginalsPath:  filepath.Join(dir, "originals"),
			ThumbnailsPath: filepath.Join(dir, "thumbnails"),
			DatabasePath:   filepath.Join(dir, "catalog.db"),
		},
		Upload: config.UploadConfig{
			MaxUploadBytes:   10 << 20,
			AllowedMimeTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
			RateLimitPerMin:  600,
		},
		Thumbnail: config.ThumbnailConfig{MaxWidth: 256, MaxHeight: 256, Quality: 85},
		Server:    config.ServerConfig{CORSOrigins: []string{"*"}},
	}

	opts := service.ImageOptions{
		MaxUploadBytes:   cfg.Upload.MaxUploadBytes,
		AllowedMimeTypes: cfg.Upload.AllowedMimeTypes,
		ThumbMaxWidth:    cfg.Thumbnail.MaxWidth,
		ThumbMaxHeight:   cfg.Thumbnail.MaxHeight,
		ThumbQuality:     cfg.Thumbnail.Quality,
	}

	imageService := service.NewImageService(catalog, originals, thumbStore, deriver, opts, v, logger)
	categoryService := service.NewCategoryService(catalog, originals, thumbStore, v, logger)
	tagService := service.NewTagService(catalog, logger)

	limiter := ratelimit.New(float64(cfg.Upload.RateLimitPerMin)/60.0, cfg.Upload.RateLimitPerMin)
	t.Cleanup(limiter.Stop)

	return NewServer(categoryService, imageService, tagService, limiter, cfg, logger)
}

// doJSON performs a request with an optional JSON body and decodes the envelope.
func doJSON(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var envelope map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	}
	return rec, envelope
}

// makeJPEG encodes a gradient image of the given size.
func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// uploadImage posts a multipart upload and returns the response.
func uploadImage(t *testing.T, s *Server, fields map[string]string, filename string, data []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var envelope map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	}
	return rec, envelope
}

// createCategory creates a category over the API and returns its ID.
func createCategory(t *testing.T, s *Server, name string) string {
	t.Helper()
	rec, envelope := doJSON(t, s, http.MethodPost, "/api/v1/categories", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := envelope["data"].(map[string]any)
	return data["id"].(string)
}

func TestHealthCheck(t *testing.T) {
	s := setupTestServer(t)

	rec, envelope := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := envelope["data"].(map[string]any)
	assert.Equal(t, "healthy", data["status"])
}

func TestCategoryEndpoints(t *testing.T) {
	s := setupTestServer(t)

	id := createCategory(t, s, "Wildlife")

	// Duplicate name conflicts.
	rec, envelope := doJSON(t, s, http.MethodPost, "/api/v1/categories", map[string]string{"name": "Wildlife"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_EXISTS", envelope["code"])

	// Missing name is a validation error with field details.
	rec, envelope = doJSON(t, s, http.MethodPost, "/api/v1/categories", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", envelope["code"])
	assert.Contains(t, envelope["details"].(map[string]any), "name")

	// Fetch and list.
	rec, envelope = doJSON(t, s, http.MethodGet, "/api/v1/categories/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Wildlife", envelope["data"].(map[string]any)["name"])

	rec, envelope = doJSON(t, s, http.MethodGet, "/api/v1/categories/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, envelope["data"].([]any), 1)

	// Patch description.
	rec, envelope = doJSON(t, s, http.MethodPatch, "/api/v1/categories/"+id, map[string]string{"description": "animals"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "animals", envelope["data"].(map[string]any)["description"])

	// Delete, then 404 on re-fetch.
	rec, _ = doJSON(t, s, http.MethodDelete, "/api/v1/categories/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, envelope = doJSON(t, s, http.MethodGet, "/api/v1/categories/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", envelope["code"])
}

func TestUploadAndFetchImage(t *testing.T) {
	s := setupTestServer(t)
	catID := createCategory(t, s, "Macro")

	rec, envelope := uploadImage(t, s, map[string]string{
		"category_id": catID,
		"title":       "Dewdrop",
		"tags":        "water, closeup",
		"metadata":    `{"iso": 200}`,
	}, "dewdrop.jpg", makeJPEG(t, 320, 200))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := envelope["data"].(map[string]any)
	imgID := data["id"].(string)
	assert.Equal(t, "image/jpeg", data["mime_type"])
	assert.Equal(t, "Dewdrop", data["title"])
	assert.Len(t, data["tags"].([]any), 2)
	assert.NotEmpty(t, data["blur_hash"])
	assert.Equal(t, float64(200), data["metadata"].(map[string]any)["iso"])

	// The original streams back byte-identical in type.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/images/"+imgID+"/file", nil)
	fileRec := httptest.NewRecorder()
	s.ServeHTTP(fileRec, req)
	require.Equal(t, http.StatusOK, fileRec.Code)
	assert.Equal(t, "image/jpeg", fileRec.Header().Get("Content-Type"))
	assert.Greater(t, fileRec.Body.Len(), 0)

	// The thumbnail exists and decodes within bounds.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/images/"+imgID+"/thumbnail", nil)
	thumbRec := httptest.NewRecorder()
	s.ServeHTTP(thumbRec, req)
	require.Equal(t, http.StatusOK, thumbRec.Code)
	decoded, _, err := image.Decode(bytes.NewReader(thumbRec.Body.Bytes()))
	require.NoError(t, err)
	assert.LessOrEqual(t, decoded.Bounds().Dx(), 256)

	// The static mount serves the same blob under its relative path.
	req = httptest.NewRequest(http.MethodGet, "/static/uploads/originals/"+data["relative_path"].(string), nil)
	staticRec := httptest.NewRecorder()
	s.ServeHTTP(staticRec, req)
	assert.Equal(t, http.StatusOK, staticRec.Code)

	// Listing by category pages the record.
	rec, envelope = doJSON(t, s, http.MethodGet, "/api/v1/categories/"+catID+"/images?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := envelope["data"].(map[string]any)
	assert.Len(t, page["items"].([]any), 1)
	assert.Equal(t, false, page["has_more"])
}

func TestUploadRejectsBadRequests(t *testing.T) {
	s := setupTestServer(t)
	catID := createCategory(t, s, "Strict")

	// Non-image payload is refused after sniffing.
	rec, envelope := uploadImage(t, s, map[string]string{"category_id": catID}, "notes.txt", []byte("plain text, not an image"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", envelope["code"])

	// Unknown category 404s before any blob survives.
	rec, envelope = uploadImage(t, s, map[string]string{"category_id": "cat-missing"}, "a.jpg", makeJPEG(t, 40, 40))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", envelope["code"])

	// Missing file field.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("category_id", catID))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	plain := httptest.NewRecorder()
	s.ServeHTTP(plain, req)
	assert.Equal(t, http.StatusBadRequest, plain.Code)

	// Malformed metadata JSON.
	rec, _ = uploadImage(t, s, map[string]string{
		"category_id": catID,
		"metadata":    "{not json",
	}, "b.jpg", makeJPEG(t, 40, 40))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRateLimit(t *testing.T) {
	s := setupTestServer(t)
	catID := createCategory(t, s, "Throttled")

	// Shrink the limiter so the test trips it quickly.
	s.uploadLimiter.Stop()
	s.uploadLimiter = ratelimit.New(0.01, 2)
	t.Cleanup(s.uploadLimiter.Stop)

	payload := makeJPEG(t, 40, 40)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec, _ := uploadImage(t, s, map[string]string{"category_id": catID}, "r.jpg", payload)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusCreated, codes[0])
	assert.Equal(t, http.StatusCreated, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestImageUpdateAndDelete(t *testing.T) {
	s := setupTestServer(t)
	catID := createCategory(t, s, "Editable")

	rec, envelope := uploadImage(t, s, map[string]string{
		"category_id": catID,
		"tags":        "draft",
	}, "shot.jpg", makeJPEG(t, 120, 80))
	require.Equal(t, http.StatusCreated, rec.Code)
	imgID := envelope["data"].(map[string]any)["id"].(string)

	// Retag and retitle over PATCH.
	rec, envelope = doJSON(t, s, http.MethodPatch, "/api/v1/images/"+imgID, map[string]any{
		"title": "Final",
		"tags":  []string{"published"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := envelope["data"].(map[string]any)
	assert.Equal(t, "Final", data["title"])
	tags := data["tags"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, "published", tags[0].(map[string]any)["name"])

	// The orphaned draft tag is gone from the tag list.
	rec, envelope = doJSON(t, s, http.MethodGet, "/api/v1/tags/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	names := make([]string, 0)
	for _, item := range envelope["data"].([]any) {
		names = append(names, item.(map[string]any)["name"].(string))
	}
	assert.Equal(t, []string{"published"}, names)

	// Delete and verify the blob endpoints 404.
	rec, _ = doJSON(t, s, http.MethodDelete, "/api/v1/images/"+imgID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = doJSON(t, s, http.MethodGet, "/api/v1/images/"+imgID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = doJSON(t, s, http.MethodGet, "/api/v1/images/"+imgID+"/file", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListImagesByTags(t *testing.T) {
	s := setupTestServer(t)
	catID := createCategory(t, s, "Search")

	rec, envelope := uploadImage(t, s, map[string]string{
		"category_id": catID,
		"tags":        "sea,sky",
	}, "both.jpg", makeJPEG(t, 60, 60))
	require.Equal(t, http.StatusCreated, rec.Code)
	bothID := envelope["data"].(map[string]any)["id"].(string)

	rec, _ = uploadImage(t, s, map[string]string{
		"category_id": catID,
		"tags":        "sea",
	}, "one.jpg", makeJPEG(t, 60, 60))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, envelope = doJSON(t, s, http.MethodGet, "/api/v1/images/by-tags?tags=sea,sky", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, envelope["data"].(map[string]any)["items"].([]any), 2)

	rec, envelope = doJSON(t, s, http.MethodGet, "/api/v1/images/by-tags?tags=SEA,sky&match_all=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := envelope["data"].(map[string]any)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, bothID, items[0].(map[string]any)["id"])

	// Missing tags parameter.
	rec, _ = doJSON(t, s, http.MethodGet, "/api/v1/images/by-tags", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTagEndpoints(t *testing.T) {
	s := setupTestServer(t)
	catID := createCategory(t, s, "Tagged")

	rec, envelope := uploadImage(t, s, map[string]string{
		"category_id": catID,
		"tags":        "Night Sky",
	}, "stars.jpg", makeJPEG(t, 60, 60))
	require.Equal(t, http.StatusCreated, rec.Code)
	imgID := envelope["data"].(map[string]any)["id"].(string)

	rec, envelope = doJSON(t, s, http.MethodGet, "/api/v1/tags/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := envelope["data"].([]any)
	require.Len(t, list, 1)
	tagID := list[0].(map[string]any)["id"].(string)

	// Lookup by folded name through the by_name switch.
	rec, envelope = doJSON(t, s, http.MethodGet, "/api/v1/tags/NIGHT%20SKY?by_name=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Night Sky", envelope["data"].(map[string]any)["name"])

	// Referenced tags refuse deletion.
	rec, envelope = doJSON(t, s, http.MethodDelete, "/api/v1/tags/"+tagID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", envelope["code"])

	// Removing the image sweeps the tag, so deletion then 404s.
	rec, _ = doJSON(t, s, http.MethodDelete, "/api/v1/images/"+imgID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = doJSON(t, s, http.MethodDelete, "/api/v1/tags/"+tagID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaginationParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/images?limit=5&offset=10", nil)
	params := parsePaginationParams(req)
	assert.Equal(t, 5, params.Limit)
	assert.Equal(t, 10, params.Offset)

	// Garbage falls back to defaults, oversized limits clamp.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/images?limit=nope&offset=-3", nil)
	params = parsePaginationParams(req)
	assert.Equal(t, 100, params.Limit)
	assert.Equal(t, 0, params.Offset)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/images?limit=9000", nil)
	params = parsePaginationParams(req)
	assert.Equal(t, 500, params.Limit)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", nil)
	req.RemoteAddr = "203.0.113.9:51442"
	assert.Equal(t, "203.0.113.9", clientKey(req))

	req.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", clientKey(req))
}

// Guard against envelope drift: errors always carry success=false and a message.
func TestErrorEnvelopeShape(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/categories/cat-missing", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, false, envelope["success"])
	assert.NotEmpty(t, envelope["error"])
	assert.True(t, strings.Contains(rec.Header().Get("Content-Type"), "application/json"))
}
