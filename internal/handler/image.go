package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/auth"
	"github.com/sakif/journal/internal/content"
	"github.com/sakif/journal/internal/service"
)

// multipartOverhead is the slack allowed on top of the image size for
// multipart boundaries and part headers.
const multipartOverhead = 64 << 10

// ImageHandler exposes ImageService over HTTP.
type ImageHandler struct {
	images  *service.ImageService
	baseURL string
	logger  *slog.Logger
}

// NewImageHandler creates an ImageHandler. baseURL is used to build the
// embed URL returned by uploads.
func NewImageHandler(images *service.ImageService, baseURL string, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{
		images:  images,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

type uploadResponse struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
}

// HandleUpload stores an image.
//
// HTTP: POST /api/images
//
// Two body formats are accepted:
//   - the raw bytes, with the image type in Content-Type
//   - multipart/form-data with the file in the "image" field (HTML forms)
//
// The response carries the URL to paste into a note.
func (h *ImageHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	data, mimeType, err := h.readUpload(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	img, err := h.images.Upload(r.Context(), userID, data, mimeType)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		ID:       img.ID,
		URL:      content.ImageURL(h.baseURL, img.ID),
		MimeType: img.MimeType,
		Size:     img.Size,
	})
}

// readUpload returns the image bytes and the declared type. Bodies are
// never read past MaxBytes+1, so an oversized upload is rejected without
// buffering it.
func (h *ImageHandler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	limit := h.images.MaxBytes()
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		data, err := readLimited(http.MaxBytesReader(w, r.Body, limit), limit)
		return data, r.Header.Get("Content-Type"), err
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", apperror.ValidationFailed("image", "invalid multipart body")
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", apperror.ValidationFailed("image", `multipart field "image" is required`)
		}
		if err != nil {
			return nil, "", uploadReadError(err, limit)
		}
		if part.FormName() != "image" {
			part.Close()
			continue
		}
		defer part.Close()
		data, err := readLimited(part, limit)
		return data, part.Header.Get("Content-Type"), err
	}
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, uploadReadError(err, limit)
	}
	if int64(len(data)) > limit {
		return nil, apperror.TooLarge("image", limit)
	}
	return data, nil
}

func uploadReadError(err error, limit int64) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperror.TooLarge("image", limit)
	}
	return apperror.ValidationFailed("image", "could not read upload")
}

// HandleList returns metadata for the user's images, newest first.
//
// HTTP: GET /api/images
func (h *ImageHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	images, err := h.images.List(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

// HandleFetch serves the image bytes.
//
// HTTP: GET /api/images/{id}
//
// An image id never points at different bytes, so the browser may cache
// it for as long as it likes. "private" keeps shared caches out of it.
func (h *ImageHandler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	img, err := h.images.Fetch(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		h.logger.Warn("image write failed", slog.Int64("id", id), slog.String("error", err.Error()))
	}
}

// HandleDelete releases the uploader's reference. The image stays
// reachable while notes still embed it.
//
// HTTP: DELETE /api/images/{id}
func (h *ImageHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.images.Delete(r.Context(), id, userID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
