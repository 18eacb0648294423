package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "not_found", "message": "note not found with id 12"}
//
// Validation errors also name the offending field:
//   {"error": "validation_error", "message": "title is too long", "field": "title"}

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/journal/internal/apperror"
)

// maxJSONBody caps JSON request bodies. A note's content is at most 1 MiB;
// JSON escaping can roughly double that.
const maxJSONBody = 3 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Input field at fault, if any
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status must be set BEFORE the body: once Encode writes, the
// headers are on the wire and later changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error to its HTTP status and machine-readable
// type. errors.Is walks the whole chain, so a wrapped AppError still maps.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error" // 400
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized" // 401
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden" // 403
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found" // 404
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict" // 409
	case errors.Is(err, apperror.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large" // 413
	case errors.Is(err, apperror.ErrInvalidReference):
		return http.StatusUnprocessableEntity, "invalid_reference" // 422
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it.
//
// Anything that is not an *apperror.AppError is a storage failure: it is
// logged with the request's method and path and the client gets a generic
// 500. The raw message might contain SQL or file paths, so it never leaves
// the server.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, errorType := errorStatus(err)
		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
			Field:   appErr.Field,
		})
		return
	}

	logger.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads a JSON body into dst. Unknown fields are rejected so a
// misspelt field fails instead of being silently dropped.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperror.TooLarge("body", maxErr.Limit)
		}
		return apperror.ValidationFailed("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("id", fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}
