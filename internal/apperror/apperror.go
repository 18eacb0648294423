// Package apperror defines the domain errors shared by every layer.
//
// Services return these; handlers map them to HTTP status codes. Anything
// that is NOT an *AppError is treated as a storage failure (HTTP 500) and
// never shown to the client verbatim.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("Validation Error")
	ErrConflict         = errors.New("conflict")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInvalidReference = errors.New("invalid reference")
	ErrTooLarge         = errors.New("too large")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated is returned for a missing, unknown or expired session, and
// for bad login credentials. The message is deliberately vague.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// InvalidReference is returned when note content embeds an image that does
// not exist or belongs to someone else. The whole note write is rolled back.
func InvalidReference(imageID int64) *AppError {
	return &AppError{
		Err:     ErrInvalidReference,
		Message: fmt.Sprintf("note references unknown image %d", imageID),
		Field:   "content",
	}
}

// TooLarge is returned when a payload exceeds its configured limit.
func TooLarge(field string, limit int64) *AppError {
	return &AppError{
		Err:     ErrTooLarge,
		Message: fmt.Sprintf("%s exceeds the maximum size of %d bytes", field, limit),
		Field:   field,
	}
}
