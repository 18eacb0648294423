// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces ownership, orchestrates transactions
//	Repository (Data layer)  → reads/writes to the database
//
// THE DEPENDENCY CHAIN:
//
//	main.go creates:  Store → Services → Handlers
//	At runtime:       Handler calls Service calls Repository calls DB
//
// Services take a repository.Store (interface), never a *sqlstore.DB. The
// store hands out transactions; every operation that touches more than one
// row (a note write plus its image reference counts, an account deletion)
// runs inside a single Store.WithTx call, so it either fully happens or not
// at all.
package service

import (
	"errors"
	"time"

	"github.com/sakif/journal/internal/apperror"
)

// Validation and paging limits.
const (
	MaxTitleLength   = 200
	MaxContentLength = 1 << 20 // 1 MiB of note text
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Clock returns the current time. Services take one so tests can pin it.
type Clock func() time.Time

func systemClock() time.Time { return time.Now() }

// nextUpdateTime returns max(now, prev+1) in unix milliseconds: a note's
// update_time moves forward on every write even when two writes land in the
// same millisecond or the wall clock steps backwards.
func nextUpdateTime(now time.Time, prev int64) int64 {
	return max(now.UnixMilli(), prev+1)
}

// clampPage normalises limit/offset the same way for every listing.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}


// isAppError reports whether err is a domain error. Anything else is a
// storage failure.
func isAppError(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr)
}
