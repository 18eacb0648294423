// Package repository declares the storage interfaces the service layer
// depends on. The only implementation lives in repository/sqlstore; the
// service layer never imports it.
package repository

import (
	"context"
	"time"

	"github.com/sakif/journal/internal/model"
)

// ListOptions controls note listing.
type ListOptions struct {
	Limit  int
	Offset int

	DiaryOnly      bool
	FavouritesOnly bool

	// WithoutContent skips loading note content (overview listings).
	WithoutContent bool
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	LinkGitHub(ctx context.Context, userID string, githubID int64) error
	Delete(ctx context.Context, id string) error
}

// SessionRepository stores sessions keyed by the digest of their token.
type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	// Delete removes the session if present. Deleting an absent session is
	// not an error.
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type NoteRepository interface {
	Create(ctx context.Context, note *model.Note) error
	GetByID(ctx context.Context, id int64) (*model.Note, error)
	// GetForUpdate loads the note and holds a write lock on its row until
	// the surrounding transaction ends. Only meaningful inside Store.WithTx.
	GetForUpdate(ctx context.Context, id int64) (*model.Note, error)
	List(ctx context.Context, userID string, opts ListOptions) ([]model.Note, error)
	Update(ctx context.Context, note *model.Note) error
	Delete(ctx context.Context, id int64) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

type ImageRepository interface {
	Create(ctx context.Context, image *model.Image) error
	GetByID(ctx context.Context, id int64) (*model.Image, error)
	// Owner is the existence + owner check: it returns the uploader's user
	// id, or apperror.ErrNotFound.
	Owner(ctx context.Context, id int64) (string, error)
	// List returns image metadata (no bytes), newest first.
	List(ctx context.Context, userID string) ([]model.Image, error)
	// AdjustReferenceCount applies delta, clamping at zero, and deletes the
	// row in the same statement sequence when the count reaches zero.
	AdjustReferenceCount(ctx context.Context, id int64, delta int) (count int, deleted bool, err error)
	// ReleaseUpload drops the uploader's implicit reference exactly once.
	// It returns apperror.ErrNotFound if the image is missing or already
	// released.
	ReleaseUpload(ctx context.Context, id int64) (count int, deleted bool, err error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// Tx groups the repositories bound to one database transaction (or to the
// connection pool, when used outside WithTx).
type Tx interface {
	Users() UserRepository
	Sessions() SessionRepository
	Notes() NoteRepository
	Images() ImageRepository
}

// Store is the transactional store.
//
// WithTx runs fn in a single transaction: it commits if fn returns nil and
// rolls back otherwise, including when ctx is cancelled. fn may be invoked a
// second time if the first attempt failed on transient lock contention, so
// it must not have side effects outside the transaction.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
