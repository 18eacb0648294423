package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

var _ repository.SessionRepository = (*SessionDB)(nil)

// SessionDB reads and writes the sessions table.
//
// Timestamps are stored as Unix milliseconds so that the expiry comparison
// in DeleteExpired is a plain integer compare on both engines.
type SessionDB struct {
	q querier
	d dialect
}

func (s *SessionDB) Create(ctx context.Context, session *model.Session) error {
	_, err := s.q.ExecContext(ctx, s.d.rebind(
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`),
		session.ID,
		session.UserID,
		session.CreatedAt.UnixMilli(),
		session.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("session", session.UserID)
		}
		return fmt.Errorf("sqlstore: inserting session for user %s: %w", session.UserID, err)
	}
	return nil
}

// Get returns the session stored under id. Expired sessions are returned as
// well; deciding what "expired" means is the caller's business.
func (s *SessionDB) Get(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	var createdAt, expiresAt int64

	err := s.q.QueryRowContext(ctx, s.d.rebind(
		`SELECT id, user_id, created_at, expires_at FROM sessions WHERE id = ?`), id,
	).Scan(&session.ID, &session.UserID, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Never echo the key into the error.
			return nil, apperror.NotFound("session", "")
		}
		return nil, fmt.Errorf("sqlstore: getting session: %w", err)
	}

	session.CreatedAt = time.UnixMilli(createdAt).UTC()
	session.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return &session, nil
}

func (s *SessionDB) Delete(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, s.d.rebind(`DELETE FROM sessions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("sqlstore: deleting session: %w", err)
	}
	return nil
}

func (s *SessionDB) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := s.q.ExecContext(ctx, s.d.rebind(`DELETE FROM sessions WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: deleting sessions of user %s: %w", userID, err)
	}
	return result.RowsAffected()
}

// DeleteExpired removes every session whose expiry is at or before now.
func (s *SessionDB) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.q.ExecContext(ctx, s.d.rebind(
		`DELETE FROM sessions WHERE expires_at <= ?`), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlstore: deleting expired sessions: %w", err)
	}
	return result.RowsAffected()
}
