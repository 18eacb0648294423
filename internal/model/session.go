package model

import "time"

// Session binds an opaque login token to exactly one user.
//
// ID is the SHA-256 digest of the token, not the token itself. The raw token
// only ever lives in the client's cookie.
type Session struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
