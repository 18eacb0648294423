package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

// DefaultSessionTTL is how long a login lasts: four weeks.
const DefaultSessionTTL = 4 * 7 * 24 * time.Hour

// tokenBytes is the entropy of a session token (256 bits).
const tokenBytes = 32

// SessionManager issues and checks opaque login tokens.
//
// TOKEN STORAGE:
// The client receives the raw token. The database stores only its SHA-256
// digest, so someone who reads the sessions table still cannot log in as
// anybody. The token has 256 bits of entropy, so a plain (unsalted) hash is
// enough; this is not a password.
type SessionManager struct {
	store  repository.Store
	ttl    time.Duration
	now    Clock
	logger *slog.Logger
}

// NewSessionManager creates a SessionManager. ttl <= 0 means DefaultSessionTTL.
func NewSessionManager(store repository.Store, ttl time.Duration, logger *slog.Logger) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		store:  store,
		ttl:    ttl,
		now:    systemClock,
		logger: logger,
	}
}

// TTL returns the lifetime of newly created sessions.
func (m *SessionManager) TTL() time.Duration { return m.ttl }

// Create starts a new session for userID and returns the raw token. This is
// the only place the raw token is ever visible server-side.
func (m *SessionManager) Create(ctx context.Context, userID string) (string, *model.Session, error) {
	return m.create(ctx, m.store, userID)
}

// create issues a session through repos, which is the store itself or an
// open transaction.
func (m *SessionManager) create(ctx context.Context, repos repository.Tx, userID string) (string, *model.Session, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := m.now().UTC().Truncate(time.Millisecond)
	session := &model.Session{
		ID:        tokenDigest(token),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := repos.Sessions().Create(ctx, session); err != nil {
		return "", nil, fmt.Errorf("creating session for user %s: %w", userID, err)
	}

	m.logger.Debug("session created", slog.String("userID", userID))
	return token, session, nil
}

// Validate returns the user a token belongs to.
//
// Empty, unknown and expired tokens all fail with the same
// apperror.ErrUnauthenticated so the caller can't tell them apart. A lookup
// miss is final: nothing is retried. Validate never writes; expired rows are
// left for Sweep.
func (m *SessionManager) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", apperror.Unauthenticated("invalid session")
	}

	session, err := m.store.Sessions().Get(ctx, tokenDigest(token))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", apperror.Unauthenticated("invalid session")
		}
		return "", fmt.Errorf("looking up session: %w", err)
	}
	if session.Expired(m.now()) {
		return "", apperror.Unauthenticated("invalid session")
	}
	return session.UserID, nil
}

// Revoke ends the session identified by token. Revoking a token that does
// not exist (already logged out, expired and swept, never issued) succeeds.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	return m.revoke(ctx, m.store, token)
}

func (m *SessionManager) revoke(ctx context.Context, repos repository.Tx, token string) error {
	if token == "" {
		return nil
	}
	if err := repos.Sessions().Delete(ctx, tokenDigest(token)); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

// RevokeAll ends every session of a user.
func (m *SessionManager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := m.store.Sessions().DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoking sessions of user %s: %w", userID, err)
	}
	return n, nil
}

// Sweep deletes expired sessions and returns how many were removed.
func (m *SessionManager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.store.Sessions().DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("sweeping expired sessions: %w", err)
	}
	if n > 0 {
		m.logger.Info("expired sessions swept", slog.Int64("count", n))
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled. A failed
// sweep is logged and retried on the next tick. It returns nil once ctx is
// done, so it can run under an errgroup next to the HTTP server.
func (m *SessionManager) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("session sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
