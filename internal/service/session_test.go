package service

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/journal/internal/apperror"
)

func TestSessionCreateValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newUser(t, "s@example.com")

	token, session, err := f.sessions.Create(ctx, user.ID)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, raw, tokenBytes)

	// Only the digest is stored.
	assert.NotEqual(t, token, session.ID)
	assert.Equal(t, tokenDigest(token), session.ID)
	assert.Equal(t, time.Hour, session.ExpiresAt.Sub(session.CreatedAt))

	got, err := f.sessions.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got)
}

func TestSessionTokensAreUnique(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "u@example.com")

	seen := make(map[string]bool)
	for range 20 {
		token, _, err := f.sessions.Create(context.Background(), user.ID)
		require.NoError(t, err)
		assert.False(t, seen[token], "duplicate token")
		seen[token] = true
	}
}

// Scenario: a token that was never issued is Unauthenticated.
func TestSessionValidate_Unknown(t *testing.T) {
	f := newFixture(t)

	for _, token := range []string{"abc", ""} {
		_, err := f.sessions.Validate(context.Background(), token)
		assert.True(t, errors.Is(err, apperror.ErrUnauthenticated), "token %q: %v", token, err)
	}
}

func TestSessionValidate_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newUser(t, "e@example.com")

	token, _, err := f.sessions.Create(ctx, user.ID)
	require.NoError(t, err)

	f.sessions.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = f.sessions.Validate(ctx, token)
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)

	// Validate never deletes; the sweeper does.
	n, err := f.sessions.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSessionRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newUser(t, "r@example.com")

	token, _, err := f.sessions.Create(ctx, user.ID)
	require.NoError(t, err)

	require.NoError(t, f.sessions.Revoke(ctx, token))
	_, err = f.sessions.Validate(ctx, token)
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)

	// Ensure-absent semantics.
	assert.NoError(t, f.sessions.Revoke(ctx, token))
	assert.NoError(t, f.sessions.Revoke(ctx, "never-issued"))
}

func TestSessionRevokeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newUser(t, "all@example.com")
	other := f.newUser(t, "other@example.com")

	t1, _, _ := f.sessions.Create(ctx, user.ID)
	t2, _, _ := f.sessions.Create(ctx, user.ID)
	t3, _, _ := f.sessions.Create(ctx, other.ID)

	n, err := f.sessions.RevokeAll(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, tok := range []string{t1, t2} {
		_, err := f.sessions.Validate(ctx, tok)
		assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	}
	_, err = f.sessions.Validate(ctx, t3)
	assert.NoError(t, err)
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	user := f.newUser(t, "sweep@example.com")

	token, _, err := f.sessions.Create(ctx, user.ID)
	require.NoError(t, err)
	f.sessions.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	done := make(chan error, 1)
	go func() { done <- f.sessions.RunSweeper(ctx, 10*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		_, err := f.store.Sessions().Get(context.Background(), tokenDigest(token))
		return errors.Is(err, apperror.ErrNotFound)
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}
