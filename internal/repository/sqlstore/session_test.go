package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
)

func TestSessionCreateGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "session@example.com")

	now := time.Now().UTC().Truncate(time.Millisecond)
	session := &model.Session{
		ID:        "digest-1",
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Sessions().Create(ctx, session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := db.Sessions().Get(ctx, "digest-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != user.ID {
		t.Errorf("UserID = %q, want %q", got.UserID, user.ID)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if !got.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, now.Add(time.Hour))
	}
}

func TestSessionCreate_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	err := db.Sessions().Create(context.Background(), &model.Session{
		ID:        "orphan",
		UserID:    "no-such-user",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err == nil {
		t.Fatal("Create() should fail on a foreign key violation")
	}
}

func TestSessionGet_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Sessions().Get(context.Background(), "missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

// Deleting a session that is already gone is not an error.
func TestSessionDelete_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "logout@example.com")

	now := time.Now()
	if err := db.Sessions().Create(ctx, &model.Session{ID: "s", UserID: user.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := range 2 {
		if err := db.Sessions().Delete(ctx, "s"); err != nil {
			t.Fatalf("Delete() #%d error = %v", i+1, err)
		}
	}
	if _, err := db.Sessions().Get(ctx, "s"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestSessionDeleteByUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "alice@example.com")
	bob := createTestUser(t, db, "bob@example.com")

	now := time.Now()
	for _, s := range []*model.Session{
		{ID: "a1", UserID: alice.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{ID: "a2", UserID: alice.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{ID: "b1", UserID: bob.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	} {
		if err := db.Sessions().Create(ctx, s); err != nil {
			t.Fatalf("Create(%s) error = %v", s.ID, err)
		}
	}

	n, err := db.Sessions().DeleteByUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("DeleteByUser() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteByUser() removed %d, want 2", n)
	}
	if _, err := db.Sessions().Get(ctx, "b1"); err != nil {
		t.Errorf("bob's session was removed: %v", err)
	}
}

func TestSessionDeleteExpired(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "sweep@example.com")

	now := time.Now()
	for _, s := range []*model.Session{
		{ID: "old", UserID: user.ID, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
		{ID: "edge", UserID: user.ID, CreatedAt: now.Add(-time.Hour), ExpiresAt: now},
		{ID: "live", UserID: user.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	} {
		if err := db.Sessions().Create(ctx, s); err != nil {
			t.Fatalf("Create(%s) error = %v", s.ID, err)
		}
	}

	n, err := db.Sessions().DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteExpired() removed %d, want 2", n)
	}
	if _, err := db.Sessions().Get(ctx, "live"); err != nil {
		t.Errorf("live session was removed: %v", err)
	}
}
