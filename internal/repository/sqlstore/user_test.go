package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
)

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestUserCreate(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{Email: "test@example.com", PasswordHash: "hash"}
	if err := db.Users().Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Verify the user was modified in-place (pointer receiver)
	if user.ID == "" {
		t.Error("Create() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("Create() did not set user.CreatedAt")
	}
}

func TestUserCreate_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "dup@example.com")

	err := db.Users().Create(context.Background(), &model.User{Email: "dup@example.com"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Create() error = %v, want ErrConflict", err)
	}
}

func TestUserCreate_DuplicateGitHubID(t *testing.T) {
	db := newTestDB(t)
	ghID := int64(99999)

	first := &model.User{Email: "first@example.com", GitHubID: &ghID}
	if err := db.Users().Create(context.Background(), first); err != nil {
		t.Fatalf("Create() first: %v", err)
	}

	second := &model.User{Email: "second@example.com", GitHubID: &ghID}
	err := db.Users().Create(context.Background(), second)
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Create() error = %v, want ErrConflict", err)
	}
}

// =========================================================================
// LOOKUP TESTS
// =========================================================================

func TestUserGetByID(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "getbyid@example.com")

	found, err := db.Users().GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}
	if found.Email != "getbyid@example.com" {
		t.Errorf("Email = %q, want %q", found.Email, "getbyid@example.com")
	}
	if found.GitHubID != nil {
		t.Errorf("GitHubID = %v, want nil", *found.GitHubID)
	}
}

func TestUserGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Users().GetByID(context.Background(), "nonexistent-id")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestUserGetByEmail(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "lookup@example.com")

	found, err := db.Users().GetByEmail(context.Background(), "lookup@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}
	if found.PasswordHash != "hash" {
		t.Errorf("PasswordHash = %q, want %q", found.PasswordHash, "hash")
	}
}

// =========================================================================
// GITHUB LINK TESTS
// =========================================================================

func TestUserLinkGitHub(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	created := createTestUser(t, db, "link@example.com")

	if err := db.Users().LinkGitHub(ctx, created.ID, 778899); err != nil {
		t.Fatalf("LinkGitHub() error = %v", err)
	}

	found, err := db.Users().GetByGitHubID(ctx, 778899)
	if err != nil {
		t.Fatalf("GetByGitHubID() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}
	if found.GitHubID == nil || *found.GitHubID != 778899 {
		t.Errorf("GitHubID = %v, want 778899", found.GitHubID)
	}
}

func TestUserLinkGitHub_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	err := db.Users().LinkGitHub(context.Background(), "ghost", 1)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("LinkGitHub() error = %v, want ErrNotFound", err)
	}
}

func TestUserGetByGitHubID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Users().GetByGitHubID(context.Background(), 999999999)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByGitHubID() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// DELETE TESTS
// =========================================================================

func TestUserDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	created := createTestUser(t, db, "gone@example.com")

	if err := db.Users().Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := db.Users().GetByID(ctx, created.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() after Delete error = %v, want ErrNotFound", err)
	}
	if err := db.Users().Delete(ctx, created.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}
