package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB reads and writes the users table.
type UserDB struct {
	q querier
	d dialect
}

const userColumns = `id, email, password_hash, github_id, created_at`

// Create inserts a new user, generating its ID and CreatedAt.
// Returns apperror.ErrConflict if the email (or GitHub ID) is already taken.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	user.CreatedAt = time.Now().UTC()

	_, err := u.q.ExecContext(ctx, u.d.rebind(
		`INSERT INTO users (id, email, password_hash, github_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`),
		user.ID,
		user.Email,
		user.PasswordHash,
		user.GitHubID,
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlstore: inserting user %s: %w", user.Email, err)
	}
	return nil
}

// GetByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	return u.getOne(ctx, "id", id, id)
}

// GetByEmail looks a user up by (already normalised) email.
func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return u.getOne(ctx, "email", email, email)
}

func (u *UserDB) GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	return u.getOne(ctx, "github_id", githubID, "github:"+strconv.FormatInt(githubID, 10))
}

// getOne runs SELECT ... WHERE <column> = ?. column is always a constant
// from this file, never user input.
func (u *UserDB) getOne(ctx context.Context, column string, value any, label string) (*model.User, error) {
	var user model.User
	var githubID sql.NullInt64

	err := u.q.QueryRowContext(ctx, u.d.rebind(
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`),
		value,
	).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&githubID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", label)
		}
		return nil, fmt.Errorf("sqlstore: getting user %s: %w", label, err)
	}
	if githubID.Valid {
		user.GitHubID = &githubID.Int64
	}
	return &user, nil
}

// LinkGitHub attaches a GitHub account to an existing user.
func (u *UserDB) LinkGitHub(ctx context.Context, userID string, githubID int64) error {
	result, err := u.q.ExecContext(ctx, u.d.rebind(
		`UPDATE users SET github_id = ? WHERE id = ?`),
		githubID, userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("github account", strconv.FormatInt(githubID, 10))
		}
		return fmt.Errorf("sqlstore: linking github account to user %s: %w", userID, err)
	}
	return requireAffected(result, "user", userID)
}

// Delete removes the user row. Dependent rows must be removed first (or by
// ON DELETE CASCADE); the service does it explicitly in one transaction.
func (u *UserDB) Delete(ctx context.Context, id string) error {
	result, err := u.q.ExecContext(ctx, u.d.rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqlstore: deleting user %s: %w", id, err)
	}
	return requireAffected(result, "user", id)
}

// requireAffected turns "0 rows affected" into apperror.ErrNotFound.
func requireAffected(result sql.Result, resource, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
