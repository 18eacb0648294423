package service

// AuthService is the business logic layer for accounts and logins:
//
//	AuthHandler (HTTP) → AuthService (business rules) → Store (users, sessions, ...)
//	                   ↘ PasswordService (bcrypt)
//	                   ↘ SessionManager (opaque tokens)
//
// It never sets cookies or reads requests; the handler turns a LoginResult
// into a Set-Cookie header.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/auth"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

const (
	MinPasswordBytes = 8
	MaxEmailLength   = 254
)

// AuthService handles registration, login and account deletion.
type AuthService struct {
	store     repository.Store
	passwords *auth.PasswordService
	sessions  *SessionManager
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	store repository.Store,
	passwords *auth.PasswordService,
	sessions *SessionManager,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		store:     store,
		passwords: passwords,
		sessions:  sessions,
		logger:    logger,
	}
}

// LoginResult bundles the user and the freshly issued session so the caller
// can set the cookie and respond in one step.
type LoginResult struct {
	User    *model.User
	Token   string
	Session *model.Session
}

// NormalizeEmail trims and lower-cases an email address. Emails are unique
// case-insensitively: "Ann@Example.com" and "ann@example.com" are the same
// account.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}
	if len(email) > MaxEmailLength {
		return apperror.ValidationFailed("email",
			fmt.Sprintf("email must be %d characters or less", MaxEmailLength))
	}
	// ParseAddress accepts "Name <addr>" too; only a bare address is allowed.
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperror.ValidationFailed("email", "email is not a valid address")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordBytes {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordBytes))
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}
	return nil
}

// Register creates an email/password account and logs it in.
// Returns apperror.ErrConflict if the email is taken.
func (s *AuthService) Register(ctx context.Context, email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", email, err)
	}

	user := &model.User{Email: email, PasswordHash: hash}
	var result *LoginResult
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		token, session, err := s.sessions.create(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		result = &LoginResult{User: user, Token: token, Session: session}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "an account with this email already exists",
				Field:   "email",
			}
		}
		return nil, fmt.Errorf("registering %s: %w", email, err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID))
	return result, nil
}

// Login checks email and password and issues a new session.
//
// Unknown email and wrong password produce the same error, and a dummy bcrypt
// comparison runs for unknown emails so both take the same time.
//
// previousToken, if non-empty, is the session the client already carried. It
// is revoked so a session identifier planted before login (session fixation)
// never becomes authenticated.
func (s *AuthService) Login(ctx context.Context, email, password, previousToken string) (*LoginResult, error) {
	email = NormalizeEmail(email)
	invalid := apperror.Unauthenticated("invalid email or password")

	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.passwords.VerifyDummy(password)
			return nil, invalid
		}
		return nil, fmt.Errorf("logging in: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("login failed", slog.String("userID", user.ID))
			return nil, invalid
		}
		return nil, fmt.Errorf("logging in: %w", err)
	}

	return s.startSession(ctx, user, previousToken)
}

// LoginWithGitHub logs in through a GitHub profile.
//
// Matching order:
//  1. an account already linked to this GitHub id
//  2. an account with the same email, if GitHub says the email is verified;
//     the GitHub id is linked to it
//  3. otherwise a new account without a password
func (s *AuthService) LoginWithGitHub(ctx context.Context, gh *auth.GitHubUser, previousToken string) (*LoginResult, error) {
	if gh == nil || gh.ID == 0 {
		return nil, errors.New("service/auth: GitHub user must not be empty")
	}

	var user *model.User
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		user, err = tx.Users().GetByGitHubID(ctx, gh.ID)
		if err == nil || !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		email := NormalizeEmail(gh.Email)
		if gh.EmailVerified && email != "" {
			user, err = tx.Users().GetByEmail(ctx, email)
			switch {
			case err == nil:
				if user.GitHubID != nil {
					// Linked to a different GitHub account already.
					return &apperror.AppError{
						Err:     apperror.ErrConflict,
						Message: "this email belongs to an account linked to another GitHub user",
						Field:   "email",
					}
				}
				if err := tx.Users().LinkGitHub(ctx, user.ID, gh.ID); err != nil {
					return err
				}
				id := gh.ID
				user.GitHubID = &id
				s.logger.Info("github account linked", slog.String("userID", user.ID))
				return nil
			case !errors.Is(err, apperror.ErrNotFound):
				return err
			}
		}

		if email == "" || !gh.EmailVerified {
			email = NormalizeEmail(gh.NoReplyEmail())
		}
		id := gh.ID
		user = &model.User{Email: email, GitHubID: &id}
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		s.logger.Info("user registered via GitHub", slog.String("userID", user.ID))
		return nil
	})
	if err != nil {
		if isAppError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: github login (githubID=%d): %w", gh.ID, err)
	}

	return s.startSession(ctx, user, previousToken)
}

func (s *AuthService) startSession(ctx context.Context, user *model.User, previousToken string) (*LoginResult, error) {
	var result *LoginResult
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := s.sessions.revoke(ctx, tx, previousToken); err != nil {
			return err
		}
		token, session, err := s.sessions.create(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		result = &LoginResult{User: user, Token: token, Session: session}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("starting session for user %s: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return result, nil
}

// Logout revokes the given session. Logging out twice is not an error.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// GetUser returns the user for the given internal ID.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("no user")
	}
	return s.store.Users().GetByID(ctx, userID)
}

// DeleteAccount removes a user and everything they own: sessions, notes,
// images. Accounts with a password must confirm it; GitHub-only accounts
// have none.
//
// Note deletion skips reconciliation. A note can only embed its owner's
// images and all of those are deleted in the same transaction, so no other
// user's reference counts are involved.
func (s *AuthService) DeleteAccount(ctx context.Context, userID, password string) error {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.PasswordHash != "" {
		if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
			if errors.Is(err, auth.ErrPasswordMismatch) {
				return apperror.Forbidden("password is incorrect")
			}
			return fmt.Errorf("deleting account: %w", err)
		}
	}

	var sessions, notes, images int64
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		if sessions, err = tx.Sessions().DeleteByUser(ctx, userID); err != nil {
			return err
		}
		if notes, err = tx.Notes().DeleteByUser(ctx, userID); err != nil {
			return err
		}
		if images, err = tx.Images().DeleteByUser(ctx, userID); err != nil {
			return err
		}
		return tx.Users().Delete(ctx, userID)
	})
	if err != nil {
		if isAppError(err) {
			return err
		}
		s.logger.Error("failed to delete account",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("deleting account %s: %w", userID, err)
	}

	s.logger.Info("account deleted",
		slog.String("userID", userID),
		slog.Int64("sessions", sessions),
		slog.Int64("notes", notes),
		slog.Int64("images", images),
	)
	return nil
}
