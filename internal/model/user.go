// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// User represents a registered account.
//
// IDs are xids generated by the repository: 20 chars, URL-safe and sortable
// by creation time.
//
// WHY PasswordHash HAS `json:"-"`?
// The struct is returned by /api/me. The "-" tag tells encoding/json to skip
// the field entirely, so the bcrypt hash can never leak into a response even
// if a handler forgets to build a separate DTO.
//
// GitHubID is nil for accounts that registered with email and password.
// Accounts created through GitHub login have an empty PasswordHash and can
// only log in through GitHub.
type User struct {
	ID           string    `json:"id"        db:"id"`
	Email        string    `json:"email"     db:"email"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	GitHubID     *int64    `json:"githubId,omitempty" db:"github_id"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}
