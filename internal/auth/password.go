package auth

// WHY BCRYPT?
// bcrypt is a password hashing function specifically designed to be slow.
// That slowness is a security feature: it makes brute-force attacks expensive.
//
// bcrypt automatically:
//   - Generates a random salt (two users with the same password get different hashes)
//   - Embeds the salt in the output hash (no separate salt column needed)
//   - Controls the work factor via "cost" (higher = slower = harder to crack)
//
// Hash format (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 = 4096 iterations)
//	 version

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor. Roughly 250ms per hash on a modern
// server.
const defaultCost = 12

// MaxPasswordBytes is bcrypt's input limit. Longer passwords would be
// silently truncated, so they are rejected instead.
const MaxPasswordBytes = 72

// ErrPasswordMismatch is returned by Verify when the password is wrong.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService provides bcrypt hashing and verification.
//
// It's a struct (not free functions) so that the cost can be injected
// in tests: cost 4 makes tests run in milliseconds.
type PasswordService struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest creates a PasswordService with a custom cost.
// Use bcrypt.MinCost (4) in tests. Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash hashes the given plaintext password with bcrypt. The output includes
// the salt and cost; store it as-is.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify checks whether a plaintext password matches a stored bcrypt hash.
// Returns ErrPasswordMismatch if it doesn't.
//
// An empty hash (GitHub-only accounts) never matches anything.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if hash == "" {
		p.VerifyDummy(plaintext)
		return ErrPasswordMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// VerifyDummy burns the same CPU time as a real Verify. Login calls it when
// the email is unknown so response time doesn't reveal which emails have
// accounts.
func (p *PasswordService) VerifyDummy(plaintext string) {
	p.dummyOnce.Do(func() {
		// The error is impossible for a fixed short input and a valid cost.
		p.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("journal-dummy-password"), p.cost)
	})
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(plaintext))
}
