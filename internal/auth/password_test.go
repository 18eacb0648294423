package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// newTestPasswordService returns a PasswordService with bcrypt cost 4, the
// minimum the library allows.
func newTestPasswordService() *PasswordService {
	return NewPasswordServiceForTest(bcrypt.MinCost)
}

// =========================================================================
// Hash TESTS
// =========================================================================

func TestHash_OutputLooksBcrypt(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("password123")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("Hash() does not look like a bcrypt hash: %q", hash)
	}
}

func TestHash_SamePasswordProducesDifferentHashes(t *testing.T) {
	ps := newTestPasswordService()

	hash1, _ := ps.Hash("same-password")
	hash2, _ := ps.Hash("same-password")

	if hash1 == hash2 {
		t.Error("Hash() produced identical hashes for the same password (salt must be random)")
	}
}

func TestHash_Length(t *testing.T) {
	ps := newTestPasswordService()

	if _, err := ps.Hash(strings.Repeat("a", MaxPasswordBytes)); err != nil {
		t.Fatalf("Hash() should accept a %d-byte password, got error: %v", MaxPasswordBytes, err)
	}
	if _, err := ps.Hash(strings.Repeat("a", MaxPasswordBytes+1)); err == nil {
		t.Fatal("Hash() should reject passwords longer than 72 bytes")
	}
}

// =========================================================================
// Verify TESTS
// =========================================================================

func TestVerify_CorrectPassword(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if err := ps.Verify(hash, "correct-horse-battery-staple"); err != nil {
		t.Errorf("Verify() should return nil for a correct password, got: %v", err)
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	ps := newTestPasswordService()
	hash, _ := ps.Hash("the-real-password")

	err := ps.Verify(hash, "the-wrong-password")
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("Verify() error = %v, want ErrPasswordMismatch", err)
	}
}

// Accounts created through GitHub have no password hash.
func TestVerify_EmptyHashNeverMatches(t *testing.T) {
	ps := newTestPasswordService()

	for _, pw := range []string{"", "anything"} {
		if err := ps.Verify("", pw); !errors.Is(err, ErrPasswordMismatch) {
			t.Errorf("Verify(\"\", %q) error = %v, want ErrPasswordMismatch", pw, err)
		}
	}
}

func TestVerify_GarbageHash(t *testing.T) {
	ps := newTestPasswordService()

	err := ps.Verify("not-a-valid-bcrypt-hash", "password")
	if err == nil {
		t.Fatal("Verify() should return an error for a garbage hash")
	}
	if errors.Is(err, ErrPasswordMismatch) {
		t.Error("a malformed hash should not look like a wrong password")
	}
}

func TestVerifyDummy_DoesNotPanic(t *testing.T) {
	ps := newTestPasswordService()
	ps.VerifyDummy("whatever")
	ps.VerifyDummy("again")
}

func TestHashVerify_RoundTrip(t *testing.T) {
	ps := newTestPasswordService()

	cases := []struct {
		name     string
		password string
	}{
		{"simple alphanumeric", "hello123"},
		{"special characters", "p@$$w0rd!#%"},
		{"unicode", "пароль-密码"},
		{"whitespace", "  leading and trailing  "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hash, err := ps.Hash(tc.password)
			if err != nil {
				t.Fatalf("Hash(%q) error = %v", tc.password, err)
			}
			if err := ps.Verify(hash, tc.password); err != nil {
				t.Errorf("Verify() failed for %q: %v", tc.password, err)
			}
		})
	}
}
