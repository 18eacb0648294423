// Package auth holds the credential plumbing: bcrypt password hashes, the
// signed session cookie, GitHub OAuth, and the middleware that turns a
// cookie into an authenticated user id.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. User logs in (email + password, or GitHub)
//  2. The session manager mints an opaque random token and stores its digest
//  3. The token is wrapped in a signed JWT and sent as the "session" cookie
//  4. On every API call, RequireAuth checks the JWT signature, then asks the
//     session manager whether the token is still live in the database
//
// WHY A JWT AROUND AN OPAQUE TOKEN?
// The database row is the source of truth: logout and account deletion take
// effect immediately, which a stateless JWT cannot offer. The signature is a
// cheap pre-filter. Garbage or tampered cookies are rejected without a
// database round trip.
//
// COOKIE VALUE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"iss":"journal","jti":"<opaque token>","exp":...,"iat":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "session"

const issuer = "journal"

// CookieSigner wraps and unwraps session tokens in HS256-signed JWTs.
//
// The same secret must be used for both operations. Rotating it logs every
// user out (their cookies stop verifying), which is the intended effect.
type CookieSigner struct {
	secret []byte
	secure bool
}

// NewCookieSigner creates a CookieSigner with the given secret.
// secure sets the Secure attribute on issued cookies (HTTPS only).
// Example: JOURNAL_COOKIE_SECRET=$(openssl rand -hex 32)
func NewCookieSigner(secret string, secure bool) (*CookieSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: cookie secret must be at least 16 characters")
	}
	return &CookieSigner{secret: []byte(secret), secure: secure}, nil
}

// GenerateSecret returns 32 random bytes, hex-encoded. Used when no secret
// is configured; cookies then stop verifying whenever the process restarts.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating cookie secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Sign wraps the opaque session token. The JWT's exp mirrors the session's
// expiry so a stale cookie is rejected before it reaches the database.
func (s *CookieSigner) Sign(token string, expiresAt time.Time) (string, error) {
	if token == "" {
		return "", errors.New("auth: empty session token")
	}

	c := jwt.RegisteredClaims{
		ID:        token,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    issuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing session cookie: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of a cookie value and returns the
// session token inside.
//
// ALGORITHM CONFUSION ATTACK:
// Without pinning the algorithm, a token with "alg":"none" might be accepted.
// jwt.WithValidMethods rejects anything that isn't HS256.
func (s *CookieSigner) Verify(value string) (string, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		value,
		&c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("auth: session cookie expired")
		}
		return "", fmt.Errorf("auth: invalid session cookie: %w", err)
	}
	if !token.Valid || c.ID == "" {
		return "", errors.New("auth: session cookie has no token")
	}
	return c.ID, nil
}

// Cookie builds the Set-Cookie value for a freshly created session.
//
// The cookie is:
//   - HttpOnly: JavaScript can't read it
//   - SameSite=Lax: not sent on cross-site POSTs
//   - Expires with the session
func (s *CookieSigner) Cookie(token string, expiresAt time.Time) (*http.Cookie, error) {
	value, err := s.Sign(token, expiresAt)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// ClearCookie tells the browser to drop the session cookie.
func (s *CookieSigner) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// TokenFromRequest returns the session token carried by the request's
// cookie, or false if there is none or it does not verify.
func (s *CookieSigner) TokenFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	token, err := s.Verify(cookie.Value)
	if err != nil {
		return "", false
	}
	return token, true
}
