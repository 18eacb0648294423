package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/journal/internal/apperror"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. With a plain string key, any
// package that knows the string can read or shadow the value. Only this
// package can create a key of type contextKey.
type contextKey string

const (
	userIDKey contextKey = "userID"
	tokenKey  contextKey = "sessionToken"
)

// SessionValidator resolves a session token to the user it belongs to.
// service.SessionManager implements it.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It verifies the signed "session" cookie, then asks the session store
// whether the token inside is still live. On success the user id and the raw
// token are stored in the request context. A missing, forged, unknown or
// expired session gets 401; a database failure gets 500.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(cookies *CookieSigner, sessions SessionValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := cookies.TokenFromRequest(r)
			if !ok {
				unauthorized(w)
				return
			}

			userID, err := sessions.Validate(r.Context(), token)
			if err != nil {
				if errors.Is(err, apperror.ErrUnauthenticated) {
					unauthorized(w)
					return
				}
				logger.Error("session lookup failed", slog.String("error", err.Error()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal_error","message":"An internal error occurred"}` + "\n"))
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}` + "\n"))
}

// UserIDFromContext retrieves the authenticated user's ID from the request context.
//
// Returns ("", false) outside a RequireAuth-protected route.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// SessionTokenFromContext returns the raw session token of the current
// request. Logout uses it to revoke exactly this session.
func SessionTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	return token, ok && token != ""
}
