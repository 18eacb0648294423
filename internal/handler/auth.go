package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/journal/internal/auth"
	"github.com/sakif/journal/internal/service"
)

const oauthStateCookie = "oauth_state"

// GitHubExchanger is the part of auth.GitHubProvider the handler needs.
type GitHubExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// AuthHandler manages registration, login, logout and the account itself.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister / HandleLogin → check credentials, set the session cookie
//   - HandleGitHubLogin / HandleGitHubCallback → the OAuth flow
//   - HandleLogout → revoke the session, clear the cookie
//   - HandleMe / HandleDeleteMe → the logged-in user's account
//
// The handler only moves data between HTTP and AuthService; the cookie is
// the one thing it owns.
type AuthHandler struct {
	auth    *service.AuthService
	cookies *auth.CookieSigner
	github  GitHubExchanger // nil when GitHub login is not configured
	logger  *slog.Logger
}

// NewAuthHandler creates an AuthHandler. github may be nil.
func NewAuthHandler(
	authService *service.AuthService,
	cookies *auth.CookieSigner,
	github GitHubExchanger,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:    authService,
		cookies: cookies,
		github:  github,
		logger:  logger,
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// setSession writes the cookie for a fresh login.
func (h *AuthHandler) setSession(w http.ResponseWriter, res *service.LoginResult) error {
	cookie, err := h.cookies.Cookie(res.Token, res.Session.ExpiresAt)
	if err != nil {
		return err
	}
	http.SetCookie(w, cookie)
	return nil
}

// HandleRegister creates an account and logs it in.
//
// HTTP: POST /api/auth/register
// REQUEST BODY: {"email": "ann@example.com", "password": "..."}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.auth.Register(r.Context(), in.Email, in.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.setSession(w, res); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, res.User)
}

// HandleLogin checks email and password and sets a new session cookie.
//
// HTTP: POST /api/auth/login
//
// Whatever session the browser already carried is revoked, so a session id
// planted before login is never upgraded to an authenticated one.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	previous, _ := h.cookies.TokenFromRequest(r)
	res, err := h.auth.Login(r.Context(), in.Email, in.Password, previous)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.setSession(w, res); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, res.User)
}

// HandleLogout revokes the current session and clears the cookie.
//
// HTTP: POST /api/auth/logout
// Auth: Required
//
// Unlike a bare JWT, the session row is deleted, so a copy of the cookie
// stops working immediately.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.SessionTokenFromContext(r.Context())
	if err := h.auth.Logout(r.Context(), token); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, h.cookies.ClearCookie())
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /api/me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.auth.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleDeleteMe deletes the account with all its notes, images and
// sessions.
//
// HTTP: DELETE /api/me
// REQUEST BODY: {"password": "..."} (may be omitted for GitHub-only accounts)
// Auth: Required
func (h *AuthHandler) HandleDeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var in struct {
		Password string `json:"password"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	if err := h.auth.DeleteAccount(r.Context(), userID, in.Password); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, h.cookies.ClearCookie())
	w.WriteHeader(http.StatusNoContent)
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived cookie and into the GitHub URL.
// The callback only proceeds if both match, which proves the flow started
// here.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth login flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub user profile
//  3. Find, link or create the account
//  4. Set the session cookie and redirect to the app
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	// --- Step 2: Exchange code for GitHub user profile ---
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusBadGateway)
		return
	}

	// --- Step 3: Find, link or create the account ---
	previous, _ := h.cookies.TokenFromRequest(r)
	res, err := h.auth.LoginWithGitHub(r.Context(), ghUser, previous)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// --- Step 4: Session cookie ---
	if err := h.setSession(w, res); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
