package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPI = "https://api.github.com"

// GitHubUser is the portion of the GitHub profile we care about.
//
// Email is the account's primary address. EmailVerified is true only when
// GitHub's /user/emails endpoint reports it as verified; an unverified
// address is never used to link an existing account.
type GitHubUser struct {
	ID            int64  `json:"id"`    // stable, never changes
	Login         string `json:"login"` // username, can change
	Email         string `json:"email"`
	EmailVerified bool   `json:"-"`
}

// NoReplyEmail is GitHub's per-account no-reply address. Used as the
// account email when the user keeps their address private.
func (u *GitHubUser) NoReplyEmail() string {
	return fmt.Sprintf("%d+%s@users.noreply.github.com", u.ID, strings.ToLower(u.Login))
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. Redirect the user to GitHub's authorization endpoint with ClientID + scopes.
//  2. The user approves (or denies) on GitHub.
//  3. GitHub redirects back to the callback URL with a short-lived "code".
//  4. The server exchanges the code for an access token (server-to-server).
//  5. The server calls the GitHub API for the profile and email addresses.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

// NewGitHubProvider creates a GitHubProvider with the given credentials.
//
// callbackURL must match the "Authorization callback URL" of the OAuth App.
// Example: "http://localhost:8080/auth/github/callback"
//
// Scopes:
//   - "read:user"  public profile (ID, login)
//   - "user:email" email addresses with their verification state
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: githubAPI,
	}
}

// newGitHubProviderWithBase points both the OAuth endpoints and the API at
// baseURL. Tests use it with an httptest server.
func newGitHubProviderWithBase(baseURL string) *GitHubProvider {
	p := NewGitHubProvider("client-id", "client-secret", "http://localhost/auth/github/callback")
	p.config.Endpoint = oauth2.Endpoint{
		AuthURL:  baseURL + "/login/oauth/authorize",
		TokenURL: baseURL + "/login/oauth/access_token",
	}
	p.apiBase = baseURL
	return p
}

// AuthURL returns the URL to redirect the user to for authorization.
//
// STATE PARAMETER:
// The state is a random string stored in a cookie before redirecting. The
// callback checks that GitHub echoed it back unchanged, which stops CSRF
// logins into an attacker's account.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange completes the OAuth flow: trades the authorization code for a
// GitHub profile with its primary email.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubUser, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// oauth2.Config.Client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, oauthToken)

	var ghUser GitHubUser
	if err := p.getJSON(ctx, client, "/user", &ghUser); err != nil {
		return nil, err
	}
	if ghUser.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	// The profile email is whatever the user chose to show publicly and
	// carries no verification flag. /user/emails has both.
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := p.getJSON(ctx, client, "/user/emails", &emails); err == nil {
		for _, e := range emails {
			if e.Primary && e.Verified {
				ghUser.Email = e.Email
				ghUser.EmailVerified = true
				break
			}
		}
	}

	return &ghUser, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("auth: building GitHub %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling GitHub %s API: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: GitHub %s API returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("auth: decoding GitHub %s response: %w", path, err)
	}
	return nil
}
