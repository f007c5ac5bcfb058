package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"saasbase/internal/types"
)

// Provider endpoint defaults, overridable in tests through the provider
// configs.
const (
	githubAuthBaseURL = "https://github.com/login/oauth/authorize"
	githubTokenURL    = "https://github.com/login/oauth/access_token"
	githubUserURL     = "https://api.github.com/user"
	githubEmailsURL   = "https://api.github.com/user/emails"

	googleAuthBaseURL = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// oauthRetryPolicy keeps interactive sign-in latency bounded: a single
// retry, short waits.
func oauthRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 1,
		MinWait:    500 * time.Millisecond,
		MaxWait:    3 * time.Second,
	}
}

// ---------------------------------------------------------------------------
// GitHub Provider
// ---------------------------------------------------------------------------

// GitHubProviderConfig holds the configuration for the GitHub OAuth provider.
type GitHubProviderConfig struct {
	ClientID     string
	ClientSecret types.SecretString
	RedirectURL  string
	Logger       *slog.Logger

	// Override URLs for testing
	AuthBaseURL string
	TokenURL    string
	UserURL     string
	EmailsURL   string
}

// GitHubProvider implements OAuthProvider for GitHub OAuth 2.0. Exchange
// performs up to three calls: code-for-token, the user profile, and (when the
// profile hides the email) the emails listing to find the primary verified
// address.
type GitHubProvider struct {
	base         *BaseClient
	clientID     string
	clientSecret types.SecretString
	redirectURL  string
	authBaseURL  string
	tokenURL     string
	userURL      string
	emailsURL    string
	logger       *slog.Logger
}

// NewGitHubProvider creates a GitHubProvider on the given HTTP client.
func NewGitHubProvider(httpClient *http.Client, cfg GitHubProviderConfig) *GitHubProvider {
	return NewGitHubProviderWithBase(
		NewBaseClient(httpClient, "github-oauth", oauthRetryPolicy()),
		cfg,
	)
}

// NewGitHubProviderWithBase creates a GitHubProvider with a caller-provided
// BaseClient.
func NewGitHubProviderWithBase(base *BaseClient, cfg GitHubProviderConfig) *GitHubProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &GitHubProvider{
		base:         base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		authBaseURL:  cfg.AuthBaseURL,
		tokenURL:     cfg.TokenURL,
		userURL:      cfg.UserURL,
		emailsURL:    cfg.EmailsURL,
		logger:       logger,
	}
	if p.authBaseURL == "" {
		p.authBaseURL = githubAuthBaseURL
	}
	if p.tokenURL == "" {
		p.tokenURL = githubTokenURL
	}
	if p.userURL == "" {
		p.userURL = githubUserURL
	}
	if p.emailsURL == "" {
		p.emailsURL = githubEmailsURL
	}
	return p
}

// Name returns "github".
func (p *GitHubProvider) Name() string {
	return "github"
}

// AuthorizeURL builds the GitHub consent URL for the given CSRF state.
func (p *GitHubProvider) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("redirect_uri", p.redirectURL)
	params.Set("scope", "read:user user:email")
	params.Set("state", state)
	return p.authBaseURL + "?" + params.Encode()
}

type githubTokenResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange trades the authorization code for a normalized profile.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*OAuthProfile, error) {
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("client_secret", p.clientSecret.Unmask())
	params.Set("code", code)
	params.Set("redirect_uri", p.redirectURL)

	var token githubTokenResponse
	if err := p.postForm(ctx, p.tokenURL, params, &token); err != nil {
		return nil, err
	}
	if token.Error != "" || token.AccessToken == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamOAuth,
			fmt.Sprintf("GitHub token exchange failed: %s %s", token.Error, token.ErrorDesc), nil)
	}

	var user githubUser
	if err := p.getJSON(ctx, p.userURL, token.AccessToken, &user); err != nil {
		return nil, err
	}

	email := user.Email
	verified := false
	if email == "" {
		// Email hidden on the profile; list addresses and take the primary
		// verified one.
		var emails []githubEmail
		if err := p.getJSON(ctx, p.emailsURL, token.AccessToken, &emails); err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				verified = true
				break
			}
		}
	} else {
		verified = true
	}
	if email == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamOAuth, "GitHub account has no verified primary email", nil)
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &OAuthProfile{
		Provider:      p.Name(),
		ProviderID:    fmt.Sprintf("%d", user.ID),
		Email:         email,
		EmailVerified: verified,
		Name:          name,
		AvatarURL:     user.AvatarURL,
	}, nil
}

func (p *GitHubProvider) postForm(ctx context.Context, reqURL string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(params.Encode()))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create OAuth request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return doOAuthRequest(p.base, req, out)
}

func (p *GitHubProvider) getJSON(ctx context.Context, reqURL, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create OAuth request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	return doOAuthRequest(p.base, req, out)
}

// ---------------------------------------------------------------------------
// Google Provider
// ---------------------------------------------------------------------------

// GoogleProviderConfig holds the configuration for the Google OAuth provider.
type GoogleProviderConfig struct {
	ClientID     string
	ClientSecret types.SecretString
	RedirectURL  string
	Logger       *slog.Logger

	// Override URLs for testing
	AuthBaseURL string
	TokenURL    string
	UserInfoURL string
}

// GoogleProvider implements OAuthProvider for Google OAuth 2.0. Exchange
// performs two sequential calls: code-for-token, then userinfo.
type GoogleProvider struct {
	base         *BaseClient
	clientID     string
	clientSecret types.SecretString
	redirectURL  string
	authBaseURL  string
	tokenURL     string
	userInfoURL  string
	logger       *slog.Logger
}

// NewGoogleProvider creates a GoogleProvider on the given HTTP client.
func NewGoogleProvider(httpClient *http.Client, cfg GoogleProviderConfig) *GoogleProvider {
	return NewGoogleProviderWithBase(
		NewBaseClient(httpClient, "google-oauth", oauthRetryPolicy()),
		cfg,
	)
}

// NewGoogleProviderWithBase creates a GoogleProvider with a caller-provided
// BaseClient.
func NewGoogleProviderWithBase(base *BaseClient, cfg GoogleProviderConfig) *GoogleProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &GoogleProvider{
		base:         base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		authBaseURL:  cfg.AuthBaseURL,
		tokenURL:     cfg.TokenURL,
		userInfoURL:  cfg.UserInfoURL,
		logger:       logger,
	}
	if p.authBaseURL == "" {
		p.authBaseURL = googleAuthBaseURL
	}
	if p.tokenURL == "" {
		p.tokenURL = googleTokenURL
	}
	if p.userInfoURL == "" {
		p.userInfoURL = googleUserInfoURL
	}
	return p
}

// Name returns "google".
func (p *GoogleProvider) Name() string {
	return "google"
}

// AuthorizeURL builds the Google consent URL for the given CSRF state.
func (p *GoogleProvider) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("redirect_uri", p.redirectURL)
	params.Set("response_type", "code")
	params.Set("scope", "openid email profile")
	params.Set("state", state)
	return p.authBaseURL + "?" + params.Encode()
}

type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange trades the authorization code for a normalized profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*OAuthProfile, error) {
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("client_secret", p.clientSecret.Unmask())
	params.Set("code", code)
	params.Set("redirect_uri", p.redirectURL)
	params.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create OAuth request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token googleTokenResponse
	if err := doOAuthRequest(p.base, req, &token); err != nil {
		return nil, err
	}
	if token.Error != "" || token.AccessToken == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamOAuth,
			fmt.Sprintf("Google token exchange failed: %s %s", token.Error, token.ErrorDesc), nil)
	}

	infoReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create OAuth request", err)
	}
	infoReq.Header.Set("Authorization", "Bearer "+token.AccessToken)

	var info googleUserInfo
	if err := doOAuthRequest(p.base, infoReq, &info); err != nil {
		return nil, err
	}
	if info.Email == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamOAuth, "Google userinfo response missing email", nil)
	}

	return &OAuthProfile{
		Provider:      p.Name(),
		ProviderID:    info.ID,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		Name:          info.Name,
		AvatarURL:     info.Picture,
	}, nil
}

// doOAuthRequest executes one provider call and decodes the JSON response.
// Non-2xx statuses become upstream_oauth errors; transport failures keep the
// code BaseClient assigned.
func doOAuthRequest(base *BaseClient, req *http.Request, out any) error {
	resp, err := base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return err
		}
		return types.NewAppError(types.ErrCodeUpstreamOAuth, fmt.Sprintf("OAuth request failed: %v", err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.NewAppError(types.ErrCodeUpstreamOAuth,
			fmt.Sprintf("OAuth provider returned status %d", resp.StatusCode), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamOAuth, "failed to decode OAuth provider response", err)
	}
	return nil
}

var (
	_ OAuthProvider = (*GitHubProvider)(nil)
	_ OAuthProvider = (*GoogleProvider)(nil)
)
