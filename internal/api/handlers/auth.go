package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"saasbase/internal/core"
	"saasbase/internal/external"
	"saasbase/internal/types"
)

// oauthStateCookie carries the CSRF state between the OAuth start redirect
// and the provider callback.
const oauthStateCookie = "sb_oauth_state"

// oauthStateTTL bounds how long a pending OAuth flow stays valid.
const oauthStateTTL = 10 * time.Minute

// AuthService abstracts the sign-in flows the auth handler exposes.
type AuthService interface {
	SignUp(ctx context.Context, email, password, name, ipAddress, userAgent string) (*types.User, *types.Session, error)
	LoginWithPassword(ctx context.Context, email, password, ipAddress, userAgent string) (*types.User, *types.Session, error)
	RequestMagicLink(ctx context.Context, email string) error
	VerifyMagicLink(ctx context.Context, rawToken, ipAddress, userAgent string) (*types.User, *types.Session, error)
	LoginWithOAuth(ctx context.Context, profile *external.OAuthProfile, ipAddress, userAgent string) (*types.User, *types.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig holds the knobs the auth handler reads.
type AuthHandlerConfig struct {
	// AppURL is where browser flows (magic link, OAuth) land after sign-in.
	AppURL       string
	CookieSecure bool
}

// AuthHandler exposes sign-up, sign-in, magic-link, and OAuth endpoints.
type AuthHandler struct {
	auth      AuthService
	providers map[string]external.OAuthProvider
	validator *core.Validator
	cfg       AuthHandlerConfig
	logger    *slog.Logger
}

// NewAuthHandler creates an AuthHandler. providers maps route slugs
// ("github", "google") to configured OAuth providers; absent providers 404.
func NewAuthHandler(
	auth AuthService,
	providers map[string]external.OAuthProvider,
	validator *core.Validator,
	cfg AuthHandlerConfig,
	logger *slog.Logger,
) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if providers == nil {
		providers = map[string]external.OAuthProvider{}
	}
	return &AuthHandler{
		auth:      auth,
		providers: providers,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
	}
}

// RegisterRoutes mounts the unauthenticated auth endpoints under /v1.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/sign-up", h.HandleSignUp)
	r.Post("/auth/login", h.HandleLogin)
	r.Post("/auth/magic-link", h.HandleMagicLinkRequest)
	r.Get("/auth/magic-link/verify", h.HandleMagicLinkVerify)
	r.Get("/auth/oauth/{provider}", h.HandleOAuthStart)
	r.Get("/auth/oauth/{provider}/callback", h.HandleOAuthCallback)
}

// RegisterProtectedRoutes mounts the endpoints that require a session.
func (h *AuthHandler) RegisterProtectedRoutes(r chi.Router) {
	r.Post("/auth/logout", h.HandleLogout)
	r.Get("/auth/me", h.HandleMe)
}

type signUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Name     string `json:"name,omitempty" validate:"omitempty,max=200"`
}

type userResponse struct {
	User *types.User `json:"user"`
}

// HandleSignUp registers a credentials account and signs the user in.
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	user, session, err := h.auth.SignUp(r.Context(), req.Email, req.Password, req.Name, clientIP(r), r.UserAgent())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.setSessionCookie(w, session)
	core.JSON(w, r, http.StatusCreated, userResponse{User: user})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleLogin signs in with email and password.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	user, session, err := h.auth.LoginWithPassword(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.setSessionCookie(w, session)
	core.JSON(w, r, http.StatusOK, userResponse{User: user})
}

type magicLinkRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type magicLinkResponse struct {
	Status string `json:"status"`
}

// HandleMagicLinkRequest issues a sign-in link. The response is 202 whether
// or not the email is registered and even when delivery fails downstream;
// anything else would let callers enumerate accounts.
func (h *AuthHandler) HandleMagicLinkRequest(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.auth.RequestMagicLink(r.Context(), req.Email); err != nil {
		h.logger.ErrorContext(r.Context(), "magic link issuance failed", slog.String("error", err.Error()))
	}

	core.JSON(w, r, http.StatusAccepted, magicLinkResponse{Status: "sent"})
}

// HandleMagicLinkVerify redeems the token from the emailed URL, signs the
// user in, and redirects the browser into the app.
func (h *AuthHandler) HandleMagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	rawToken := r.URL.Query().Get("token")
	if rawToken == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "token query parameter is required", nil))
		return
	}

	_, session, err := h.auth.VerifyMagicLink(r.Context(), rawToken, clientIP(r), r.UserAgent())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.setSessionCookie(w, session)
	http.Redirect(w, r, h.cfg.AppURL, http.StatusFound)
}

// HandleOAuthStart redirects the browser to the provider's consent page,
// pinning a CSRF state value in a short-lived cookie.
func (h *AuthHandler) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers[chi.URLParam(r, "provider")]
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "unknown oauth provider", nil))
		return
	}

	state, err := newOAuthState()
	if err != nil {
		core.Error(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, provider.AuthorizeURL(state), http.StatusFound)
}

// HandleOAuthCallback completes the provider flow: state check, code
// exchange, sign-in, redirect into the app.
func (h *AuthHandler) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers[chi.URLParam(r, "provider")]
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "unknown oauth provider", nil))
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthStateMismatch, "oauth state mismatch", nil))
		return
	}
	// State is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "code query parameter is required", nil))
		return
	}

	profile, err := provider.Exchange(r.Context(), code)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	_, session, err := h.auth.LoginWithOAuth(r.Context(), profile, clientIP(r), r.UserAgent())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.setSessionCookie(w, session)
	http.Redirect(w, r, h.cfg.AppURL, http.StatusFound)
}

// HandleLogout invalidates the current session and clears the cookie.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	session, ok := types.GetSession(r.Context())
	if ok {
		if err := h.auth.Logout(r.Context(), session.ID); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	h.clearSessionCookie(w)
	core.JSON(w, r, http.StatusOK, map[string]string{"status": "signed_out"})
}

// HandleMe returns the signed-in user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := types.GetUser(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionMissing, "authentication required", nil))
		return
	}
	core.JSON(w, r, http.StatusOK, userResponse{User: user})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, session *types.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     core.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     core.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func newOAuthState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate oauth state", err)
	}
	return hex.EncodeToString(buf), nil
}

// clientIP extracts the remote host without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
