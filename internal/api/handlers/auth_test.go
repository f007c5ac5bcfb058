package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"saasbase/internal/core"
	"saasbase/internal/external"
	"saasbase/internal/types"
)

type fakeAuthService struct {
	user    *types.User
	session *types.Session
	err     error

	magicLinkEmail string
	magicLinkErr   error
	loggedOut      string
	gotProfile     *external.OAuthProfile
}

func (f *fakeAuthService) SignUp(ctx context.Context, email, password, name, ip, ua string) (*types.User, *types.Session, error) {
	return f.user, f.session, f.err
}

func (f *fakeAuthService) LoginWithPassword(ctx context.Context, email, password, ip, ua string) (*types.User, *types.Session, error) {
	return f.user, f.session, f.err
}

func (f *fakeAuthService) RequestMagicLink(ctx context.Context, email string) error {
	f.magicLinkEmail = email
	return f.magicLinkErr
}

func (f *fakeAuthService) VerifyMagicLink(ctx context.Context, rawToken, ip, ua string) (*types.User, *types.Session, error) {
	return f.user, f.session, f.err
}

func (f *fakeAuthService) LoginWithOAuth(ctx context.Context, profile *external.OAuthProfile, ip, ua string) (*types.User, *types.Session, error) {
	f.gotProfile = profile
	return f.user, f.session, f.err
}

func (f *fakeAuthService) Logout(ctx context.Context, sessionID string) error {
	f.loggedOut = sessionID
	return f.err
}

type fakeOAuthProvider struct {
	gotCode string
	profile *external.OAuthProfile
	err     error
}

func (f *fakeOAuthProvider) Name() string { return "github" }

func (f *fakeOAuthProvider) AuthorizeURL(state string) string {
	return "https://provider.example.com/authorize?state=" + state
}

func (f *fakeOAuthProvider) Exchange(ctx context.Context, code string) (*external.OAuthProfile, error) {
	f.gotCode = code
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

func testSession() *types.Session {
	return &types.Session{
		ID:        "sess_abc123",
		UserID:    "usr_1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func newAuthHandler(svc AuthService, providers map[string]external.OAuthProvider) *AuthHandler {
	return NewAuthHandler(svc, providers, core.NewValidator(nil), AuthHandlerConfig{
		AppURL:       "https://app.example.com",
		CookieSecure: true,
	}, nil)
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == core.SessionCookieName {
			return c
		}
	}
	return nil
}

func TestHandleLogin_Success(t *testing.T) {
	svc := &fakeAuthService{
		user:    &types.User{ID: "usr_1", Email: "jo@example.com"},
		session: testSession(),
	}
	h := newAuthHandler(svc, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"jo@example.com","password":"hunter2!"}`))
	h.HandleLogin(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cookie := sessionCookie(rec)
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if cookie.Value != "sess_abc123" || !cookie.HttpOnly || !cookie.Secure {
		t.Errorf("unexpected cookie attributes: %+v", cookie)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	svc := &fakeAuthService{err: types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)}
	h := newAuthHandler(svc, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"jo@example.com","password":"wrong"}`))
	h.HandleLogin(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if sessionCookie(rec) != nil {
		t.Error("failed login must not set a session cookie")
	}
}

func TestHandleSignUp_EmailConflict(t *testing.T) {
	svc := &fakeAuthService{err: types.NewAppError(types.ErrCodeConflictEmail, "email is already registered", nil)}
	h := newAuthHandler(svc, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/sign-up", strings.NewReader(`{"email":"jo@example.com","password":"hunter2!!"}`))
	h.HandleSignUp(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

// The magic-link endpoint answers 202 regardless of downstream failures so
// responses cannot be used to enumerate registered emails.
func TestHandleMagicLinkRequest_AlwaysAccepted(t *testing.T) {
	for name, svcErr := range map[string]error{
		"success":          nil,
		"delivery failure": types.NewAppError(types.ErrCodeUpstreamEmail, "resend down", nil),
	} {
		t.Run(name, func(t *testing.T) {
			svc := &fakeAuthService{magicLinkErr: svcErr}
			h := newAuthHandler(svc, nil)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(`{"email":"jo@example.com"}`))
			h.HandleMagicLinkRequest(rec, req)

			if rec.Code != http.StatusAccepted {
				t.Fatalf("expected 202, got %d", rec.Code)
			}
			if svc.magicLinkEmail != "jo@example.com" {
				t.Errorf("expected service call for jo@example.com, got %q", svc.magicLinkEmail)
			}
		})
	}
}

func TestHandleMagicLinkVerify_RedirectsWithSession(t *testing.T) {
	svc := &fakeAuthService{
		user:    &types.User{ID: "usr_1"},
		session: testSession(),
	}
	h := newAuthHandler(svc, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/magic-link/verify?token=rawtoken123", nil)
	h.HandleMagicLinkVerify(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "https://app.example.com" {
		t.Errorf("unexpected redirect target %q", got)
	}
	if sessionCookie(rec) == nil {
		t.Error("expected session cookie")
	}
}

func TestHandleMagicLinkVerify_InvalidToken(t *testing.T) {
	svc := &fakeAuthService{err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "link invalid or used", nil)}
	h := newAuthHandler(svc, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/magic-link/verify?token=used", nil)
	h.HandleMagicLinkVerify(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleOAuthStart_SetsStateAndRedirects(t *testing.T) {
	provider := &fakeOAuthProvider{}
	h := newAuthHandler(&fakeAuthService{}, map[string]external.OAuthProvider{"github": provider})

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/oauth/github", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}

	var state string
	for _, c := range rec.Result().Cookies() {
		if c.Name == oauthStateCookie {
			state = c.Value
		}
	}
	if state == "" {
		t.Fatal("expected state cookie")
	}
	if got := rec.Header().Get("Location"); !strings.Contains(got, "state="+state) {
		t.Errorf("redirect %q does not carry the state cookie value", got)
	}
}

func TestHandleOAuthCallback_Success(t *testing.T) {
	provider := &fakeOAuthProvider{profile: &external.OAuthProfile{
		Provider: "github",
		Email:    "jo@example.com",
	}}
	svc := &fakeAuthService{
		user:    &types.User{ID: "usr_1"},
		session: testSession(),
	}
	h := newAuthHandler(svc, map[string]external.OAuthProvider{"github": provider})

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/oauth/github/callback?state=st_1&code=code_1", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st_1"})
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}
	if provider.gotCode != "code_1" {
		t.Errorf("expected code exchange for code_1, got %q", provider.gotCode)
	}
	if svc.gotProfile == nil || svc.gotProfile.Email != "jo@example.com" {
		t.Errorf("profile not forwarded to auth service: %+v", svc.gotProfile)
	}
	if sessionCookie(rec) == nil {
		t.Error("expected session cookie")
	}
}

func TestHandleOAuthCallback_StateMismatch(t *testing.T) {
	provider := &fakeOAuthProvider{}
	h := newAuthHandler(&fakeAuthService{}, map[string]external.OAuthProvider{"github": provider})

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/oauth/github/callback?state=attacker&code=code_1", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st_1"})
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if provider.gotCode != "" {
		t.Error("state mismatch must abort before the code exchange")
	}
}

func TestHandleLogout(t *testing.T) {
	svc := &fakeAuthService{}
	h := newAuthHandler(svc, nil)

	session := testSession()
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req = req.WithContext(types.WithSession(req.Context(), session))

	rec := httptest.NewRecorder()
	h.HandleLogout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.loggedOut != session.ID {
		t.Errorf("expected session %s invalidated, got %q", session.ID, svc.loggedOut)
	}
	cookie := sessionCookie(rec)
	if cookie == nil || cookie.MaxAge != -1 {
		t.Error("expected session cookie cleared")
	}
}
