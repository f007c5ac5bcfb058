package core

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"saasbase/internal/config"
	"saasbase/internal/types"
)

type fakeSessionResolver struct {
	session *types.Session
	user    *types.User
	err     error

	gotSessionID string
}

func (f *fakeSessionResolver) ResolveSession(ctx context.Context, sessionID string) (*types.Session, *types.User, error) {
	f.gotSessionID = sessionID
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.session, f.user, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Server: config.ServerConfig{
			Port:   "8080",
			AppURL: "https://app.example.com",
		},
	}
}

func newTestServer(t *testing.T, resolver SessionResolver) *Server {
	t.Helper()
	srv, err := NewServer(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.Sessions = resolver
	return srv
}

func TestRequireAuth_NoCookie(t *testing.T) {
	srv := newTestServer(t, &fakeSessionResolver{})
	handler := srv.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a session")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuth_ValidSession(t *testing.T) {
	resolver := &fakeSessionResolver{
		session: &types.Session{ID: "sess_1", UserID: "usr_1", ExpiresAt: time.Now().Add(time.Hour)},
		user:    &types.User{ID: "usr_1", Email: "jo@example.com"},
	}
	srv := newTestServer(t, resolver)

	var gotUser *types.User
	var gotSession *types.Session
	handler := srv.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = types.GetUser(r.Context())
		gotSession, _ = types.GetSession(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess_1"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resolver.gotSessionID != "sess_1" {
		t.Errorf("expected resolver called with sess_1, got %q", resolver.gotSessionID)
	}
	if gotUser == nil || gotUser.ID != "usr_1" {
		t.Errorf("user not injected into context: %+v", gotUser)
	}
	if gotSession == nil || gotSession.ID != "sess_1" {
		t.Errorf("session not injected into context: %+v", gotSession)
	}
}

func TestRequireAuth_ExpiredSession(t *testing.T) {
	resolver := &fakeSessionResolver{
		err: types.NewAppError(types.ErrCodeAuthSessionExpired, "session has expired", nil),
	}
	srv := newTestServer(t, resolver)
	handler := srv.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run with an expired session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess_old"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var gotCtxID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCtxID = types.GetRequestID(r.Context())
	}))

	// Minted when absent.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if gotCtxID == "" || rec.Header().Get("X-Request-Id") != gotCtxID {
		t.Errorf("expected generated ID in context and header, got %q / %q", gotCtxID, rec.Header().Get("X-Request-Id"))
	}

	// Propagated when present.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-from-lb")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if gotCtxID != "req-from-lb" {
		t.Errorf("expected propagated ID, got %q", gotCtxID)
	}
}

func TestRecoverer(t *testing.T) {
	srv := newTestServer(t, nil)
	handler := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestErrorResponseEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))

	rec := httptest.NewRecorder()
	Error(rec, req, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var resp APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeNotFoundUser) || resp.Error.RequestID != "req-1" {
		t.Errorf("unexpected envelope: %+v", resp.Error)
	}
}

// Internal error details never leak to clients.
func TestErrorHidesInternals(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	Error(rec, req, context.DeadlineExceeded)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Message != "an unexpected error occurred" {
		t.Errorf("internal error text leaked: %q", resp.Error.Message)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Email string `json:"email"`
	}

	cases := map[string]struct {
		body    string
		wantErr bool
	}{
		"valid":           {`{"email":"jo@example.com"}`, false},
		"empty body":      {``, true},
		"malformed":       {`{"email":`, true},
		"unknown field":   {`{"email":"jo@example.com","admin":true}`, true},
		"trailing values": {`{"email":"a"}{"email":"b"}`, true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			var dst payload
			err := DecodeJSON(rec, req, &dst)
			if tc.wantErr && err == nil {
				t.Error("expected decode error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
