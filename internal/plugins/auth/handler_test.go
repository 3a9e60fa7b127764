package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/maplecart/storefront/internal/apperror"
	"github.com/maplecart/storefront/internal/config"
	"github.com/maplecart/storefront/internal/ratelimit"
)

// memStore is an in-memory Store so handler tests can run full HTTP flows
// without MariaDB.
type memStore struct {
	mu          sync.Mutex
	users       map[string]*User         // by ID
	sessions    map[string]*Session      // by ID
	emailTokens map[string]*OneTimeToken // by token hash
	resetTokens map[string]*OneTimeToken // by token hash
}

func newMemStore() *memStore {
	return &memStore{
		users:       make(map[string]*User),
		sessions:    make(map[string]*Session),
		emailTokens: make(map[string]*OneTimeToken),
		resetTokens: make(map[string]*OneTimeToken),
	}
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email && u.Status != StatusDeleted {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NewNotFound("user")
}

func (s *memStore) GetUserByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Status == StatusDeleted {
		return nil, apperror.NewNotFound("user")
	}
	copied := *u
	return &copied, nil
}

func (s *memStore) EmailExists(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CreateUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return apperror.NewConflict("an account with this email already exists")
		}
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *memStore) UpdateUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return apperror.NewNotFound("user")
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *memStore) CreateSession(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *memStore) GetValidSession(_ context.Context, token string) (*Session, *User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, sess := range s.sessions {
		if sess.Token != token || !sess.Valid(now) {
			continue
		}
		u, ok := s.users[sess.UserID]
		if !ok || u.Status == StatusDeleted {
			break
		}
		sessCopy, userCopy := *sess, *u
		return &sessCopy, &userCopy, nil
	}
	return nil, nil, apperror.NewNotFound("session")
}

func (s *memStore) GetUserSessions(_ context.Context, userID string) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *memStore) UpdateSessionLastSeen(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastSeenAt = time.Now().UTC()
	}
	return nil
}

func (s *memStore) RevokeSession(_ context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.UserID != userID || sess.RevokedAt != nil {
		return apperror.NewNotFound("session")
	}
	now := time.Now().UTC()
	sess.RevokedAt = &now
	return nil
}

func (s *memStore) RevokeAllUserSessions(_ context.Context, userID, exceptSessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.ID != exceptSessionID && sess.RevokedAt == nil {
			sess.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (s *memStore) CreateEmailVerificationToken(_ context.Context, token *OneTimeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.emailTokens[token.TokenHash] = &copied
	return nil
}

func (s *memStore) GetEmailVerificationToken(_ context.Context, tokenHash string) (*OneTimeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.emailTokens[tokenHash]
	if !ok {
		return nil, apperror.NewNotFound("token")
	}
	copied := *tok
	return &copied, nil
}

func (s *memStore) MarkEmailVerificationTokenUsed(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.emailTokens[tokenHash]
	if !ok || tok.UsedAt != nil {
		return apperror.NewNotFound("token")
	}
	now := time.Now().UTC()
	tok.UsedAt = &now
	return nil
}

func (s *memStore) CreatePasswordResetToken(_ context.Context, token *OneTimeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.resetTokens[token.TokenHash] = &copied
	return nil
}

func (s *memStore) GetPasswordResetToken(_ context.Context, tokenHash string) (*OneTimeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.resetTokens[tokenHash]
	if !ok {
		return nil, apperror.NewNotFound("token")
	}
	copied := *tok
	return &copied, nil
}

func (s *memStore) MarkPasswordResetTokenUsed(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.resetTokens[tokenHash]
	if !ok || tok.UsedAt != nil {
		return apperror.NewNotFound("token")
	}
	now := time.Now().UTC()
	tok.UsedAt = &now
	return nil
}

func (s *memStore) validSessionCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Valid(now) {
			n++
		}
	}
	return n
}

// captureSender records raw one-time tokens instead of delivering them.
type captureSender struct {
	mu     sync.Mutex
	tokens map[string]string // kind -> raw
}

func (c *captureSender) Send(_ context.Context, _ *User, kind, rawToken string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		c.tokens = make(map[string]string)
	}
	c.tokens[kind] = rawToken
	return nil
}

func (c *captureSender) token(kind string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[kind]
}

// testServer wires a real Echo instance with the real service over the
// in-memory store, mirroring app.New without the global middleware stack.
type testServer struct {
	e      *echo.Echo
	store  *memStore
	sender *captureSender
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := testAuthConfig()
	store := newMemStore()
	sender := &captureSender{}
	svc := NewAuthService(store, &fakeHasher{}, sender, cfg)

	rlCfg := config.RateLimitConfig{
		Register:       config.RouteBudget{Max: 100, Window: time.Minute},
		Login:          config.RouteBudget{Max: 100, Window: time.Minute},
		PasswordChange: config.RouteBudget{Max: 100, Window: time.Minute},
		VerifyRequest:  config.RouteBudget{Max: 100, Window: time.Minute},
	}

	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			c.JSON(appErr.Code, map[string]string{"error": appErr.Type, "message": appErr.Message})
			return
		}
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			c.JSON(echoErr.Code, map[string]any{"message": echoErr.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal"})
	}
	e.Use(LoadSession(svc, cfg.CookieName))

	RegisterRoutes(e, NewHandler(svc, cfg), ratelimit.New(ratelimit.NewMemoryStore()), rlCfg)

	return &testServer{e: e, store: store, sender: sender}
}

// do performs a JSON request with an optional session cookie and returns
// the recorder.
func (ts *testServer) do(method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "maplecart_session" && c.Value != "" {
			return c
		}
	}
	t.Fatal("expected a session cookie")
	return nil
}

func registerAlice(t *testing.T, ts *testServer) *http.Cookie {
	t.Helper()
	rec := ts.do(http.MethodPost, "/api/auth/register",
		`{"email":"alice@example.com","password":"Secure-pass-1","display_name":"Alice"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

func TestHandler_RegisterAndMe(t *testing.T) {
	ts := newTestServer(t)
	cookie := registerAlice(t, ts)

	require.True(t, cookie.HttpOnly, "session cookie must be HttpOnly")
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	rec := ts.do(http.MethodGet, "/api/auth/me", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		User *User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "alice@example.com", body.User.Email)
	require.Empty(t, body.User.PasswordHash, "password hash must never serialize")
}

func TestHandler_MeWithoutSession(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_LoginWrongPassword(t *testing.T) {
	ts := newTestServer(t)
	registerAlice(t, ts)

	rec := ts.do(http.MethodPost, "/api/auth/login",
		`{"email":"alice@example.com","password":"Wrong-pass-1"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid email or password")
}

func TestHandler_LogoutInvalidatesSession(t *testing.T) {
	ts := newTestServer(t)
	cookie := registerAlice(t, ts)

	rec := ts.do(http.MethodPost, "/api/auth/logout", "", cookie)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The cookie is cleared on the logout response.
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == "maplecart_session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared, "logout must clear the cookie")

	// Replaying the old cookie no longer authenticates.
	rec = ts.do(http.MethodGet, "/api/auth/me", "", cookie)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_LogoutAll(t *testing.T) {
	ts := newTestServer(t)
	cookie := registerAlice(t, ts)

	// Second device.
	rec := ts.do(http.MethodPost, "/api/auth/login",
		`{"email":"alice@example.com","password":"Secure-pass-1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	other := sessionCookie(t, rec)

	rec = ts.do(http.MethodPost, "/api/auth/logout-all", "", cookie)
	require.Equal(t, http.StatusNoContent, rec.Code)

	for _, c := range []*http.Cookie{cookie, other} {
		rec = ts.do(http.MethodGet, "/api/auth/me", "", c)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestHandler_SessionListAndRevoke(t *testing.T) {
	ts := newTestServer(t)
	cookie := registerAlice(t, ts)

	rec := ts.do(http.MethodPost, "/api/auth/login",
		`{"email":"alice@example.com","password":"Secure-pass-1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/auth/sessions", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 2)

	var current, otherID string
	for _, s := range body.Sessions {
		require.Empty(t, s.Token, "bearer tokens must never appear in listings")
		if s.Current {
			current = s.ID
		} else {
			otherID = s.ID
		}
	}
	require.NotEmpty(t, current, "one session must be flagged current")
	require.NotEmpty(t, otherID)

	rec = ts.do(http.MethodDelete, "/api/auth/sessions/"+otherID, "", cookie)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The revoking session itself stays alive.
	rec = ts.do(http.MethodGet, "/api/auth/me", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ChangePasswordKeepsCurrentSession(t *testing.T) {
	ts := newTestServer(t)
	cookie := registerAlice(t, ts)

	// Second device that should be logged out by the change.
	rec := ts.do(http.MethodPost, "/api/auth/login",
		`{"email":"alice@example.com","password":"Secure-pass-1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	other := sessionCookie(t, rec)

	rec = ts.do(http.MethodPost, "/api/auth/password",
		`{"current_password":"Secure-pass-1","new_password":"Fresh-pass-2"}`, cookie)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/auth/me", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code, "changing session must survive")

	rec = ts.do(http.MethodGet, "/api/auth/me", "", other)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "other sessions must be revoked")

	// Old password no longer works, new one does.
	rec = ts.do(http.MethodPost, "/api/auth/login",
		`{"email":"alice@example.com","password":"Secure-pass-1"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPost, "/api/auth/login",
		`{"email":"alice@example.com","password":"Fresh-pass-2"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_EmailVerificationFlow(t *testing.T) {
	ts := newTestServer(t)
	cookie := registerAlice(t, ts)

	rec := ts.do(http.MethodPost, "/api/auth/verify-email/request", "", cookie)
	require.Equal(t, http.StatusAccepted, rec.Code)

	raw := ts.sender.token(TokenKindEmailVerification)
	require.NotEmpty(t, raw, "sender should have received the raw token")

	rec = ts.do(http.MethodPost, "/api/auth/verify-email/confirm",
		`{"token":"`+raw+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Second redemption fails: single use.
	rec = ts.do(http.MethodPost, "/api/auth/verify-email/confirm",
		`{"token":"`+raw+`"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Requesting again on a verified account is rejected.
	rec = ts.do(http.MethodPost, "/api/auth/verify-email/request", "", cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_PasswordResetFlow(t *testing.T) {
	ts := newTestServer(t)
	cookie := registerAlice(t, ts)

	rec := ts.do(http.MethodPost, "/api/auth/password-reset/request",
		`{"email":"alice@example.com"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// An unknown email gets the identical response.
	recUnknown := ts.do(http.MethodPost, "/api/auth/password-reset/request",
		`{"email":"nobody@example.com"}`, nil)
	require.Equal(t, rec.Code, recUnknown.Code)

	raw := ts.sender.token(TokenKindPasswordReset)
	require.NotEmpty(t, raw)

	rec = ts.do(http.MethodPost, "/api/auth/password-reset/confirm",
		`{"token":"`+raw+`","new_password":"Reset-pass-3"}`, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// Every session is gone: the credential was lost.
	rec = ts.do(http.MethodGet, "/api/auth/me", "", cookie)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPost, "/api/auth/login",
		`{"email":"alice@example.com","password":"Reset-pass-3"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_LoginRateLimited(t *testing.T) {
	cfg := testAuthConfig()
	store := newMemStore()
	svc := NewAuthService(store, &fakeHasher{}, NewLogSender(), cfg)

	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && !c.Response().Committed {
			c.JSON(appErr.Code, map[string]string{"error": appErr.Type})
		}
	}
	e.Use(LoadSession(svc, cfg.CookieName))

	rlCfg := config.RateLimitConfig{
		Register:       config.RouteBudget{Max: 100, Window: time.Minute},
		Login:          config.RouteBudget{Max: 2, Window: time.Minute},
		PasswordChange: config.RouteBudget{Max: 100, Window: time.Minute},
		VerifyRequest:  config.RouteBudget{Max: 100, Window: time.Minute},
	}
	RegisterRoutes(e, NewHandler(svc, cfg), ratelimit.New(ratelimit.NewMemoryStore()), rlCfg)
	ts := &testServer{e: e, store: store}

	body := `{"email":"alice@example.com","password":"Wrong-pass-1"}`
	for i := 0; i < 2; i++ {
		rec := ts.do(http.MethodPost, "/api/auth/login", body, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := ts.do(http.MethodPost, "/api/auth/login", body, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
