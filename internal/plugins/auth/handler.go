package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/maplecart/storefront/internal/apperror"
	"github.com/maplecart/storefront/internal/config"
)

// Handler handles HTTP requests for authentication. Handlers are thin:
// they bind the request, call the service, and render the response. No
// business logic lives here.
type Handler struct {
	service AuthService
	cfg     config.AuthConfig
}

// NewHandler creates a new auth handler with the given service.
func NewHandler(service AuthService, cfg config.AuthConfig) *Handler {
	return &Handler{service: service, cfg: cfg}
}

// Register creates an account and logs it in (POST /api/auth/register).
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	user, session, err := h.service.Register(c.Request().Context(), RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return err
	}

	h.setSessionCookie(c, session.Token, h.cfg.SessionTTL)
	return c.JSON(http.StatusCreated, map[string]any{"user": user})
}

// Login authenticates a user and issues a session cookie
// (POST /api/auth/login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	user, session, err := h.service.Login(c.Request().Context(), LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		IP:         c.RealIP(),
		UserAgent:  c.Request().UserAgent(),
	})
	if err != nil {
		return err
	}

	ttl := h.cfg.SessionTTL
	if req.RememberMe {
		ttl = h.cfg.RememberTTL
	}
	h.setSessionCookie(c, session.Token, ttl)
	return c.JSON(http.StatusOK, map[string]any{"user": user})
}

// Logout revokes the current session and clears the cookie
// (POST /api/auth/logout).
func (h *Handler) Logout(c echo.Context) error {
	session := CurrentSession(c)
	user := CurrentUser(c)
	if session != nil && user != nil {
		if err := h.service.Logout(c.Request().Context(), user.ID, session.ID); err != nil {
			return err
		}
	}
	clearSessionCookie(c, h.cfg.CookieName)
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every session for the user, this one included
// (POST /api/auth/logout-all).
func (h *Handler) LogoutAll(c echo.Context) error {
	if err := h.service.LogoutAll(c.Request().Context(), CurrentUser(c).ID); err != nil {
		return err
	}
	clearSessionCookie(c, h.cfg.CookieName)
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated user (GET /api/auth/me).
func (h *Handler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"user": CurrentUser(c)})
}

// ListSessions returns the user's sessions with the current one flagged
// (GET /api/auth/sessions).
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.service.ListSessions(c.Request().Context(), CurrentUser(c).ID, CurrentSession(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// RevokeSession revokes one of the user's sessions by ID
// (DELETE /api/auth/sessions/:id).
func (h *Handler) RevokeSession(c echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return apperror.NewBadRequest("session id is required")
	}
	if err := h.service.RevokeSession(c.Request().Context(), CurrentUser(c).ID, sessionID); err != nil {
		return err
	}
	// Revoking the current session is allowed; drop the cookie with it.
	if current := CurrentSession(c); current != nil && current.ID == sessionID {
		clearSessionCookie(c, h.cfg.CookieName)
	}
	return c.NoContent(http.StatusNoContent)
}

// ChangePassword replaces the user's password and signs out every other
// device (POST /api/auth/password).
func (h *Handler) ChangePassword(c echo.Context) error {
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	err := h.service.ChangePassword(c.Request().Context(),
		CurrentUser(c).ID, CurrentSession(c).ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RequestEmailVerification issues a fresh verification token
// (POST /api/auth/verify-email/request).
func (h *Handler) RequestEmailVerification(c echo.Context) error {
	if err := h.service.RequestEmailVerification(c.Request().Context(), CurrentUser(c).ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// ConfirmEmailVerification redeems a verification token
// (POST /api/auth/verify-email/confirm).
func (h *Handler) ConfirmEmailVerification(c echo.Context) error {
	var req VerifyEmailRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return apperror.NewBadRequest("invalid request")
	}

	user, err := h.service.ConfirmEmailVerification(c.Request().Context(), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"user": user})
}

// RequestPasswordReset starts the forgot-password flow
// (POST /api/auth/password-reset/request). Responds 202 regardless of
// whether the email matches an account.
func (h *Handler) RequestPasswordReset(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return apperror.NewBadRequest("invalid request")
	}

	if err := h.service.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// ResetPassword redeems a reset token and sets a new password
// (POST /api/auth/password-reset/confirm).
func (h *Handler) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return apperror.NewBadRequest("invalid request")
	}

	if err := h.service.ResetPassword(c.Request().Context(), req.Token, req.NewPassword); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// --- Cookie helpers ---

// setSessionCookie sets the session cookie on the response. The cookie is
// HttpOnly (JS can't read it), Secure behind TLS, and SameSite=Lax. Its
// lifetime matches the session's so browser and server expire together.
func (h *Handler) setSessionCookie(c echo.Context, token string, ttl time.Duration) {
	req := c.Request()
	secure := h.cfg.CookieSecure ||
		req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https"
	c.SetCookie(&http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

// clearSessionCookie removes the session cookie by setting MaxAge to -1.
func clearSessionCookie(c echo.Context, cookieName string) {
	c.SetCookie(&http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
