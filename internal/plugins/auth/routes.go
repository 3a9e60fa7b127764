package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/maplecart/storefront/internal/config"
	"github.com/maplecart/storefront/internal/middleware"
	"github.com/maplecart/storefront/internal/ratelimit"
)

// RegisterRoutes sets up all auth routes under /api/auth. LoadSession is
// applied app-wide by the caller; only the guards are attached here.
//
// Credential-accepting endpoints are rate-limited per IP with budgets from
// config. Password reset confirmation shares the login budget: both accept
// a guessable secret.
func RegisterRoutes(e *echo.Echo, h *Handler, limiter *ratelimit.Limiter, cfg config.RateLimitConfig) {
	g := e.Group("/api/auth")

	// Public routes.
	g.POST("/register", h.Register, middleware.RateLimit(limiter, "register", cfg.Register))
	g.POST("/login", h.Login, middleware.RateLimit(limiter, "login", cfg.Login))
	g.POST("/verify-email/confirm", h.ConfirmEmailVerification,
		middleware.RateLimit(limiter, "verify-confirm", cfg.VerifyRequest))
	g.POST("/password-reset/request", h.RequestPasswordReset,
		middleware.RateLimit(limiter, "password-reset", cfg.VerifyRequest))
	g.POST("/password-reset/confirm", h.ResetPassword,
		middleware.RateLimit(limiter, "password-reset-confirm", cfg.Login))

	// Logout works with or without a live session so a stale cookie can
	// always be cleared.
	g.POST("/logout", h.Logout)

	// Authenticated routes.
	authed := g.Group("", RequireAuth())
	authed.GET("/me", h.Me)
	authed.POST("/logout-all", h.LogoutAll)
	authed.GET("/sessions", h.ListSessions)
	authed.DELETE("/sessions/:id", h.RevokeSession)
	authed.POST("/password", h.ChangePassword,
		middleware.RateLimit(limiter, "password-change", cfg.PasswordChange))
	authed.POST("/verify-email/request", h.RequestEmailVerification,
		middleware.RateLimit(limiter, "verify-request", cfg.VerifyRequest))
}
