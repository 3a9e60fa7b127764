package auth

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/maplecart/storefront/internal/apperror"
)

// Context keys for storing session data in Echo context. Other plugins
// use these keys (via the exported getter functions below) to access
// the authenticated user's information.
const (
	contextKeyUser    = "auth_user"
	contextKeySession = "auth_session"
)

// LoadSession returns middleware that resolves the session cookie, if
// any, and attaches the user and session to the request context. It is a
// total function over requests: missing cookies, unknown tokens, expired
// sessions, and store failures all fall through to an anonymous request.
// A cookie that fails to resolve is cleared so the browser stops
// presenting it.
//
// LoadSession runs on every route; RequireAuth and RequireAdmin enforce
// on top of what it loaded.
func LoadSession(service AuthService, cookieName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := readSessionCookie(c, cookieName)
			if token == "" {
				return next(c)
			}

			user, session, err := service.Authenticate(c.Request().Context(), token)
			if err != nil {
				if apperror.SafeCode(err) == 401 {
					clearSessionCookie(c, cookieName)
				}
				return next(c)
			}

			c.Set(contextKeyUser, user)
			c.Set(contextKeySession, session)

			// Last-seen is advisory; do not hold the request for it. The
			// request context dies with the response, so the bump gets a
			// detached one.
			go service.TouchSession(context.WithoutCancel(c.Request().Context()), session.ID)

			return next(c)
		}
	}
}

// RequireAuth returns middleware that rejects requests LoadSession left
// anonymous.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if CurrentUser(c) == nil {
				return apperror.NewUnauthorized("authentication required")
			}
			return next(c)
		}
	}
}

// RequireAdmin returns middleware that rejects requests whose user does
// not hold the admin role. Anonymous requests get 401, authenticated
// non-admins get 404 rather than 403 so the existence of admin routes is
// not confirmed to regular accounts.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := CurrentUser(c)
			if user == nil {
				return apperror.NewUnauthorized("authentication required")
			}
			if user.Role != RoleAdmin {
				return apperror.NewNotFound("page")
			}
			return next(c)
		}
	}
}

// --- Exported getters for other plugins ---

// CurrentUser retrieves the authenticated user from the Echo context.
// Returns nil for anonymous requests. The record is sanitized; it never
// carries credential material.
func CurrentUser(c echo.Context) *User {
	user, ok := c.Get(contextKeyUser).(*User)
	if !ok {
		return nil
	}
	return user
}

// CurrentSession retrieves the session backing the request. Returns nil
// for anonymous requests.
func CurrentSession(c echo.Context) *Session {
	session, ok := c.Get(contextKeySession).(*Session)
	if !ok {
		return nil
	}
	return session
}

// readSessionCookie extracts the bearer token from the session cookie.
// Returns empty string when the cookie is absent.
func readSessionCookie(c echo.Context, cookieName string) string {
	cookie, err := c.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
