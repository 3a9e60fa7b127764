// ratelimit.go adapts the ratelimit package to Echo. The counting itself
// lives in internal/ratelimit behind a store interface so a single server
// can count in memory and a fleet can share a Redis counter.
package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/maplecart/storefront/internal/apperror"
	"github.com/maplecart/storefront/internal/config"
	"github.com/maplecart/storefront/internal/ratelimit"
)

// RateLimit returns middleware that limits requests per client IP for the
// named route according to the given budget. Returns 429 with a
// Retry-After hint when the budget is exhausted. Store failures do not
// block requests.
func RateLimit(limiter *ratelimit.Limiter, route string, budget config.RouteBudget) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := limiter.Check(c.Request().Context(), route, c.RealIP(), budget.Max, budget.Window)
			if !res.Allowed {
				return apperror.NewRateLimited(res.RetryAfter)
			}
			return next(c)
		}
	}
}
