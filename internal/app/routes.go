package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/maplecart/storefront/internal/plugins/auth"
)

// RegisterRoutes sets up all application routes. It registers public routes
// directly and delegates to each plugin's route registration function.
//
// This is the single place where all routes are aggregated. When a new
// plugin is added, its routes are registered here.
func (a *App) RegisterRoutes() {
	e := a.Echo

	// Health check endpoint for Docker health monitoring and load
	// balancers. Reports degraded dependencies with a 503 so orchestrators
	// stop routing to this instance.
	e.GET("/healthz", a.healthz)

	// --- Plugin Routes ---

	// auth plugin (register, login, sessions, password and token flows).
	authHandler := auth.NewHandler(a.AuthService, a.Config.Auth)
	auth.RegisterRoutes(e, authHandler, a.Limiter, a.Config.RateLimit)

	// Authenticated route group -- storefront plugins that need a signed-in
	// customer (cart, checkout, orders) register under here.
	// authed := e.Group("/api", auth.RequireAuth())

	// Admin route group -- catalog and order management.
	// admin := e.Group("/api/admin", auth.RequireAdmin())
}

// healthz verifies downstream dependencies with short timeouts. The
// request's own deadline is not trusted here; a hung DB must not hang the
// health check.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{"db": "ok"}

	if err := a.DB.PingContext(ctx); err != nil {
		checks["db"] = "unreachable"
		status = http.StatusServiceUnavailable
	}

	if a.Redis != nil {
		checks["redis"] = "ok"
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	return c.JSON(status, checks)
}
