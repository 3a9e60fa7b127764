// Package app is the application bootstrap and dependency injection root.
// It creates and holds all shared infrastructure (DB pool, Redis client,
// Echo instance, rate limiter) and wires together all plugins.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/maplecart/storefront/internal/apperror"
	"github.com/maplecart/storefront/internal/config"
	"github.com/maplecart/storefront/internal/middleware"
	"github.com/maplecart/storefront/internal/plugins/auth"
	"github.com/maplecart/storefront/internal/ratelimit"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool shared by all plugins.
	DB *sql.DB

	// Redis is the Redis client shared for rate limiting and caching.
	// Nil when no Redis URL is configured; rate limit counters are then
	// kept in process memory.
	Redis *redis.Client

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Limiter throttles abuse-prone endpoints per client IP.
	Limiter *ratelimit.Limiter

	// MemoryCounter is the in-memory rate limit store when Redis is not
	// configured. Nil otherwise. main.go runs its sweeper.
	MemoryCounter *ratelimit.MemoryStore

	// AuthService is exposed for other plugins that need user lookups.
	AuthService auth.AuthService
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with global middleware and error handling. rdb may be
// nil when running without Redis.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) *App {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// Configure trusted reverse proxy IPs so c.RealIP() returns the actual
	// client IP instead of the proxy's IP. Rate limiting and session audit
	// records depend on accurate IPs.
	middleware.TrustedProxies(e, []string{
		"127.0.0.0/8",    // Localhost
		"10.0.0.0/8",     // Docker default bridge
		"172.16.0.0/12",  // Docker bridge (alternate range)
		"192.168.0.0/16", // Common LAN
		"fd00::/8",       // IPv6 private
	})

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Echo:   e,
	}

	// Rate limit counters live in Redis when available so all instances
	// share a budget; otherwise each instance counts alone in memory.
	if rdb != nil {
		app.Limiter = ratelimit.New(ratelimit.NewRedisStore(rdb))
	} else {
		app.MemoryCounter = ratelimit.NewMemoryStore()
		app.Limiter = ratelimit.New(app.MemoryCounter)
	}

	// Wire the auth plugin: MariaDB store, bcrypt hasher, log-only token
	// delivery until a mail transport exists. Config validation already
	// bounds the cost, so hasher construction cannot fail here.
	hasher, err := auth.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		panic(fmt.Sprintf("creating password hasher: %v", err))
	}
	app.AuthService = auth.NewAuthService(auth.NewStore(db), hasher, auth.NewLogSender(), cfg.Auth)

	// Register global middleware in order of execution.
	app.setupMiddleware()

	// Register the custom error handler that maps AppErrors to HTTP responses.
	e.HTTPErrorHandler = app.errorHandler

	return app
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first, innermost (session
// loading) runs last.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	// Request logging -- log every request with method, path, status, latency.
	a.Echo.Use(middleware.RequestLogger())

	// Security headers -- CSP, X-Frame-Options, X-Content-Type-Options, etc.
	a.Echo.Use(middleware.SecurityHeaders())

	// CORS -- allow a cross-origin frontend during development.
	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{a.Config.BaseURL},
		AllowCredentials: true,
	}))

	// CSRF -- double-submit cookie pattern on all state-changing requests.
	a.Echo.Use(middleware.CSRF())

	// Session loading -- resolves the session cookie on every request.
	// Fail-open: anonymous requests continue, guards enforce per group.
	a.Echo.Use(auth.LoadSession(a.AuthService, a.Config.Auth.CookieName))
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to JSON responses. Rate limited responses carry a
// Retry-After header so clients know when to come back.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	errType := "internal"
	message := "An unexpected error occurred"

	// Check if it's our domain error type.
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		errType = appErr.Type
		message = appErr.Message

		if appErr.RetryAfter > 0 {
			c.Response().Header().Set("Retry-After",
				strconv.Itoa(int(appErr.RetryAfter.Seconds())))
		}

		// Log internal errors with the underlying cause.
		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}
	} else {
		// Check for Echo's built-in HTTP errors (e.g., 404 from router).
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			code = echoErr.Code
			errType = http.StatusText(code)
			if msg, ok := echoErr.Message.(string); ok {
				message = msg
			} else {
				message = defaultErrorMessage(code)
			}
		} else {
			// Truly unexpected error -- log it.
			slog.Error("unhandled error",
				slog.Any("error", err),
				slog.String("path", c.Request().URL.Path),
			)
		}
	}

	c.JSON(code, map[string]string{
		"error":   errType,
		"message": message,
	})
}

// defaultErrorMessage returns a user-friendly message for common HTTP status codes
// when no specific message was provided by the error.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "You need to log in to do that."
	case http.StatusForbidden:
		return "You don't have permission to access this resource."
	case http.StatusNotFound:
		return "The resource you're looking for doesn't exist."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusConflict:
		return "This action conflicts with the current state."
	case http.StatusUnprocessableEntity:
		return "The submitted data could not be processed."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	case http.StatusInternalServerError:
		return "Something went wrong on our end. Please try again."
	case http.StatusBadGateway:
		return "The server received an invalid response."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	default:
		return "An unexpected error occurred."
	}
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}
