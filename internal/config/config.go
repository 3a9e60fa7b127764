// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for links and redirects.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds authentication-related settings.
	Auth AuthConfig

	// RateLimit holds per-route request budgets for the auth endpoints.
	RateLimit RateLimitConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so container
// orchestrators can manage each independently. If DATABASE_URL is set, it
// takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	// User is the MariaDB username (default: "maplecart").
	User string

	// Password is the MariaDB password (default: "maplecart").
	Password string

	// Name is the database name (default: "maplecart").
	Name string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// Host/User/Password/Name fields using the driver's Config.FormatDSN()
// to safely handle special characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
// Allows users to set DB_HOST=mydb (gets :3306) or DB_HOST=mydb:3307 (as-is).
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters. Redis is optional: it backs
// the shared rate-limit counter store for multi-process deployments. When
// unset, the in-memory counter store is used instead.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	// Empty means "no Redis" and is valid for single-process deployments.
	URL string
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// BcryptCost is the bcrypt work factor. 12 is deliberately slow;
	// raise it as hardware improves.
	BcryptCost int

	// SessionTTL is the default session lifetime (no remember-me).
	SessionTTL time.Duration

	// RememberTTL is the extended session lifetime when remember-me is set.
	RememberTTL time.Duration

	// OneTimeTokenTTL is the lifetime of email verification and password
	// reset tokens.
	OneTimeTokenTTL time.Duration

	// CookieName is the name of the session cookie.
	CookieName string

	// CookieSecure forces the Secure flag on the session cookie even when
	// the request itself arrived over plain HTTP (e.g. TLS-terminating
	// proxy without X-Forwarded-Proto).
	CookieSecure bool

	// Password is the password complexity policy applied on registration,
	// password change, and password reset.
	Password PasswordPolicy
}

// PasswordPolicy defines minimum password complexity. Policy, not logic:
// each field is independently tunable via environment.
type PasswordPolicy struct {
	// MinLength is the minimum password length in bytes.
	MinLength int

	// MaxLength caps password length (bcrypt truncates past 72 bytes).
	MaxLength int

	// RequireDigit requires at least one ASCII digit.
	RequireDigit bool

	// RequireUpper requires at least one uppercase ASCII letter.
	RequireUpper bool
}

// RouteBudget is a fixed-window request budget for a single route.
type RouteBudget struct {
	// Max is the number of requests allowed per window.
	Max int

	// Window is the length of the fixed window.
	Window time.Duration
}

// RateLimitConfig holds the per-route budgets for rate-limited endpoints.
// Budgets are keyed by route so one abusive endpoint cannot exhaust the
// budget of an unrelated one.
type RateLimitConfig struct {
	// SweepInterval is how often the in-memory counter store drops
	// entries whose window has already elapsed.
	SweepInterval time.Duration

	// Register limits account creation (default 5 / 15 min).
	Register RouteBudget

	// Login limits credential checks (default 10 / 15 min).
	Login RouteBudget

	// PasswordChange limits password change attempts (default 5 / 15 min).
	PasswordChange RouteBudget

	// VerifyRequest limits verification/reset token requests (default 3 / 60 min).
	VerifyRequest RouteBudget
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing or out of range.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "maplecart"),
			Password:        getEnv("DB_PASSWORD", "maplecart"),
			Name:            getEnv("DB_NAME", "maplecart"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},

		Auth: AuthConfig{
			BcryptCost:      getEnvInt("BCRYPT_COST", 12),
			SessionTTL:      getEnvDuration("SESSION_TTL", 7*24*time.Hour),
			RememberTTL:     getEnvDuration("SESSION_REMEMBER_TTL", 30*24*time.Hour),
			OneTimeTokenTTL: getEnvDuration("ONE_TIME_TOKEN_TTL", 24*time.Hour),
			CookieName:      getEnv("SESSION_COOKIE_NAME", "maplecart_session"),
			CookieSecure:    getEnvBool("SESSION_COOKIE_SECURE", false),
			Password: PasswordPolicy{
				MinLength:    getEnvInt("PASSWORD_MIN_LENGTH", 8),
				MaxLength:    getEnvInt("PASSWORD_MAX_LENGTH", 72),
				RequireDigit: getEnvBool("PASSWORD_REQUIRE_DIGIT", true),
				RequireUpper: getEnvBool("PASSWORD_REQUIRE_UPPER", true),
			},
		},

		RateLimit: RateLimitConfig{
			SweepInterval:  getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
			Register:       budget("RATE_LIMIT_REGISTER", 5, 15*time.Minute),
			Login:          budget("RATE_LIMIT_LOGIN", 10, 15*time.Minute),
			PasswordChange: budget("RATE_LIMIT_PASSWORD_CHANGE", 5, 15*time.Minute),
			VerifyRequest:  budget("RATE_LIMIT_VERIFY_REQUEST", 3, 60*time.Minute),
		},
	}

	// bcrypt rejects costs outside [4, 31]; anything under 10 is too fast
	// for credential storage.
	if cfg.Auth.BcryptCost < 10 || cfg.Auth.BcryptCost > 31 {
		return nil, fmt.Errorf("BCRYPT_COST must be between 10 and 31, got %d", cfg.Auth.BcryptCost)
	}

	if cfg.Auth.RememberTTL < cfg.Auth.SessionTTL {
		return nil, fmt.Errorf("SESSION_REMEMBER_TTL (%s) must not be shorter than SESSION_TTL (%s)",
			cfg.Auth.RememberTTL, cfg.Auth.SessionTTL)
	}

	// Force secure cookies in production regardless of the env override.
	envLower := strings.ToLower(cfg.Env)
	if envLower == "production" || envLower == "prod" {
		cfg.Auth.CookieSecure = true
	}

	return cfg, nil
}

// budget reads a "<prefix>_MAX" / "<prefix>_WINDOW" env var pair.
func budget(prefix string, defMax int, defWindow time.Duration) RouteBudget {
	return RouteBudget{
		Max:    getEnvInt(prefix+"_MAX", defMax),
		Window: getEnvDuration(prefix+"_WINDOW", defWindow),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var ("true", "1", "false", ...) or returns
// the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "15m") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
