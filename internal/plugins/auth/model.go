// Package auth handles credential verification, session lifecycle, and
// access control for the Maplecart storefront. It owns registration, login,
// logout, session listing/revocation, password change, and the one-time
// token flows (email verification, password reset). Sessions are durable
// rows referenced by a bearer cookie value.
//
// Storefront business routes (catalog, cart, checkout, admin console) are
// not part of this package; they mount its middleware and guards.
package auth

import (
	"time"
)

// User status constants. Locked users cannot log in; deleted users are
// invisible to the auth path entirely.
const (
	StatusActive  = "active"
	StatusLocked  = "locked"
	StatusDeleted = "deleted"
)

// User role constants.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a storefront account. This is the domain model used
// throughout the application; database scanning and JSON marshaling use
// this struct directly. PasswordHash and MFASecret carry `json:"-"` so
// they can never leak through marshaling, and Sanitize() zeroes them
// before the record crosses any boundary.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name,omitempty"`
	PasswordHash string     `json:"-"` // Never expose in JSON responses.
	Status       string     `json:"status"`
	Role         string     `json:"role"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	MFAEnabled   bool       `json:"mfa_enabled"`
	MFASecret    *string    `json:"-"` // Never expose. Present for future MFA flows.
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Sanitize returns a copy of the user with credential material stripped.
// Every service method that hands a user to a caller returns a sanitized
// copy; the JSON tags are the second line of defense, not the contract.
func (u *User) Sanitize() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.PasswordHash = ""
	out.MFASecret = nil
	return &out
}

// IsVerified reports whether the account's email has been verified.
func (u *User) IsVerified() bool {
	return u.VerifiedAt != nil
}

// Session is a server-side record of an authenticated browser context.
// Token is the raw bearer value from the session cookie; it is stored
// as-is (not hashed) and is never serialized. ID is a separate UUID so
// listings and revocation can reference a session without re-exposing
// its bearer value.
//
// A session is valid iff RevokedAt is nil and ExpiresAt is in the future.
// Expiry and revocation are both terminal; the validity check does not
// distinguish them.
type Session struct {
	ID         string     `json:"id"`
	Token      string     `json:"-"` // Raw bearer value. Never expose.
	UserID     string     `json:"user_id"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	IP         string     `json:"ip,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Valid reports the session validity predicate. The repository enforces
// the same predicate in SQL for lookups; this method exists for records
// already in hand (e.g. session listings).
func (s *Session) Valid(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// SessionInfo is a session listing entry, annotated with whether it is the
// session that issued the listing request.
type SessionInfo struct {
	Session
	Current bool `json:"current"`
}

// One-time token kinds. Email verification and password reset tokens are
// structurally identical; the kind keeps their tables and flows apart.
const (
	TokenKindEmailVerification = "email_verification"
	TokenKindPasswordReset     = "password_reset"
)

// OneTimeToken is a single-use, expiring credential for out-of-band flows.
// Only the SHA-256 hash of the raw token is ever stored; the raw value is
// handed to a TokenSender and then discarded.
type OneTimeToken struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Usable reports whether the token is unused and unexpired.
func (t *OneTimeToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && t.ExpiresAt.After(now)
}

// --- Request DTOs (bound from HTTP requests) ---

// RegisterRequest holds the data submitted to POST /register.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest holds the data submitted to POST /login.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// ChangePasswordRequest holds the data submitted to POST /password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// VerifyEmailRequest holds the data submitted to POST /verify-email/confirm.
type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// ForgotPasswordRequest holds the data submitted to POST /password-reset/request.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest holds the data submitted to POST /password-reset/confirm.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// --- Service Input DTOs (passed from handler to service) ---

// RegisterInput is the validated input for creating a new account.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

// LoginInput is the validated input for authenticating a user.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool

	// IP and UserAgent are recorded on the created session for the
	// session listing.
	IP        string
	UserAgent string
}
