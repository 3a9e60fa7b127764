package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maplecart/storefront/internal/apperror"
	"github.com/maplecart/storefront/internal/config"
	"github.com/maplecart/storefront/internal/sanitize"
)

// genericLoginError is the single message for every credential mismatch.
// Never distinguish "no such account" from "wrong password" -- that
// distinction is an account enumeration oracle.
const genericLoginError = "invalid email or password"

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the store directly.
// Every *User leaving this interface is sanitized: no password hash, no
// MFA secret.
type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (*User, *Session, error)
	Login(ctx context.Context, input LoginInput) (*User, *Session, error)
	Authenticate(ctx context.Context, token string) (*User, *Session, error)
	TouchSession(ctx context.Context, sessionID string)
	Logout(ctx context.Context, userID, sessionID string) error
	LogoutAll(ctx context.Context, userID string) error
	ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
	ChangePassword(ctx context.Context, userID, currentSessionID, currentPassword, newPassword string) error
	RequestEmailVerification(ctx context.Context, userID string) error
	ConfirmEmailVerification(ctx context.Context, rawToken string) (*User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
}

// authService implements AuthService against a Store and a PasswordHasher.
type authService struct {
	store  Store
	hasher PasswordHasher
	sender TokenSender
	cfg    config.AuthConfig
}

// NewAuthService creates the auth service with the given dependencies.
// sender receives raw one-time tokens for out-of-band delivery; pass
// NewLogSender() when no delivery channel is configured.
func NewAuthService(store Store, hasher PasswordHasher, sender TokenSender, cfg config.AuthConfig) AuthService {
	return &authService{
		store:  store,
		hasher: hasher,
		sender: sender,
		cfg:    cfg,
	}
}

// normalizeEmail lowercases and trims an email address. Emails are
// case-insensitively unique; normalization happens once, here, so the
// store only ever sees canonical form.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new account and logs it in. Fails with Conflict if
// the email is taken and ValidationError on malformed input.
func (s *authService) Register(ctx context.Context, input RegisterInput) (*User, *Session, error) {
	email := normalizeEmail(input.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, nil, apperror.NewValidation("invalid email address")
	}
	if err := CheckPasswordPolicy(input.Password, s.cfg.Password); err != nil {
		return nil, nil, err
	}

	// Check for duplicates before doing expensive hashing. The unique
	// index on email backs this up if two registrations race.
	exists, err := s.store.EmailExists(ctx, email)
	if err != nil {
		return nil, nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if exists {
		return nil, nil, apperror.NewConflict("an account with this email already exists")
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	now := time.Now().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  sanitize.DisplayName(input.DisplayName),
		PasswordHash: hash,
		Status:       StatusActive,
		Role:         RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if apperror.SafeCode(err) == 409 {
			return nil, nil, err
		}
		return nil, nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	session, err := s.createSession(ctx, user, false, "", "")
	if err != nil {
		return nil, nil, err
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user.Sanitize(), session, nil
}

// Login authenticates a user by email and password and creates a session.
//
// The timing contract: exactly one hash comparison happens per attempt,
// whether or not the account exists. When the lookup misses (or the
// account has no local credential), the comparison runs against the fixed
// dummy hash, so "no such account" costs the same as "wrong password".
// Branching on account existence happens only after the comparison.
func (s *authService) Login(ctx context.Context, input LoginInput) (*User, *Session, error) {
	email := normalizeEmail(input.Email)

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if apperror.SafeCode(err) != 404 {
			return nil, nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
		}
		user = nil
	}

	hashToCompare := s.hasher.Dummy()
	if user != nil && user.PasswordHash != "" {
		hashToCompare = user.PasswordHash
	}

	ok := s.hasher.Verify(input.Password, hashToCompare)

	// Only now branch on whether the account actually existed. An account
	// without a password hash has no local credential (future SSO) and
	// fails like any mismatch.
	if user == nil || user.PasswordHash == "" || !ok {
		return nil, nil, apperror.NewUnauthorized(genericLoginError)
	}

	// Status check deliberately after verification so the response time
	// of a locked account matches an active one.
	if user.Status == StatusLocked {
		return nil, nil, apperror.NewForbidden("this account is locked")
	}

	session, err := s.createSession(ctx, user, input.RememberMe, input.IP, input.UserAgent)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.Bool("remember_me", input.RememberMe),
	)

	return user.Sanitize(), session, nil
}

// createSession generates a bearer token, persists the session row with an
// expiry chosen by the remember flag, and returns the record (including
// the raw token, for the cookie).
func (s *authService) createSession(ctx context.Context, user *User, remember bool, ip, userAgent string) (*Session, error) {
	token, err := NewSessionToken()
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating session token: %w", err))
	}

	now := time.Now().UTC()
	session := &Session{
		ID:         uuid.NewString(),
		Token:      token,
		UserID:     user.ID,
		ExpiresAt:  SessionExpiry(now, remember, s.cfg.SessionTTL, s.cfg.RememberTTL),
		LastSeenAt: now,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  now,
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}
	return session, nil
}

// Authenticate resolves a bearer token to its session and sanitized user.
// Unknown, expired, and revoked tokens all return Unauthorized without
// distinguishing the cause.
func (s *authService) Authenticate(ctx context.Context, token string) (*User, *Session, error) {
	session, user, err := s.store.GetValidSession(ctx, token)
	if err != nil {
		if apperror.SafeCode(err) == 404 {
			return nil, nil, apperror.NewUnauthorized("session expired or invalid")
		}
		return nil, nil, apperror.NewInternal(fmt.Errorf("resolving session: %w", err))
	}
	return user.Sanitize(), session, nil
}

// TouchSession bumps the session's last-seen timestamp. Best-effort:
// failures are logged and swallowed, never surfaced to the request that
// triggered the bump.
func (s *authService) TouchSession(ctx context.Context, sessionID string) {
	if err := s.store.UpdateSessionLastSeen(ctx, sessionID); err != nil {
		slog.Warn("failed to update session last seen",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
	}
}

// Logout revokes the single session that issued the request.
func (s *authService) Logout(ctx context.Context, userID, sessionID string) error {
	if err := s.store.RevokeSession(ctx, sessionID, userID); err != nil {
		if apperror.SafeCode(err) == 404 {
			// Session already gone; logout is idempotent from the
			// caller's point of view.
			return nil
		}
		return apperror.NewInternal(fmt.Errorf("revoking session: %w", err))
	}
	return nil
}

// LogoutAll revokes every session for the user, including the one that
// issued the call.
func (s *authService) LogoutAll(ctx context.Context, userID string) error {
	n, err := s.store.RevokeAllUserSessions(ctx, userID, "")
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("revoking all sessions: %w", err))
	}

	slog.Info("user logged out everywhere",
		slog.String("user_id", userID),
		slog.Int64("sessions_revoked", n),
	)
	return nil
}

// ListSessions returns the user's sessions, newest activity first, each
// annotated with whether it is the session that issued this request.
func (s *authService) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	sessions, err := s.store.GetUserSessions(ctx, userID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing sessions: %w", err))
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, SessionInfo{
			Session: session,
			Current: session.ID == currentSessionID,
		})
	}
	return infos, nil
}

// RevokeSession revokes one of the caller's sessions by ID. Fails with
// NotFound if the session does not exist or belongs to another user; the
// two cases are indistinguishable on purpose.
func (s *authService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	err := s.store.RevokeSession(ctx, sessionID, userID)
	if err != nil && apperror.SafeCode(err) != 404 {
		return apperror.NewInternal(fmt.Errorf("revoking session: %w", err))
	}
	return err
}

// ChangePassword verifies the current password, applies the complexity
// policy to the new one, replaces the hash, and revokes every other
// session belonging to the user. The session that issued the change stays
// valid: changing your password must kill stolen sessions elsewhere
// without logging out the device performing the change.
func (s *authService) ChangePassword(ctx context.Context, userID, currentSessionID, currentPassword, newPassword string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if user.PasswordHash == "" || !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return apperror.NewUnauthorized("current password is incorrect")
	}

	if err := CheckPasswordPolicy(newPassword, s.cfg.Password); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	user.PasswordHash = hash
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating password: %w", err))
	}

	n, err := s.store.RevokeAllUserSessions(ctx, userID, currentSessionID)
	if err != nil {
		// The password did change; a failure here must still be surfaced
		// so the caller knows other sessions may linger.
		return apperror.NewInternal(fmt.Errorf("revoking other sessions: %w", err))
	}

	slog.Info("password changed",
		slog.String("user_id", userID),
		slog.Int64("other_sessions_revoked", n),
	)
	return nil
}

// --- One-time token flows ---

// RequestEmailVerification issues a fresh verification token for the user
// and hands the raw value to the token sender. Fails with BadRequest if
// the account is already verified.
func (s *authService) RequestEmailVerification(ctx context.Context, userID string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}
	if user.IsVerified() {
		return apperror.NewBadRequest("email is already verified")
	}

	raw, err := s.issueToken(ctx, user, TokenKindEmailVerification, s.store.CreateEmailVerificationToken)
	if err != nil {
		return err
	}

	s.deliverToken(ctx, user, TokenKindEmailVerification, raw)
	return nil
}

// ConfirmEmailVerification consumes a verification token and marks the
// account verified. Used and expired tokens fail identically.
func (s *authService) ConfirmEmailVerification(ctx context.Context, rawToken string) (*User, error) {
	tokenHash := HashLookupToken(rawToken)

	token, err := s.store.GetEmailVerificationToken(ctx, tokenHash)
	if err != nil {
		return nil, invalidTokenError(err)
	}
	if !token.Usable(time.Now().UTC()) {
		return nil, apperror.NewBadRequest("invalid or expired token")
	}

	if err := s.store.MarkEmailVerificationTokenUsed(ctx, tokenHash); err != nil {
		// A concurrent redemption won the race; treat it as already used.
		return nil, invalidTokenError(err)
	}

	user, err := s.store.GetUserByID(ctx, token.UserID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	now := time.Now().UTC()
	user.VerifiedAt = &now
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("marking user verified: %w", err))
	}

	slog.Info("email verified", slog.String("user_id", user.ID))
	return user.Sanitize(), nil
}

// RequestPasswordReset issues a reset token if the email belongs to an
// account. Always reports success to the caller -- a different response
// for unknown emails would be an enumeration oracle.
func (s *authService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if apperror.SafeCode(err) != 404 {
			slog.Warn("password reset lookup failed", slog.Any("error", err))
		}
		return nil
	}

	raw, err := s.issueToken(ctx, user, TokenKindPasswordReset, s.store.CreatePasswordResetToken)
	if err != nil {
		slog.Warn("password reset token issue failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return nil
	}

	s.deliverToken(ctx, user, TokenKindPasswordReset, raw)
	return nil
}

// ResetPassword consumes a reset token and replaces the password. Every
// session of the user is revoked, current ones included: the caller just
// proved the credential was lost.
func (s *authService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if err := CheckPasswordPolicy(newPassword, s.cfg.Password); err != nil {
		return err
	}

	tokenHash := HashLookupToken(rawToken)

	token, err := s.store.GetPasswordResetToken(ctx, tokenHash)
	if err != nil {
		return invalidTokenError(err)
	}
	if !token.Usable(time.Now().UTC()) {
		return apperror.NewBadRequest("invalid or expired token")
	}

	if err := s.store.MarkPasswordResetTokenUsed(ctx, tokenHash); err != nil {
		return invalidTokenError(err)
	}

	user, err := s.store.GetUserByID(ctx, token.UserID)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	user.PasswordHash = hash
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating password: %w", err))
	}

	if _, err := s.store.RevokeAllUserSessions(ctx, user.ID, ""); err != nil {
		return apperror.NewInternal(fmt.Errorf("revoking sessions: %w", err))
	}

	slog.Info("password reset", slog.String("user_id", user.ID))
	return nil
}

// issueToken creates a one-time token record via the given store method
// and returns the raw value for delivery. Only the SHA-256 hash is stored.
func (s *authService) issueToken(ctx context.Context, user *User, kind string, create func(context.Context, *OneTimeToken) error) (string, error) {
	raw, err := NewOneTimeToken()
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("generating %s token: %w", kind, err))
	}

	now := time.Now().UTC()
	token := &OneTimeToken{
		UserID:    user.ID,
		TokenHash: HashLookupToken(raw),
		ExpiresAt: OneTimeTokenExpiry(now, s.cfg.OneTimeTokenTTL),
		CreatedAt: now,
	}

	if err := create(ctx, token); err != nil {
		return "", apperror.NewInternal(fmt.Errorf("storing %s token: %w", kind, err))
	}
	return raw, nil
}

// deliverToken hands the raw token to the sender. Delivery failures are
// logged, never surfaced: the token exists and the flow can be retried.
func (s *authService) deliverToken(ctx context.Context, user *User, kind, raw string) {
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(ctx, user.Sanitize(), kind, raw); err != nil {
		slog.Warn("token delivery failed",
			slog.String("kind", kind),
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}
}

// invalidTokenError maps a store NotFound to the uniform BadRequest the
// token flows present, and wraps anything else as internal.
func invalidTokenError(err error) error {
	if apperror.SafeCode(err) == 404 {
		return apperror.NewBadRequest("invalid or expired token")
	}
	return apperror.NewInternal(err)
}
