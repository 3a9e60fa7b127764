package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/maplecart/storefront/internal/apperror"
)

// Store defines the data access contract for users, sessions, and one-time
// tokens. The service consumes this interface only; all SQL lives in the
// concrete implementation and no SQL leaks out.
//
// GetValidSession enforces the session validity predicate (not revoked,
// not expired) at the data layer. Callers must not re-implement the expiry
// check elsewhere.
type Store interface {
	// Users.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	CreateUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, user *User) error

	// Sessions.
	CreateSession(ctx context.Context, session *Session) error
	GetValidSession(ctx context.Context, token string) (*Session, *User, error)
	GetUserSessions(ctx context.Context, userID string) ([]Session, error)
	UpdateSessionLastSeen(ctx context.Context, sessionID string) error
	RevokeSession(ctx context.Context, sessionID, userID string) error
	RevokeAllUserSessions(ctx context.Context, userID, exceptSessionID string) (int64, error)

	// One-time tokens: email verification.
	CreateEmailVerificationToken(ctx context.Context, token *OneTimeToken) error
	GetEmailVerificationToken(ctx context.Context, tokenHash string) (*OneTimeToken, error)
	MarkEmailVerificationTokenUsed(ctx context.Context, tokenHash string) error

	// One-time tokens: password reset.
	CreatePasswordResetToken(ctx context.Context, token *OneTimeToken) error
	GetPasswordResetToken(ctx context.Context, tokenHash string) (*OneTimeToken, error)
	MarkPasswordResetTokenUsed(ctx context.Context, tokenHash string) error
}

// mariaStore implements Store with hand-written MariaDB queries.
type mariaStore struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given DB pool.
func NewStore(db *sql.DB) Store {
	return &mariaStore{db: db}
}

const userColumns = `id, email, display_name, password_hash, status, role,
	verified_at, mfa_enabled, mfa_secret, created_at, updated_at`

// scanUser scans a full user row in userColumns order.
func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Status,
		&user.Role,
		&user.VerifiedAt,
		&user.MFAEnabled,
		&user.MFASecret,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user by normalized email. Deleted accounts are
// invisible to the auth path. Returns apperror.NotFound if no match.
func (s *mariaStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ? AND status <> 'deleted'`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by UUID. Returns apperror.NotFound if no
// user exists with this ID or the account is deleted.
func (s *mariaStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ? AND status <> 'deleted'`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return user, nil
}

// EmailExists returns true if any account (including deleted) holds the
// email. Used during registration to check for duplicates before hashing
// the password.
func (s *mariaStore) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}
	return exists, nil
}

// CreateUser inserts a new user row. A duplicate-key race on the unique
// email index maps to apperror.Conflict so the pre-insert existence check
// stays advisory.
func (s *mariaStore) CreateUser(ctx context.Context, user *User) error {
	query := `INSERT INTO users
		(id, email, display_name, password_hash, status, role, verified_at,
		 mfa_enabled, mfa_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		user.Status,
		user.Role,
		user.VerifiedAt,
		user.MFAEnabled,
		user.MFASecret,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return apperror.NewConflict("an account with this email already exists")
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// UpdateUser persists mutable user fields (email, display name, password
// hash, status, verification). Returns apperror.NotFound if the row is gone.
func (s *mariaStore) UpdateUser(ctx context.Context, user *User) error {
	query := `UPDATE users
		SET email = ?, display_name = ?, password_hash = ?, status = ?,
		    role = ?, verified_at = ?, mfa_enabled = ?, mfa_secret = ?,
		    updated_at = NOW()
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		user.Status,
		user.Role,
		user.VerifiedAt,
		user.MFAEnabled,
		user.MFASecret,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// --- Sessions ---

const sessionColumns = `id, token, user_id, expires_at, last_seen_at, ip,
	user_agent, revoked_at, created_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	session := &Session{}
	err := row.Scan(
		&session.ID,
		&session.Token,
		&session.UserID,
		&session.ExpiresAt,
		&session.LastSeenAt,
		&session.IP,
		&session.UserAgent,
		&session.RevokedAt,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// CreateSession inserts a new session row.
func (s *mariaStore) CreateSession(ctx context.Context, session *Session) error {
	query := `INSERT INTO sessions
		(id, token, user_id, expires_at, last_seen_at, ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.Token,
		session.UserID,
		session.ExpiresAt,
		session.LastSeenAt,
		session.IP,
		session.UserAgent,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetValidSession resolves a bearer token to its session and owning user.
// The validity predicate (revoked_at IS NULL AND expires_at > NOW()) and
// the owner's existence are enforced here, in one query, so every caller
// gets identical semantics. Returns apperror.NotFound for unknown, expired,
// or revoked tokens.
func (s *mariaStore) GetValidSession(ctx context.Context, token string) (*Session, *User, error) {
	query := `SELECT
			s.id, s.token, s.user_id, s.expires_at, s.last_seen_at, s.ip,
			s.user_agent, s.revoked_at, s.created_at,
			u.id, u.email, u.display_name, u.password_hash, u.status, u.role,
			u.verified_at, u.mfa_enabled, u.mfa_secret, u.created_at, u.updated_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = ?
		  AND s.revoked_at IS NULL
		  AND s.expires_at > NOW()
		  AND u.status <> 'deleted'`

	session := &Session{}
	user := &User{}
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&session.ID,
		&session.Token,
		&session.UserID,
		&session.ExpiresAt,
		&session.LastSeenAt,
		&session.IP,
		&session.UserAgent,
		&session.RevokedAt,
		&session.CreatedAt,
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Status,
		&user.Role,
		&user.VerifiedAt,
		&user.MFAEnabled,
		&user.MFASecret,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apperror.NewNotFound("session not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("querying valid session: %w", err)
	}
	return session, user, nil
}

// GetUserSessions returns every session row for a user, newest activity
// first. Expired and revoked rows are included: the listing is also an
// audit trail, and the handler annotates validity.
func (s *mariaStore) GetUserSessions(ctx context.Context, userID string) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = ? ORDER BY last_seen_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// UpdateSessionLastSeen bumps last_seen_at to now. Concurrent bumps on the
// same row are fine; last write wins and nothing reads the value for
// correctness.
func (s *mariaStore) UpdateSessionLastSeen(ctx context.Context, sessionID string) error {
	query := `UPDATE sessions SET last_seen_at = NOW() WHERE id = ?`

	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("updating session last seen: %w", err)
	}
	return nil
}

// RevokeSession stamps revoked_at on a session owned by userID. COALESCE
// keeps the original revocation time if the session was already revoked;
// there is no un-revoke path. Returns apperror.NotFound if the session
// does not exist or belongs to someone else.
func (s *mariaStore) RevokeSession(ctx context.Context, sessionID, userID string) error {
	query := `UPDATE sessions SET revoked_at = COALESCE(revoked_at, NOW())
		WHERE id = ? AND user_id = ?`

	result, err := s.db.ExecContext(ctx, query, sessionID, userID)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("session not found")
	}
	return nil
}

// RevokeAllUserSessions revokes every active session for a user except the
// one named by exceptSessionID (empty string keeps nothing). Returns the
// number of sessions revoked.
func (s *mariaStore) RevokeAllUserSessions(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	query := `UPDATE sessions SET revoked_at = NOW()
		WHERE user_id = ? AND id <> ? AND revoked_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, userID, exceptSessionID)
	if err != nil {
		return 0, fmt.Errorf("revoking user sessions: %w", err)
	}
	return result.RowsAffected()
}

// --- One-time tokens ---
// The two token tables are structurally identical; the helpers below are
// parameterized by table name (a trusted constant, never user input).

func (s *mariaStore) createOneTimeToken(ctx context.Context, table string, token *OneTimeToken) error {
	query := fmt.Sprintf(`INSERT INTO %s (user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?)`, table)

	_, err := s.db.ExecContext(ctx, query,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting %s token: %w", table, err)
	}
	return nil
}

func (s *mariaStore) getOneTimeToken(ctx context.Context, table, tokenHash string) (*OneTimeToken, error) {
	query := fmt.Sprintf(`SELECT user_id, token_hash, expires_at, used_at, created_at
		FROM %s WHERE token_hash = ?`, table)

	token := &OneTimeToken{}
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("invalid or expired token")
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s token: %w", table, err)
	}
	return token, nil
}

// markOneTimeTokenUsed stamps used_at, only if the token is still unused.
// The used_at IS NULL clause makes consumption race-safe: of two
// concurrent redeemers, exactly one sees a row affected.
func (s *mariaStore) markOneTimeTokenUsed(ctx context.Context, table, tokenHash string) error {
	query := fmt.Sprintf(`UPDATE %s SET used_at = NOW()
		WHERE token_hash = ? AND used_at IS NULL`, table)

	result, err := s.db.ExecContext(ctx, query, tokenHash)
	if err != nil {
		return fmt.Errorf("marking %s token used: %w", table, err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("invalid or expired token")
	}
	return nil
}

func (s *mariaStore) CreateEmailVerificationToken(ctx context.Context, token *OneTimeToken) error {
	return s.createOneTimeToken(ctx, "email_verification_tokens", token)
}

func (s *mariaStore) GetEmailVerificationToken(ctx context.Context, tokenHash string) (*OneTimeToken, error) {
	return s.getOneTimeToken(ctx, "email_verification_tokens", tokenHash)
}

func (s *mariaStore) MarkEmailVerificationTokenUsed(ctx context.Context, tokenHash string) error {
	return s.markOneTimeTokenUsed(ctx, "email_verification_tokens", tokenHash)
}

func (s *mariaStore) CreatePasswordResetToken(ctx context.Context, token *OneTimeToken) error {
	return s.createOneTimeToken(ctx, "password_reset_tokens", token)
}

func (s *mariaStore) GetPasswordResetToken(ctx context.Context, tokenHash string) (*OneTimeToken, error) {
	return s.getOneTimeToken(ctx, "password_reset_tokens", tokenHash)
}

func (s *mariaStore) MarkPasswordResetTokenUsed(ctx context.Context, tokenHash string) error {
	return s.markOneTimeTokenUsed(ctx, "password_reset_tokens", tokenHash)
}
