package auth

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/maplecart/storefront/internal/apperror"
	"github.com/maplecart/storefront/internal/config"
)

// dummyPassword seeds the dummy hash computed at Hasher construction. The
// value itself grants nothing: a login that matches the dummy hash still
// fails because no account backs it. It only exists so that "account not
// found" performs the same bcrypt work as "wrong password".
const dummyPassword = "maplecart-dummy-credential"

// PasswordHasher is the credential hashing contract. The service depends
// on the interface so tests can count comparisons.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
	Dummy() string
}

// bcryptHasher implements PasswordHasher with bcrypt at a fixed cost.
type bcryptHasher struct {
	cost  int
	dummy string
}

// NewHasher creates a bcrypt hasher with the given work factor. The dummy
// hash is generated once here, at the configured cost, so its verification
// time matches real hashes even after the cost is tuned.
func NewHasher(cost int) (PasswordHasher, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("generating dummy hash: %w", err)
	}
	return &bcryptHasher{cost: cost, dummy: string(dummy)}, nil
}

// Hash applies bcrypt with the configured cost. Output embeds a random
// salt, so hashing the same password twice yields different strings.
func (h *bcryptHasher) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(out), nil
}

// Verify checks a plaintext password against a bcrypt hash using bcrypt's
// own comparison, which is constant-time over the derived key and never
// short-circuits on length.
func (h *bcryptHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Dummy returns the fixed dummy hash compared against whenever a login
// identifier resolves to no account (or to an account with no local
// credential), keeping latency independent of account existence.
func (h *bcryptHasher) Dummy() string {
	return h.dummy
}

// CheckPasswordPolicy validates a candidate password against the
// configured complexity policy. Returns a ValidationError naming the
// first failed rule, or nil.
func CheckPasswordPolicy(password string, policy config.PasswordPolicy) error {
	if len(password) < policy.MinLength {
		return apperror.NewValidation(
			fmt.Sprintf("password must be at least %d characters", policy.MinLength))
	}
	if policy.MaxLength > 0 && len(password) > policy.MaxLength {
		return apperror.NewValidation(
			fmt.Sprintf("password must be at most %d characters", policy.MaxLength))
	}

	var hasDigit, hasUpper bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsUpper(r):
			hasUpper = true
		}
	}

	if policy.RequireDigit && !hasDigit {
		return apperror.NewValidation("password must contain at least one digit")
	}
	if policy.RequireUpper && !hasUpper {
		return apperror.NewValidation("password must contain at least one uppercase letter")
	}
	return nil
}
