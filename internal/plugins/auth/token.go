package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// sessionTokenBytes is the number of random bytes in a session token.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
const sessionTokenBytes = 32

// NewSessionToken creates a cryptographically random hex-encoded bearer
// token. The value goes into the session cookie and the sessions table
// as-is; there is no derivation layer for sessions, unlike one-time tokens.
func NewSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewOneTimeToken creates the raw value for an email verification or
// password reset token. Same entropy as a session token; the raw value is
// delivered out-of-band and only its hash is stored.
func NewOneTimeToken() (string, error) {
	return NewSessionToken()
}

// HashLookupToken derives the stable storage/lookup key for a one-time
// token: a plain SHA-256 digest, hex-encoded. Unsalted on purpose -- the
// input already carries 256 bits of entropy, and the hash must be
// recomputable from the raw token alone for lookup.
func HashLookupToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SessionExpiry computes a new session's absolute expiry from the
// remember-me flag. Pure function of its inputs; no hidden state.
func SessionExpiry(now time.Time, remember bool, defaultTTL, rememberTTL time.Duration) time.Time {
	if remember {
		return now.Add(rememberTTL)
	}
	return now.Add(defaultTTL)
}

// OneTimeTokenExpiry computes a one-time token's absolute expiry.
func OneTimeTokenExpiry(now time.Time, ttl time.Duration) time.Time {
	return now.Add(ttl)
}
