package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/maplecart/storefront/internal/config"
)

// Tests use the bcrypt minimum cost; production cost is tuning, not behavior.
func testHasher(t *testing.T) PasswordHasher {
	t.Helper()
	hasher, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("creating hasher: %v", err)
	}
	return hasher
}

func TestHasher_HashAndVerify(t *testing.T) {
	hasher := testHasher(t)

	hash, err := hasher.Hash("my-secret-Password-1")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if hash == "" || hash == "my-secret-Password-1" {
		t.Fatal("expected a non-empty hash distinct from the password")
	}

	if !hasher.Verify("my-secret-Password-1", hash) {
		t.Error("correct password must verify")
	}
	if hasher.Verify("wrong-Password-1", hash) {
		t.Error("wrong password must not verify")
	}
}

func TestHasher_HashesAreSalted(t *testing.T) {
	hasher := testHasher(t)

	a, err := hasher.Hash("same-Password-1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := hasher.Hash("same-Password-1")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two hashes of the same password must differ (random salt)")
	}
}

func TestHasher_DummyNeverVerifies(t *testing.T) {
	hasher := testHasher(t)

	dummy := hasher.Dummy()
	if dummy == "" {
		t.Fatal("expected a dummy hash")
	}

	// The dummy is a real bcrypt hash so comparison timing matches, but
	// no caller-supplied password may match it.
	for _, password := range []string{"", "password", "Secure-pass-1", dummyPassword + "x"} {
		if hasher.Verify(password, dummy) {
			t.Errorf("password %q must not verify against the dummy hash", password)
		}
	}
}

func TestHasher_DummyIsStable(t *testing.T) {
	hasher := testHasher(t)
	if hasher.Dummy() != hasher.Dummy() {
		t.Error("dummy hash must not change between calls")
	}
}

func TestNewHasher_RejectsBadCost(t *testing.T) {
	if _, err := NewHasher(bcrypt.MaxCost + 1); err == nil {
		t.Error("expected error for out-of-range cost")
	}
}

func TestCheckPasswordPolicy(t *testing.T) {
	policy := config.PasswordPolicy{
		MinLength:    8,
		MaxLength:    72,
		RequireDigit: true,
		RequireUpper: true,
	}

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Secure-pass-1", false},
		{"minimum length exactly", "Abcdef12", false},
		{"too short", "Abc1", true},
		{"too long", strings.Repeat("Aa1", 30), true},
		{"no digit", "Secure-password", true},
		{"no uppercase", "secure-pass-1", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPasswordPolicy(tt.password, policy)
			if tt.wantErr && err == nil {
				t.Errorf("expected %q to be rejected", tt.password)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected %q to pass, got %v", tt.password, err)
			}
		})
	}
}

func TestCheckPasswordPolicy_OptionalRules(t *testing.T) {
	lax := config.PasswordPolicy{MinLength: 8, MaxLength: 72}
	if err := CheckPasswordPolicy("all-lowercase-nodigits", lax); err != nil {
		t.Errorf("lax policy should accept it, got %v", err)
	}
}
