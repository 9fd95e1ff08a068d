package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// Tests use the minimum cost so the suite stays fast; production cost is
// configured at startup.
func testHasher() *PasswordHasher {
	return NewPasswordHasher(MinBcryptCost)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	h := testHasher()

	hash, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if !h.Verify("correct horse battery staple", hash) {
		t.Error("correct password rejected")
	}
	if h.Verify("wrong password", hash) {
		t.Error("wrong password accepted")
	}
	if h.Verify("", hash) {
		t.Error("empty password accepted")
	}
}

func TestPasswordHashIsSalted(t *testing.T) {
	h := testHasher()

	first, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	second, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if first == second {
		t.Error("two hashes of the same password are identical")
	}
	if strings.Contains(first, "same password") {
		t.Error("hash contains the plaintext password")
	}
}

func TestPasswordHasherCostFloor(t *testing.T) {
	if got := NewPasswordHasher(4).Cost(); got != DefaultBcryptCost {
		t.Errorf("cost below floor clamped to %d, want %d", got, DefaultBcryptCost)
	}
	if got := NewPasswordHasher(MinBcryptCost).Cost(); got != MinBcryptCost {
		t.Errorf("cost = %d, want %d", got, MinBcryptCost)
	}

	h := NewPasswordHasher(0)
	hash, err := h.Hash("some password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("bcrypt.Cost: %v", err)
	}
	if cost != DefaultBcryptCost {
		t.Errorf("stored hash cost = %d, want %d", cost, DefaultBcryptCost)
	}
}
