package crypto

import "testing"

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if err := CheckPassword(hash, "secret"); err != nil {
		t.Fatalf("expected password to match")
	}
	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected password mismatch")
	}
}

func TestRefreshTokenHashing(t *testing.T) {
	token, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}

	other, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if token == other {
		t.Fatalf("expected distinct tokens")
	}

	if HashToken(token) != HashToken(token) {
		t.Fatalf("expected stable hash")
	}
	if HashToken(token) == HashToken(other) {
		t.Fatalf("expected distinct hashes")
	}
	if HashToken(token) == token {
		t.Fatalf("expected hash to differ from raw token")
	}
}
