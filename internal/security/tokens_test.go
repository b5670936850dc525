package security

import (
	"testing"
	"time"
)

func TestTokenProvider_IssueAndValidateAccess(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, exp, err := p.IssueAccess("u1", "admin")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if token == "" {
		t.Fatal("access token empty")
	}
	if exp.Before(time.Now()) {
		t.Fatal("expires at in the past")
	}
	uid, role, err := p.ValidateAccess(token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if uid != "u1" || role != "admin" {
		t.Errorf("ValidateAccess: got userID=%q role=%q", uid, role)
	}
}

func TestTokenProvider_ValidateAccessInvalid(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, _, err := p.ValidateAccess("invalid-token"); err != ErrInvalidToken {
		t.Errorf("ValidateAccess invalid token: want ErrInvalidToken, got %v", err)
	}

	signer, _ := ParsePrivateKey(testPrivateKeyPEM)
	other := NewTokenProvider(signer, nil, "other-issuer", testAudience, time.Minute)
	token, _, err := other.IssueAccess("u1", "user")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, _, err := p.ValidateAccess(token); err != ErrInvalidToken {
		t.Errorf("ValidateAccess wrong issuer: want ErrInvalidToken, got %v", err)
	}

	expired := NewTokenProvider(signer, nil, testIssuer, testAudience, -time.Minute)
	token, _, err = expired.IssueAccess("u1", "user")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, _, err := p.ValidateAccess(token); err != ErrInvalidToken {
		t.Errorf("ValidateAccess expired: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_VerifyOnly(t *testing.T) {
	pub, err := ParsePublicKey(testPublicKeyPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	p := NewTokenProvider(nil, pub, testIssuer, testAudience, time.Minute)
	if _, _, err := p.IssueAccess("u1", "user"); err != ErrNoSigningKey {
		t.Errorf("IssueAccess verify-only: want ErrNoSigningKey, got %v", err)
	}
}
