package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/abracadabra-mc/abracadabra/hub/config"
)

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier("open sesame")
	if !v.Verify("open sesame") {
		t.Error("expected correct secret to verify")
	}
	for _, wrong := range []string{"", "open", "open sesame ", "OPEN SESAME"} {
		if v.Verify(wrong) {
			t.Errorf("expected %q to be rejected", wrong)
		}
	}
}

func TestHashPasswordAndBcryptVerifier(t *testing.T) {
	hash, err := HashPassword("open sesame")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("expected bcrypt hash, got %q", hash)
	}
	if cost, _ := bcrypt.Cost([]byte(hash)); cost != bcrypt.DefaultCost {
		t.Errorf("expected default cost, got %d", cost)
	}

	v, err := NewBcryptVerifier(hash)
	if err != nil {
		t.Fatalf("NewBcryptVerifier: %v", err)
	}
	if !v.Verify("open sesame") {
		t.Error("expected correct secret to verify")
	}
	if v.Verify("abracadabra") {
		t.Error("expected wrong secret to be rejected")
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestNewBcryptVerifierRejectsGarbage(t *testing.T) {
	if _, err := NewBcryptVerifier("not-a-hash"); err == nil {
		t.Error("expected error for invalid hash")
	}
}

func TestNewVerifier(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("from hash"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	v, err := NewVerifier(config.AuthConfig{Password: "plain", PasswordHash: string(hash)})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if v.Name() != "bcrypt" {
		t.Errorf("expected bcrypt to win, got %s", v.Name())
	}
	if v.Verify("plain") || !v.Verify("from hash") {
		t.Error("hash should be the only accepted credential")
	}

	v, err = NewVerifier(config.AuthConfig{Password: "plain"})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if v.Name() != "static" || !v.Verify("plain") {
		t.Errorf("expected static verifier accepting plain, got %s", v.Name())
	}

	if _, err := NewVerifier(config.AuthConfig{}); !errors.Is(err, ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
}
