// Package auth checks the single shared operator credential.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoCredential is returned when neither a password nor a hash is configured.
var ErrNoCredential = errors.New("auth: no credential configured")

// Verifier decides whether a submitted secret is the operator credential.
type Verifier interface {
	Verify(secret string) bool
	Name() string
}

// StaticVerifier compares against a plaintext secret in constant time.
type StaticVerifier struct {
	digest [sha256.Size]byte
}

// NewStaticVerifier creates a verifier for secret.
func NewStaticVerifier(secret string) *StaticVerifier {
	return &StaticVerifier{digest: sha256.Sum256([]byte(secret))}
}

// Verify hashes both sides first so the comparison time does not depend on
// the secret's length.
func (v *StaticVerifier) Verify(secret string) bool {
	got := sha256.Sum256([]byte(secret))
	return subtle.ConstantTimeCompare(got[:], v.digest[:]) == 1
}

func (v *StaticVerifier) Name() string { return "static" }

// BcryptVerifier compares against a bcrypt hash.
type BcryptVerifier struct {
	hash []byte
}

// NewBcryptVerifier validates hash and wraps it.
func NewBcryptVerifier(hash string) (*BcryptVerifier, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid password hash: %w", err)
	}
	return &BcryptVerifier{hash: []byte(hash)}, nil
}

func (v *BcryptVerifier) Verify(secret string) bool {
	return bcrypt.CompareHashAndPassword(v.hash, []byte(secret)) == nil
}

func (v *BcryptVerifier) Name() string { return "bcrypt" }

// HashPassword returns a bcrypt hash of secret suitable for auth.password_hash.
func HashPassword(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
