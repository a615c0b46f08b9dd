package auth

import (
	"github.com/abracadabra-mc/abracadabra/hub/config"
)

// NewVerifier creates a Verifier based on configuration. A configured hash
// takes precedence over a plaintext password.
func NewVerifier(cfg config.AuthConfig) (Verifier, error) {
	switch {
	case cfg.PasswordHash != "":
		return NewBcryptVerifier(cfg.PasswordHash)
	case cfg.Password != "":
		return NewStaticVerifier(cfg.Password), nil
	default:
		return nil, ErrNoCredential
	}
}
