// Package auth guards the administrative endpoints of the relay.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

var (
	// ErrDisabled means no admin token is configured.
	ErrDisabled = errors.New("admin operations are disabled")
	// ErrMissingToken means the request carried no token.
	ErrMissingToken = errors.New("missing admin token")
	// ErrInvalidToken means the token did not match.
	ErrInvalidToken = errors.New("invalid admin token")
)

// AdminGuard checks presented tokens against the configured admin token. Only
// the SHA-256 digest of the token is kept in memory.
type AdminGuard struct {
	digest  [sha256.Size]byte
	enabled bool
}

// NewAdminGuard returns a guard for token. An empty token disables admin
// operations entirely.
func NewAdminGuard(token string) *AdminGuard {
	if token == "" {
		return &AdminGuard{}
	}
	return &AdminGuard{digest: sha256.Sum256([]byte(token)), enabled: true}
}

// Enabled reports whether an admin token is configured.
func (g *AdminGuard) Enabled() bool {
	return g != nil && g.enabled
}

// Check validates presented in constant time.
func (g *AdminGuard) Check(presented string) error {
	if !g.Enabled() {
		return ErrDisabled
	}
	if presented == "" {
		return ErrMissingToken
	}
	got := sha256.Sum256([]byte(presented))
	if subtle.ConstantTimeCompare(got[:], g.digest[:]) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// HashToken returns the hex SHA-256 of a token, for audit records.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
