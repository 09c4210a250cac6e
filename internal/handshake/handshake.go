// Package handshake implements the module's only authentication: a
// shared-secret handshake token an observer connection must present
// before it is attached to a notebook. It is deliberately narrow —  one
// static claim, no refresh tokens, no user identity — the JWT manager it
// is grounded on builds a full access/refresh token pair for a user
// account, which this module has no concept of.
package handshake

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "twinsong"

// claims is the single claim this module cares about: that the bearer
// held the configured shared secret at mint time.
type claims struct {
	jwt.RegisteredClaims
}

// Manager mints and validates handshake tokens signed with a shared
// secret configured out-of-band (operator-distributed, not per-user).
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager constructs a Manager. ttl bounds how long a minted token
// remains valid.
func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Mint produces a signed token an observer presents as the "token"
// query parameter of its websocket upgrade request.
func (m *Manager) Mint() (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(m.secret)
}

// Validate reports whether tokenString is a currently-valid handshake
// token signed with this Manager's secret.
func (m *Manager) Validate(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid handshake token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid handshake token")
	}
	return nil
}
