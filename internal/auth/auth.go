// Package auth manages token issuance and validation for sessions. Tokens
// are stateless: validity is determined entirely by signature and expiry
// against a process-wide secret, never by a server-side table, so a server
// restart invalidates all outstanding tokens.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the validity window for issued tokens.
const DefaultTTL = 24 * time.Hour

const secretLen = 32

// ErrInvalidToken covers every validation failure: bad signature, wrong
// algorithm, malformed token, or passed expiry. Clients are not told which.
var ErrInvalidToken = errors.New("invalid token")

// Claims binds a session to a workspace for the token's lifetime.
type Claims struct {
	SessionID string `json:"sid"`
	Workspace string `json:"ws"`
	jwt.RegisteredClaims
}

// Manager issues and validates HS256-signed tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager creates a token manager. An empty secret generates a random one
// for the life of the process; a zero ttl uses DefaultTTL.
func NewManager(secret []byte, ttl time.Duration) (*Manager, error) {
	if len(secret) == 0 {
		secret = make([]byte, secretLen)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: secret, ttl: ttl}, nil
}

// Issue creates a token binding sessionID to workspace, valid for the
// configured window.
func (m *Manager) Issue(sessionID, workspace string) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionID: sessionID,
		Workspace: workspace,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate checks signature and expiry and returns the bound claims. Any
// failure returns ErrInvalidToken.
func (m *Manager) Validate(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
