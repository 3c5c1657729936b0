package service

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"

	DefaultTokenTTL = 24 * time.Hour
)

var ErrAuthDisabled = errors.New("JWT_SECRET is not set")

// Claims are carried by the bearer tokens of the control and admin APIs.
// Operators may only reach the sessions they list; admins reach everything.
type Claims struct {
	Role     string   `json:"role"`
	Sessions []string `json:"sessions,omitempty"`
	jwt.RegisteredClaims
}

// CanAccess reports whether the token may drive the given session.
func (c *Claims) CanAccess(sessionID string) bool {
	if c.Role == RoleAdmin {
		return true
	}
	return slices.Contains(c.Sessions, sessionID)
}

// TokenIssuer signs and validates HS256 tokens with one shared secret.
type TokenIssuer struct {
	secret []byte
}

func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// Enabled is false when no secret is configured; the APIs are then open.
func (t *TokenIssuer) Enabled() bool {
	return t != nil && len(t.secret) > 0
}

// Issue generates a signed token for subject.
func (t *TokenIssuer) Issue(subject, role string, sessions []string, ttl time.Duration) (string, error) {
	if !t.Enabled() {
		return "", ErrAuthDisabled
	}
	if role != RoleAdmin && role != RoleOperator {
		return "", errors.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := &Claims{
		Role:     role,
		Sessions: sessions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Validate parses a token and returns its claims.
func (t *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	if !t.Enabled() {
		return nil, ErrAuthDisabled
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
