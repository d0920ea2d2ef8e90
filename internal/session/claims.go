package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when a cookie value is not a JWT.
var ErrMalformedToken = errors.New("malformed token")

// TokenClaims are the fields the gateway reads from backend-issued tokens.
type TokenClaims struct {
	UserID    string
	TokenType string
	ExpiresAt time.Time
}

// Expired reports whether the token has passed its expiry at now.
// Tokens without an expiry never expire.
func (c TokenClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type backendClaims struct {
	UserID    any    `json:"user_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// PeekClaims decodes a token without verifying its signature. The result
// only feeds log and audit fields. It never identifies a principal for
// authorization, cache scoping or refresh sharing.
func PeekClaims(raw string) (TokenClaims, error) {
	if raw == "" {
		return TokenClaims{}, ErrMalformedToken
	}

	var bc backendClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &bc); err != nil {
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	tc := TokenClaims{TokenType: bc.TokenType}
	switch v := bc.UserID.(type) {
	case string:
		tc.UserID = v
	case float64:
		tc.UserID = fmt.Sprintf("%.0f", v)
	}
	if tc.UserID == "" {
		tc.UserID = bc.Subject
	}
	if bc.ExpiresAt != nil {
		tc.ExpiresAt = bc.ExpiresAt.Time
	}
	return tc, nil
}
