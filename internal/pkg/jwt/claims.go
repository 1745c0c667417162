// internal/pkg/jwt/claims.go
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes short-lived access credentials from refresh credentials.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

func (t TokenType) Valid() bool {
	return t == TokenTypeAccess || t == TokenTypeRefresh
}

// Claims represents the JWT claims. Registered iat/exp/jti are filled in by
// the Generator; callers only supply identity, session linkage and scopes.
type Claims struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	TokenType TokenType `json:"token_type"`
	Scopes    []string  `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope checks if the claims carry a specific scope
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// UnverifiedSubject is what PeekSubject can tell about a token without
// checking its signature. It is only for logs and diagnostics and is never
// accepted where a verified *Claims is required.
type UnverifiedSubject struct {
	UserID    string
	SessionID string
}

func (u UnverifiedSubject) String() string {
	return "unverified:" + u.UserID
}
