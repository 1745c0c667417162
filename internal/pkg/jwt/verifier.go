// internal/pkg/jwt/verifier.go
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type Verifier struct {
	secret []byte
	method jwt.SigningMethod
	now    func() time.Time
	logger *zap.Logger
}

func NewVerifier(secret []byte, method jwt.SigningMethod, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		secret: secret,
		method: method,
		now:    time.Now,
		logger: logger,
	}
}

// Verify validates a JWT token and returns the claims.
// Signature is checked before expiry, so ErrExpiredCredential always means the
// token was genuinely issued with this secret.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, ErrEmptySecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredCredential, err)
		}
		v.logger.Debug("token rejected", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrInvalidCredential)
	}
	if !claims.TokenType.Valid() {
		return nil, fmt.Errorf("%w: unknown token_type %q", ErrInvalidCredential, claims.TokenType)
	}

	return claims, nil
}

// VerifyAccessToken verifies that the token is for access purposes
func (v *Verifier) VerifyAccessToken(tokenString string) (*Claims, error) {
	claims, err := v.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != TokenTypeAccess {
		return nil, fmt.Errorf("%w: token is not an access token", ErrInvalidCredential)
	}

	return claims, nil
}

// VerifyRefreshToken verifies that the token is for refresh purposes
func (v *Verifier) VerifyRefreshToken(tokenString string) (*Claims, error) {
	claims, err := v.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: token is not a refresh token", ErrInvalidCredential)
	}

	return claims, nil
}

// PeekSubject decodes the token without checking its signature or expiry.
// ok is false for anything that does not decode to a token carrying a user_id.
func (v *Verifier) PeekSubject(tokenString string) (UnverifiedSubject, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return UnverifiedSubject{}, false
	}
	if claims.UserID == "" {
		return UnverifiedSubject{}, false
	}
	return UnverifiedSubject{UserID: claims.UserID, SessionID: claims.SessionID}, true
}
