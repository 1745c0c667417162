// internal/pkg/jwt/manager.go
package jwt

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type Config struct {
	Secret     string
	Algorithm  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

type Manager struct {
	Generator *Generator
	Verifier  *Verifier
}

// Build validates cfg and wires a Generator and Verifier sharing the same secret.
func Build(cfg Config, logger *zap.Logger) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, ErrEmptySecret
	}

	method, err := SigningMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	secret := []byte(cfg.Secret)
	return &Manager{
		Generator: NewGenerator(secret, method, cfg.AccessTTL, cfg.RefreshTTL, logger),
		Verifier:  NewVerifier(secret, method, logger),
	}, nil
}

// SigningMethod resolves an HMAC algorithm name. Empty means HS256.
func SigningMethod(alg string) (jwt.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

func (m *Manager) Issue(claims Claims, kind TokenType, ttl ...time.Duration) (string, string, error) {
	return m.Generator.Issue(claims, kind, ttl...)
}

func (m *Manager) Verify(token string) (*Claims, error) {
	return m.Verifier.Verify(token)
}

func (m *Manager) VerifyAccessToken(token string) (*Claims, error) {
	return m.Verifier.VerifyAccessToken(token)
}

func (m *Manager) PeekSubject(token string) (UnverifiedSubject, bool) {
	return m.Verifier.PeekSubject(token)
}
