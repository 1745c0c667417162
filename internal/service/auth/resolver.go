// internal/service/auth/resolver.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"defiers-auth/internal/metrics"
	xerrors "defiers-auth/internal/pkg/errors"
	"defiers-auth/internal/pkg/jwt"
	"defiers-auth/internal/pkg/session"

	"go.uber.org/zap"
)

// Identity is the verified caller behind a bearer credential.
type Identity struct {
	UserID    string
	SessionID string
	Scopes    []string
	TokenType jwt.TokenType
	TokenID   string
	ExpiresAt time.Time
}

func (i *Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// SessionContext pairs a verified identity with the user's live sessions.
type SessionContext struct {
	Identity *Identity
	Sessions []*session.Session
}

// TokenVerifier is the part of the token manager the resolver depends on.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
	PeekSubject(token string) (jwt.UnverifiedSubject, bool)
}

// Resolver turns a presented credential into an Identity. In the default mode
// a valid access token is sufficient. With strict sessions enabled the session
// named in the token must also be active, and is touched on every request.
type Resolver struct {
	tokens   TokenVerifier
	sessions *session.Store
	strict   bool
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	onExpired func(ctx context.Context, sess *session.Session)
}

func NewResolver(tokens TokenVerifier, sessions *session.Store, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		tokens:   tokens,
		sessions: sessions,
		timeout:  session.DefaultInactivityTimeout,
		metrics:  m,
		logger:   logger,
	}
}

// EnableStrictSessions makes Resolve consult the session store. A non-positive
// timeout falls back to session.DefaultInactivityTimeout.
func (r *Resolver) EnableStrictSessions(timeout time.Duration) {
	r.strict = true
	if timeout > 0 {
		r.timeout = timeout
	}
}

// OnExpired registers a callback for sessions strict mode revokes for inactivity.
func (r *Resolver) OnExpired(fn func(ctx context.Context, sess *session.Session)) {
	r.onExpired = fn
}

func (r *Resolver) Strict() bool {
	return r.strict
}

// ResolveHeader parses an Authorization header value of the form "Bearer <token>".
func (r *Resolver) ResolveHeader(ctx context.Context, header string) (*Identity, error) {
	token, err := ExtractBearer(header)
	if err != nil {
		r.metrics.Verification("missing")
		return nil, err
	}
	return r.Resolve(ctx, token)
}

// Resolve verifies token and, in strict mode, the session it names.
func (r *Resolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		r.metrics.Verification("missing")
		return nil, xerrors.ErrMissingCredential
	}

	claims, err := r.tokens.VerifyAccessToken(token)
	if err != nil {
		r.reject(token, err)
		return nil, err
	}
	if claims.UserID == "" {
		r.reject(token, xerrors.ErrInvalidCredential)
		return nil, fmt.Errorf("%w: missing user_id", xerrors.ErrInvalidCredential)
	}

	identity := &Identity{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		Scopes:    claims.Scopes,
		TokenType: claims.TokenType,
		TokenID:   claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}

	if r.strict {
		if err := r.checkSession(ctx, identity); err != nil {
			return nil, err
		}
	}

	r.metrics.Verification("ok")
	return identity, nil
}

func (r *Resolver) checkSession(ctx context.Context, identity *Identity) error {
	if identity.SessionID == "" {
		r.metrics.Verification("inactive")
		return fmt.Errorf("%w: token carries no session", xerrors.ErrSessionInactive)
	}

	active, expired, err := r.sessions.CheckActive(ctx, identity.SessionID, r.timeout)
	if err != nil {
		return err
	}
	if expired != nil && r.onExpired != nil {
		r.onExpired(ctx, expired)
	}
	if !active {
		r.metrics.Verification("inactive")
		r.logger.Info("rejected token for inactive session",
			zap.String("user_id", identity.UserID),
			zap.String("session_id", identity.SessionID),
		)
		return xerrors.ErrSessionInactive
	}

	return r.sessions.Touch(ctx, identity.SessionID)
}

func (r *Resolver) reject(token string, err error) {
	result := "invalid"
	if errors.Is(err, xerrors.ErrExpiredCredential) {
		result = "expired"
	}
	r.metrics.Verification(result)

	// unverified, diagnostics only
	if subject, ok := r.tokens.PeekSubject(token); ok {
		r.logger.Warn("token verification failed",
			zap.String("claimed_subject", subject.String()),
			zap.Error(err),
		)
		return
	}
	r.logger.Warn("token verification failed", zap.Error(err))
}

// ActiveSessions lists the user's live sessions for display. It plays no part
// in authorization.
func (r *Resolver) ActiveSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	return r.sessions.ListForUser(ctx, userID)
}

// SessionContext resolves token and loads the user's sessions. A user with no
// live sessions gets ErrNoActiveSessions.
func (r *Resolver) SessionContext(ctx context.Context, token string) (*SessionContext, error) {
	identity, err := r.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	return r.ContextFor(ctx, identity)
}

// ContextFor loads the sessions of an already resolved identity.
func (r *Resolver) ContextFor(ctx context.Context, identity *Identity) (*SessionContext, error) {
	sessions, err := r.ActiveSessions(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, xerrors.ErrNoActiveSessions
	}

	return &SessionContext{Identity: identity, Sessions: sessions}, nil
}

// ExtractBearer returns the token from an Authorization header value.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", xerrors.ErrMissingCredential
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: invalid authorization header format", xerrors.ErrMissingCredential)
	}

	return parts[1], nil
}
