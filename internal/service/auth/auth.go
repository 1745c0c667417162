// internal/service/auth/auth.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"defiers-auth/internal/domain/auth"
	"defiers-auth/internal/metrics"
	xerrors "defiers-auth/internal/pkg/errors"
	"defiers-auth/internal/pkg/jwt"
	"defiers-auth/internal/pkg/session"

	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

// SessionNotifier pushes session events to connected clients.
type SessionNotifier interface {
	SessionRevoked(userID, sessionID, reason string)
	ForceLogoutUser(userID, exceptSessionID, reason string)
}

// AuditLog persists the session audit trail.
type AuditLog interface {
	Record(ctx context.Context, event *auth.SessionEvent) error
	ListByUser(ctx context.Context, userID string, limit int) ([]auth.SessionEvent, error)
}

type AuthService struct {
	tokens     *jwt.Manager
	sessions   *session.Store
	notifier   SessionNotifier
	audit      AuditLog
	metrics    *metrics.Metrics
	sessionTTL time.Duration
	logger     *zap.Logger
}

// NewAuthService wires the session service. notifier and audit may be nil.
func NewAuthService(
	tokens *jwt.Manager,
	sessions *session.Store,
	notifier SessionNotifier,
	audit AuditLog,
	m *metrics.Metrics,
	sessionTTL time.Duration,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessionTTL <= 0 {
		sessionTTL = session.DefaultTTL
	}
	return &AuthService{
		tokens:     tokens,
		sessions:   sessions,
		notifier:   notifier,
		audit:      audit,
		metrics:    m,
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

// ========== Session start ==========

// StartSession creates a session for an already authenticated user and issues
// its access and refresh tokens. It is the hook the login flow calls.
func (s *AuthService) StartSession(ctx context.Context, userID string, deviceInfo map[string]interface{}, ipAddress string, scopes []string) (*auth.TokenPair, error) {
	sess, err := s.sessions.Create(ctx, session.NewID(), userID, deviceInfo, ipAddress, s.sessionTTL)
	if err != nil {
		return nil, err
	}
	s.metrics.Created()
	s.record(ctx, sess.SessionID, userID, auth.EventCreated, "", sess.IPAddress)

	accessToken, _, err := s.tokens.Generator.IssueAccess(userID, sess.SessionID, scopes)
	if err != nil {
		s.rollback(ctx, sess.SessionID)
		return nil, xerrors.Wrap(err, "failed to generate access token")
	}
	s.metrics.Issued(string(jwt.TokenTypeAccess))

	refreshToken, _, err := s.tokens.Generator.IssueRefresh(userID, sess.SessionID)
	if err != nil {
		s.rollback(ctx, sess.SessionID)
		return nil, xerrors.Wrap(err, "failed to generate refresh token")
	}
	s.metrics.Issued(string(jwt.TokenTypeRefresh))

	ttl := s.tokens.Generator.AccessTTL
	return &auth.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int(ttl.Seconds()),
		ExpiresAt:    time.Now().Add(ttl),
		SessionID:    sess.SessionID,
	}, nil
}

func (s *AuthService) rollback(ctx context.Context, sessionID string) {
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		s.logger.Error("failed to roll back session", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// ========== Listing ==========

// ListSessions returns the user's live sessions, flagging the one named by currentSessionID.
func (s *AuthService) ListSessions(ctx context.Context, userID, currentSessionID string) (*auth.SessionListResponse, error) {
	sessions, err := s.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := SessionResponses(sessions, currentSessionID)
	return &auth.SessionListResponse{Sessions: out, Count: len(out)}, nil
}

// SessionResponses converts stored sessions into their API form.
func SessionResponses(sessions []*session.Session, currentSessionID string) []auth.SessionResponse {
	out := make([]auth.SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionResponse(sess, currentSessionID))
	}
	return out
}

func toSessionResponse(sess *session.Session, currentSessionID string) auth.SessionResponse {
	deviceInfo := sess.DeviceInfo
	if deviceInfo == nil {
		deviceInfo = map[string]interface{}{}
	}
	return auth.SessionResponse{
		SessionID:    sess.SessionID,
		UserID:       sess.UserID,
		DeviceInfo:   deviceInfo,
		IPAddress:    sess.IPAddress,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		Current:      currentSessionID != "" && sess.SessionID == currentSessionID,
	}
}

// ========== Revocation ==========

// RevokeSession revokes one of the user's sessions. A session that does not
// exist yields ErrSessionNotFound and one owned by someone else ErrOwnershipMismatch.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	s.revoked(ctx, sess, metrics.ReasonRevoked)

	s.logger.Info("session revoked",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
	)
	return nil
}

// Logout revokes the session the caller's token belongs to. A session that is
// already gone is not an error.
func (s *AuthService) Logout(ctx context.Context, identity *Identity) error {
	if identity.SessionID == "" {
		return fmt.Errorf("%w: token carries no session", xerrors.ErrInvalidInput)
	}

	sess, err := s.ownedSession(ctx, identity.UserID, identity.SessionID)
	if err != nil {
		if errors.Is(err, xerrors.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := s.sessions.Revoke(ctx, sess.SessionID); err != nil {
		return err
	}
	s.revoked(ctx, sess, metrics.ReasonLogout)

	s.logger.Info("user logged out",
		zap.String("session_id", sess.SessionID),
		zap.String("user_id", identity.UserID),
	)
	return nil
}

// LogoutAll revokes every session of the caller, optionally keeping the
// session the request was made from.
func (s *AuthService) LogoutAll(ctx context.Context, identity *Identity, keepCurrent bool) (*auth.LogoutAllResponse, error) {
	except := ""
	if keepCurrent {
		except = identity.SessionID
	}

	sessions, err := s.sessions.ListForUser(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}

	count, err := s.sessions.RevokeAllForUser(ctx, identity.UserID, except)
	if err != nil {
		return nil, err
	}
	s.metrics.Revoked(metrics.ReasonLogoutAll, count)

	for _, sess := range sessions {
		if sess.SessionID == except {
			continue
		}
		s.record(ctx, sess.SessionID, sess.UserID, auth.EventRevoked, metrics.ReasonLogoutAll, sess.IPAddress)
	}
	if s.notifier != nil {
		s.notifier.ForceLogoutUser(identity.UserID, except, "All sessions logged out")
	}

	s.logger.Info("user logged out from all devices",
		zap.String("user_id", identity.UserID),
		zap.Int("revoked", count),
		zap.Bool("kept_current", except != ""),
	)
	return &auth.LogoutAllResponse{Revoked: count, KeptCurrent: except != ""}, nil
}

// SessionExpired is the sweeper callback for sessions removed by inactivity.
func (s *AuthService) SessionExpired(ctx context.Context, sess *session.Session) {
	s.metrics.Swept(1)
	s.revoked(ctx, sess, metrics.ReasonInactivity)
}

func (s *AuthService) ownedSession(ctx context.Context, userID, sessionID string) (*session.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		s.logger.Warn("attempt to revoke another user's session",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
		)
		return nil, xerrors.ErrOwnershipMismatch
	}
	return sess, nil
}

func (s *AuthService) revoked(ctx context.Context, sess *session.Session, reason string) {
	s.metrics.Revoked(reason, 1)
	s.record(ctx, sess.SessionID, sess.UserID, auth.EventRevoked, reason, sess.IPAddress)
	if s.notifier != nil {
		s.notifier.SessionRevoked(sess.UserID, sess.SessionID, reason)
	}
}

// ========== Audit ==========

// History returns the user's most recent session events. It needs the audit
// log and fails with ErrUnavailable without one.
func (s *AuthService) History(ctx context.Context, userID string, limit int) (*auth.SessionHistoryResponse, error) {
	if s.audit == nil {
		return nil, fmt.Errorf("%w: session history is not configured", xerrors.ErrUnavailable)
	}
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}

	events, err := s.audit.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to load session history")
	}
	if events == nil {
		events = []auth.SessionEvent{}
	}

	return &auth.SessionHistoryResponse{Events: events, Count: len(events)}, nil
}

func (s *AuthService) record(ctx context.Context, sessionID, userID, event, reason, ipAddress string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, &auth.SessionEvent{
		SessionID: sessionID,
		UserID:    userID,
		Event:     event,
		Reason:    reason,
		IPAddress: ipAddress,
	})
	if err != nil {
		// log only
		s.logger.Error("failed to record session event",
			zap.String("session_id", sessionID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}
