// internal/pkg/session/store.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	xerrors "defiers-auth/internal/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix       = "session"
	userIndexPrefix = "session_user"
)

// Record and index member go together; a missing record leaves nothing to
// clean up except the member.
const deleteSessionScript = `
local deleted = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return deleted
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store keeps session records under session:{id} and, per user, a set of the
// user's session ids under session_user:{user_id}.
type Store struct {
	client redis.UniversalClient
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Store)

// WithClock overrides the wall clock used for created_at, last_activity and
// inactivity checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(client redis.UniversalClient, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		client: client,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return keyPrefix + ":" + sessionID
}

func (s *Store) userKey(userID string) string {
	return userIndexPrefix + ":" + userID
}

// Create stores a new session with an absolute lifetime of ttl (DefaultTTL
// when ttl <= 0) and adds it to the user's index in the same transaction.
func (s *Store) Create(ctx context.Context, sessionID, userID string, deviceInfo map[string]interface{}, ipAddress string, ttl time.Duration) (*Session, error) {
	if sessionID == "" || userID == "" {
		return nil, fmt.Errorf("%w: session_id and user_id are required", xerrors.ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if deviceInfo == nil {
		deviceInfo = map[string]interface{}{}
	}
	if ipAddress == "" {
		ipAddress = UnknownIPAddress
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	sess := &Session{
		SessionID:    sessionID,
		UserID:       userID,
		DeviceInfo:   deviceInfo,
		IPAddress:    ipAddress,
		CreatedAt:    now,
		LastActivity: now,
	}

	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sessionID), data, ttl)
		pipe.SAdd(ctx, s.userKey(userID), sessionID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	s.logger.Info("session created",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.Duration("ttl", ttl),
	)
	return sess, nil
}

// Get returns the stored session or ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return Decode(data)
}

// Touch moves last_activity to now and keeps whatever expiry the key has
// left. A session that no longer exists is ignored.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	key := s.key(sessionID)

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	if now.Before(sess.CreatedAt) {
		now = sess.CreatedAt
	}
	sess.LastActivity = now

	data, err := Encode(sess)
	if err != nil {
		return err
	}

	remaining, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	args := redis.SetArgs{Mode: "XX"}
	switch {
	case remaining == -2*time.Nanosecond || remaining == 0:
		// expired between GET and PTTL
		return nil
	case remaining < 0:
		args.KeepTTL = true
	default:
		args.TTL = remaining
	}

	if err := s.client.SetArgs(ctx, key, data, args).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// IsActive reports whether the session exists and has seen activity within
// timeout. A session found idle for longer is revoked on the spot.
func (s *Store) IsActive(ctx context.Context, sessionID string, timeout time.Duration) (bool, error) {
	active, _, err := s.CheckActive(ctx, sessionID, timeout)
	return active, err
}

// CheckActive is IsActive that also returns the record it revoked for
// inactivity, so the caller can report the expiry. expired is nil unless this
// call deleted the session.
func (s *Store) CheckActive(ctx context.Context, sessionID string, timeout time.Duration) (active bool, expired *Session, err error) {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}

	if idle := sess.IdleFor(s.now()); idle > timeout {
		deleted, err := s.revoke(ctx, sessionID)
		if err != nil {
			return false, nil, err
		}
		if !deleted {
			return false, nil, nil
		}
		s.logger.Info("session expired by inactivity",
			zap.String("session_id", sessionID),
			zap.String("user_id", sess.UserID),
			zap.Duration("idle", idle),
		)
		return false, sess, nil
	}

	return true, nil, nil
}

// Revoke deletes a session and its index entry. Revoking an absent session is not an error.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	_, err := s.revoke(ctx, sessionID)
	return err
}

func (s *Store) revoke(ctx context.Context, sessionID string) (bool, error) {
	key := s.key(sessionID)

	sess, err := s.Get(ctx, sessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return false, nil
	case errors.Is(err, ErrCorruptRecord):
		// owner unknown, so the index member is left for the sweeper
		n, delErr := s.client.Del(ctx, key).Result()
		if delErr != nil {
			return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, delErr)
		}
		s.logger.Warn("corrupt session deleted", zap.String("session_id", sessionID), zap.Error(err))
		return n > 0, nil
	case err != nil:
		return false, err
	}

	n, err := deleteSessionLua.Run(ctx, s.client, []string{key, s.userKey(sess.UserID)}, sessionID).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if n > 0 {
		s.logger.Info("session revoked",
			zap.String("session_id", sessionID),
			zap.String("user_id", sess.UserID),
		)
	}
	return n > 0, nil
}

// RevokeAllForUser deletes every session of userID except exceptSessionID
// (empty keeps none) and returns how many records were actually deleted.
// Sessions created while this runs may survive it.
func (s *Store) RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	targets := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exceptSessionID {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	found, err := s.getMany(ctx, targets)
	if err != nil {
		return 0, err
	}

	var owned, stale []string
	for _, f := range found {
		switch {
		case f.corrupt != nil:
			s.logger.Warn("skipping corrupt session during revocation",
				zap.String("session_id", f.id),
				zap.String("user_id", userID),
				zap.Error(f.corrupt),
			)
		case f.session == nil || f.session.UserID != userID:
			stale = append(stale, f.id)
		default:
			owned = append(owned, f.id)
		}
	}

	delCmds := make([]*redis.IntCmd, 0, len(owned))
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range owned {
			delCmds = append(delCmds, pipe.Del(ctx, s.key(id)))
		}
		if members := append(owned, stale...); len(members) > 0 {
			pipe.SRem(ctx, s.userKey(userID), toArgs(members)...)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	count := 0
	for _, cmd := range delCmds {
		count += int(cmd.Val())
	}

	if count > 0 {
		s.logger.Info("revoked user sessions",
			zap.String("user_id", userID),
			zap.String("except_session_id", exceptSessionID),
			zap.Int("count", count),
		)
	}
	return count, nil
}

// ListForUser returns the user's live sessions in no particular order.
// Corrupt records are skipped and index entries whose record is gone are pruned.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	sessions, _, err := s.listForUser(ctx, userID)
	return sessions, err
}

func (s *Store) listForUser(ctx context.Context, userID string) ([]*Session, int, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, 0, nil
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	found, err := s.getMany(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	sessions := make([]*Session, 0, len(found))
	var stale []string
	for _, f := range found {
		switch {
		case f.corrupt != nil:
			s.logger.Warn("skipping corrupt session record",
				zap.String("session_id", f.id),
				zap.String("user_id", userID),
				zap.Error(f.corrupt),
			)
		case f.session == nil || f.session.UserID != userID:
			stale = append(stale, f.id)
		default:
			sessions = append(sessions, f.session)
		}
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.userKey(userID), toArgs(stale)...).Err(); err != nil {
			s.logger.Warn("failed to prune session index",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}

	return sessions, len(stale), nil
}

type lookup struct {
	id      string
	session *Session
	corrupt error
}

// getMany fetches records with one MGET. Missing records come back with a
// nil session; undecodable ones carry the decode error.
func (s *Store) getMany(ctx context.Context, ids []string) ([]lookup, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	out := make([]lookup, len(ids))
	for i, id := range ids {
		out[i].id = id
		if i >= len(vals) || vals[i] == nil {
			continue
		}
		raw, ok := vals[i].(string)
		if !ok {
			out[i].corrupt = fmt.Errorf("%w: unexpected value type %T", ErrCorruptRecord, vals[i])
			continue
		}
		sess, err := Decode([]byte(raw))
		if err != nil {
			out[i].corrupt = err
			continue
		}
		out[i].session = sess
	}
	return out, nil
}

// Ping checks backend reachability for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
