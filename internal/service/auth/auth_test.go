package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"defiers-auth/internal/domain/auth"
	xerrors "defiers-auth/internal/pkg/errors"
	"defiers-auth/internal/pkg/jwt"
	"defiers-auth/internal/pkg/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeNotifier struct {
	mu        sync.Mutex
	revoked   []string
	forcedFor []string
}

func (f *fakeNotifier) SessionRevoked(userID, sessionID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, sessionID+":"+reason)
}

func (f *fakeNotifier) ForceLogoutUser(userID, exceptSessionID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forcedFor = append(f.forcedFor, userID)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []auth.SessionEvent
	fail   bool
}

func (f *fakeAudit) Record(ctx context.Context, event *auth.SessionEvent) error {
	if f.fail {
		return errors.New("audit down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeAudit) ListByUser(ctx context.Context, userID string, limit int) ([]auth.SessionEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []auth.SessionEvent
	for _, e := range f.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type serviceFixture struct {
	svc      *AuthService
	resolver *Resolver
	tokens   *jwt.Manager
	store    *session.Store
	notifier *fakeNotifier
	audit    *fakeAudit
	mr       *miniredis.Miniredis
	now      time.Time
}

func (f *serviceFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	tokens, err := jwt.Build(jwt.Config{Secret: "test-secret"}, nil)
	if err != nil {
		t.Fatalf("jwt.Build: %v", err)
	}

	f := &serviceFixture{
		tokens:   tokens,
		notifier: &fakeNotifier{},
		audit:    &fakeAudit{},
		mr:       mr,
		now:      time.Now(),
	}
	f.store = session.NewStore(rdb, nil, session.WithClock(func() time.Time { return f.now }))
	f.svc = NewAuthService(tokens, f.store, f.notifier, f.audit, nil, time.Hour, nil)
	f.resolver = NewResolver(tokens, f.store, nil, nil)
	return f
}

func TestStartSessionIssuesResolvableTokens(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	pair, err := f.svc.StartSession(ctx, "u1", map[string]interface{}{"browser": "firefox"}, "10.0.0.1", []string{"read"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if pair.TokenType != "bearer" || pair.ExpiresIn != int(jwt.DefaultAccessTTL.Seconds()) {
		t.Errorf("unexpected token pair: %+v", pair)
	}

	identity, err := f.resolver.Resolve(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if identity.UserID != "u1" || identity.SessionID != pair.SessionID || !identity.HasScope("read") {
		t.Errorf("unexpected identity: %+v", identity)
	}

	if _, err := f.store.Get(ctx, pair.SessionID); err != nil {
		t.Errorf("session not stored: %v", err)
	}
	if ttl := f.mr.TTL("session:" + pair.SessionID); ttl != time.Hour {
		t.Errorf("session ttl = %v, want 1h", ttl)
	}
	if len(f.audit.events) != 1 || f.audit.events[0].Event != auth.EventCreated {
		t.Errorf("audit events = %+v", f.audit.events)
	}
}

func TestResolveRejectsRefreshToken(t *testing.T) {
	f := newServiceFixture(t)
	pair, err := f.svc.StartSession(context.Background(), "u1", nil, "", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if _, err := f.resolver.Resolve(context.Background(), pair.RefreshToken); !errors.Is(err, xerrors.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestResolveHeader(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	token, _, err := f.tokens.Generator.IssueAccess("u1", "s1", nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"valid", "Bearer " + token, nil},
		{"lowercase scheme", "bearer " + token, nil},
		{"empty", "", xerrors.ErrMissingCredential},
		{"no scheme", token, xerrors.ErrMissingCredential},
		{"wrong scheme", "Basic " + token, xerrors.ErrMissingCredential},
		{"extra part", "Bearer " + token + " x", xerrors.ErrMissingCredential},
		{"garbage token", "Bearer abc.def.ghi", xerrors.ErrInvalidCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.resolver.ResolveHeader(ctx, tt.header)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestResolveExpiredToken(t *testing.T) {
	f := newServiceFixture(t)
	token, _, err := f.tokens.Issue(jwt.Claims{UserID: "u1", SessionID: "s1"}, jwt.TokenTypeAccess, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = f.resolver.Resolve(context.Background(), token)
	if !errors.Is(err, xerrors.ErrExpiredCredential) {
		t.Fatalf("expected ErrExpiredCredential, got %v", err)
	}
	if xerrors.HTTPStatus(err) != 401 {
		t.Errorf("status = %d, want 401", xerrors.HTTPStatus(err))
	}
}

func TestResolveIgnoresSessionStateByDefault(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	pair, err := f.svc.StartSession(ctx, "u1", nil, "", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := f.store.Revoke(ctx, pair.SessionID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := f.resolver.Resolve(ctx, pair.AccessToken); err != nil {
		t.Fatalf("token should stay valid after revoke in default mode: %v", err)
	}
}

func TestResolveStrictSessions(t *testing.T) {
	f := newServiceFixture(t)
	f.resolver.EnableStrictSessions(10 * time.Minute)
	ctx := context.Background()

	pair, err := f.svc.StartSession(ctx, "u1", nil, "", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	f.advance(8 * time.Minute)
	if _, err := f.resolver.Resolve(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	sess, err := f.store.Get(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !sess.LastActivity.Equal(f.now.UTC().Truncate(time.Microsecond)) {
		t.Errorf("strict resolve did not touch the session: %v", sess.LastActivity)
	}

	// idle past the timeout
	f.advance(11 * time.Minute)
	if _, err := f.resolver.Resolve(ctx, pair.AccessToken); !errors.Is(err, xerrors.ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}
	if _, err := f.store.Get(ctx, pair.SessionID); !errors.Is(err, xerrors.ErrSessionNotFound) {
		t.Errorf("idle session should be gone, got %v", err)
	}
}

func TestResolveStrictRequiresSessionClaim(t *testing.T) {
	f := newServiceFixture(t)
	f.resolver.EnableStrictSessions(0)
	token, _, err := f.tokens.Generator.IssueAccess("u1", "", nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	if _, err := f.resolver.Resolve(context.Background(), token); !errors.Is(err, xerrors.ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}
}

func TestSessionContext(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	orphan, _, err := f.tokens.Generator.IssueAccess("u2", "gone", nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := f.resolver.SessionContext(ctx, orphan); !errors.Is(err, xerrors.ErrNoActiveSessions) {
		t.Fatalf("expected ErrNoActiveSessions, got %v", err)
	}

	pair, err := f.svc.StartSession(ctx, "u1", nil, "", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := f.svc.StartSession(ctx, "u1", nil, "", nil); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	sc, err := f.resolver.SessionContext(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("SessionContext: %v", err)
	}
	if sc.Identity.UserID != "u1" || len(sc.Sessions) != 2 {
		t.Errorf("unexpected context: user=%s sessions=%d", sc.Identity.UserID, len(sc.Sessions))
	}
}

func TestListSessionsMarksCurrent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.svc.StartSession(ctx, "u1", map[string]interface{}{"os": "linux"}, "1.2.3.4", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := f.svc.StartSession(ctx, "u1", nil, "", nil); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := f.svc.StartSession(ctx, "u2", nil, "", nil); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	list, err := f.svc.ListSessions(ctx, "u1", first.SessionID)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if list.Count != 2 {
		t.Fatalf("count = %d, want 2", list.Count)
	}
	current := 0
	for _, s := range list.Sessions {
		if s.UserID != "u1" {
			t.Errorf("foreign session listed: %+v", s)
		}
		if s.DeviceInfo == nil {
			t.Errorf("device_info should never be nil")
		}
		if s.Current {
			current++
			if s.SessionID != first.SessionID || s.IPAddress != "1.2.3.4" {
				t.Errorf("wrong current session: %+v", s)
			}
		}
	}
	if current != 1 {
		t.Errorf("current sessions = %d, want 1", current)
	}
}

func TestRevokeSessionOwnership(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	mine, err := f.svc.StartSession(ctx, "u1", nil, "", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	theirs, err := f.svc.StartSession(ctx, "u2", nil, "", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	err = f.svc.RevokeSession(ctx, "u1", theirs.SessionID)
	if !errors.Is(err, xerrors.ErrOwnershipMismatch) || xerrors.HTTPStatus(err) != 403 {
		t.Fatalf("expected 403 ownership mismatch, got %v", err)
	}
	if _, err := f.store.Get(ctx, theirs.SessionID); err != nil {
		t.Fatalf("other user's session must survive: %v", err)
	}

	err = f.svc.RevokeSession(ctx, "u1", "does-not-exist")
	if !errors.Is(err, xerrors.ErrSessionNotFound) || xerrors.HTTPStatus(err) != 404 {
		t.Fatalf("expected 404 not found, got %v", err)
	}

	if err := f.svc.RevokeSession(ctx, "u1", mine.SessionID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, err := f.store.Get(ctx, mine.SessionID); !errors.Is(err, xerrors.ErrSessionNotFound) {
		t.Errorf("session should be gone, got %v", err)
	}
	if len(f.notifier.revoked) != 1 || f.notifier.revoked[0] != mine.SessionID+":revoked" {
		t.Errorf("notifier = %v", f.notifier.revoked)
	}
}

func TestLogoutRevokesCurrentSessionOnly(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	a, err := f.svc.StartSession(ctx, "u1", nil, "", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	b, err := f.svc.StartSession(ctx, "u1", nil, "", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	identity, err := f.resolver.Resolve(ctx, a.AccessToken)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := f.svc.Logout(ctx, identity); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	// second logout is a no-op
	if err := f.svc.Logout(ctx, identity); err != nil {
		t.Fatalf("repeat Logout: %v", err)
	}

	if _, err := f.store.Get(ctx, a.SessionID); !errors.Is(err, xerrors.ErrSessionNotFound) {
		t.Errorf("current session should be gone, got %v", err)
	}
	if _, err := f.store.Get(ctx, b.SessionID); err != nil {
		t.Errorf("other session should survive: %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var pairs []*auth.TokenPair
	for i := 0; i < 3; i++ {
		p, err := f.svc.StartSession(ctx, "u1", nil, "", nil)
		if err != nil {
			t.Fatalf("StartSession: %v", err)
		}
		pairs = append(pairs, p)
	}
	other, err := f.svc.StartSession(ctx, "u2", nil, "", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	identity, err := f.resolver.Resolve(ctx, pairs[0].AccessToken)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	res, err := f.svc.LogoutAll(ctx, identity, true)
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if res.Revoked != 2 || !res.KeptCurrent {
		t.Errorf("unexpected result: %+v", res)
	}
	if _, err := f.store.Get(ctx, pairs[0].SessionID); err != nil {
		t.Errorf("current session should be kept: %v", err)
	}

	res, err = f.svc.LogoutAll(ctx, identity, false)
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if res.Revoked != 1 || res.KeptCurrent {
		t.Errorf("unexpected result: %+v", res)
	}
	if _, err := f.store.Get(ctx, other.SessionID); err != nil {
		t.Errorf("u2 session must survive: %v", err)
	}
	if len(f.notifier.forcedFor) != 2 {
		t.Errorf("force logout notifications = %d, want 2", len(f.notifier.forcedFor))
	}
}

func TestHistory(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	pair, err := f.svc.StartSession(ctx, "u1", nil, "", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := f.svc.RevokeSession(ctx, "u1", pair.SessionID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}

	hist, err := f.svc.History(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if hist.Count != 2 || hist.Events[1].Event != auth.EventRevoked || hist.Events[1].Reason != "revoked" {
		t.Errorf("unexpected history: %+v", hist)
	}

	noAudit := NewAuthService(f.tokens, f.store, nil, nil, nil, 0, nil)
	if _, err := noAudit.History(ctx, "u1", 10); !errors.Is(err, xerrors.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestAuditFailureDoesNotFailOperation(t *testing.T) {
	f := newServiceFixture(t)
	f.audit.fail = true

	if _, err := f.svc.StartSession(context.Background(), "u1", nil, "", nil); err != nil {
		t.Fatalf("StartSession should ignore audit failures: %v", err)
	}
}

func TestSessionExpiredNotifies(t *testing.T) {
	f := newServiceFixture(t)
	sess := &session.Session{SessionID: "s9", UserID: "u1"}

	f.svc.SessionExpired(context.Background(), sess)

	if len(f.notifier.revoked) != 1 || f.notifier.revoked[0] != "s9:inactivity" {
		t.Errorf("notifier = %v", f.notifier.revoked)
	}
}

func TestStrictExpiryReportsRevocation(t *testing.T) {
	f := newServiceFixture(t)
	f.resolver.EnableStrictSessions(10 * time.Minute)
	f.resolver.OnExpired(f.svc.SessionExpired)
	ctx := context.Background()

	pair, err := f.svc.StartSession(ctx, "u1", nil, "10.0.0.7", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	f.advance(11 * time.Minute)
	if _, err := f.resolver.Resolve(ctx, pair.AccessToken); !errors.Is(err, xerrors.ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}

	want := pair.SessionID + ":inactivity"
	if len(f.notifier.revoked) != 1 || f.notifier.revoked[0] != want {
		t.Errorf("notifier = %v, want [%s]", f.notifier.revoked, want)
	}
	last := f.audit.events[len(f.audit.events)-1]
	if last.Event != auth.EventRevoked || last.Reason != "inactivity" || last.SessionID != pair.SessionID {
		t.Errorf("audit = %+v", last)
	}

	// already gone: nothing more to report
	if _, err := f.resolver.Resolve(ctx, pair.AccessToken); !errors.Is(err, xerrors.ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}
	if len(f.notifier.revoked) != 1 {
		t.Errorf("expiry reported twice: %v", f.notifier.revoked)
	}
}
