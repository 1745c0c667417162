package session

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newSessionStoreTest(t *testing.T) (*Store, *miniredis.Miniredis, *testClock, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clock := &testClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := NewStore(rdb, nil, WithClock(clock.Now))
	return store, mr, clock, func() {
		rdb.Close()
		mr.Close()
	}
}

func sessionIDs(sessions []*Session) []string {
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.SessionID)
	}
	sort.Strings(ids)
	return ids
}

func TestCreateThenGet(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	device := map[string]interface{}{"browser": "firefox", "os": "linux"}
	created, err := store.Create(ctx, "s-1", "u-1", device, "", DefaultTTL)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CreatedAt.Equal(got.LastActivity) {
		t.Fatalf("created_at %v != last_activity %v", got.CreatedAt, got.LastActivity)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at round trip: got %v want %v", got.CreatedAt, created.CreatedAt)
	}
	if got.UserID != "u-1" || got.SessionID != "s-1" {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if got.IPAddress != UnknownIPAddress {
		t.Fatalf("ip_address = %q, want %q", got.IPAddress, UnknownIPAddress)
	}
	if got.DeviceInfo["browser"] != "firefox" {
		t.Fatalf("device_info = %v", got.DeviceInfo)
	}
	if ttl := mr.TTL("session:s-1"); ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", ttl, DefaultTTL)
	}
	if ok, _ := mr.IsMember("session_user:u-1", "s-1"); !ok {
		t.Fatal("session missing from user index")
	}
}

func TestCreateRequiresIDs(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t)
	defer done()

	if _, err := store.Create(context.Background(), "", "u-1", nil, "", time.Hour); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestGetMissing(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t)
	defer done()

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestTouchPreservesRemainingTTL(t *testing.T) {
	store, mr, clock, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if _, err := store.Create(ctx, "s-1", "u-1", nil, "10.0.0.1", time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}
	createdAt := clock.Now()

	mr.FastForward(20 * time.Minute)
	clock.Advance(20 * time.Minute)

	if err := store.Touch(ctx, "s-1"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	if ttl := mr.TTL("session:s-1"); ttl != 40*time.Minute {
		t.Fatalf("ttl after touch = %v, want 40m", ttl)
	}

	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastActivity.Equal(clock.Now()) {
		t.Fatalf("last_activity = %v, want %v", got.LastActivity, clock.Now())
	}
	if !got.CreatedAt.Equal(createdAt) {
		t.Fatalf("created_at changed: %v", got.CreatedAt)
	}
	if got.IPAddress != "10.0.0.1" {
		t.Fatalf("ip_address = %q", got.IPAddress)
	}
}

func TestTouchMissingIsNoop(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()

	if err := store.Touch(context.Background(), "gone"); err != nil {
		t.Fatalf("touch on missing session: %v", err)
	}
	if mr.Exists("session:gone") {
		t.Fatal("touch resurrected a missing session")
	}
}

func TestIsActive(t *testing.T) {
	store, mr, clock, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if _, err := store.Create(ctx, "s-1", "u-1", nil, "", DefaultTTL); err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(29 * time.Minute)
	active, err := store.IsActive(ctx, "s-1", 30*time.Minute)
	if err != nil || !active {
		t.Fatalf("expected active session, got active=%v err=%v", active, err)
	}

	clock.Advance(2 * time.Minute)
	active, err = store.IsActive(ctx, "s-1", 30*time.Minute)
	if err != nil {
		t.Fatalf("is active: %v", err)
	}
	if active {
		t.Fatal("idle session reported active")
	}
	if _, err := store.Get(ctx, "s-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("idle session not deleted: %v", err)
	}
	if ok, _ := mr.IsMember("session_user:u-1", "s-1"); ok {
		t.Fatal("idle session still indexed")
	}

	active, err = store.IsActive(ctx, "missing", 30*time.Minute)
	if err != nil || active {
		t.Fatalf("missing session: active=%v err=%v", active, err)
	}
}

func TestCheckActiveReturnsExpiredRecord(t *testing.T) {
	store, _, clock, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if _, err := store.Create(ctx, "s-1", "u-1", nil, "10.0.0.1", DefaultTTL); err != nil {
		t.Fatalf("create: %v", err)
	}

	active, expired, err := store.CheckActive(ctx, "s-1", 30*time.Minute)
	if err != nil || !active || expired != nil {
		t.Fatalf("fresh session: active=%v expired=%v err=%v", active, expired, err)
	}

	clock.Advance(31 * time.Minute)
	active, expired, err = store.CheckActive(ctx, "s-1", 30*time.Minute)
	if err != nil || active {
		t.Fatalf("idle session: active=%v err=%v", active, err)
	}
	if expired == nil || expired.SessionID != "s-1" || expired.UserID != "u-1" {
		t.Fatalf("expired = %+v, want the revoked record", expired)
	}

	// a second check finds nothing left to expire
	_, expired, err = store.CheckActive(ctx, "s-1", 30*time.Minute)
	if err != nil || expired != nil {
		t.Fatalf("second check: expired=%v err=%v", expired, err)
	}
}

func TestTouchKeepsSessionActive(t *testing.T) {
	store, _, clock, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if _, err := store.Create(ctx, "s-1", "u-1", nil, "", DefaultTTL); err != nil {
		t.Fatalf("create: %v", err)
	}
	clock.Advance(25 * time.Minute)
	if err := store.Touch(ctx, "s-1"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	clock.Advance(25 * time.Minute)

	active, err := store.IsActive(ctx, "s-1", 30*time.Minute)
	if err != nil || !active {
		t.Fatalf("touched session: active=%v err=%v", active, err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if _, err := store.Create(ctx, "s-1", "u-1", nil, "", time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Revoke(ctx, "s-1"); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := store.Revoke(ctx, "s-1"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if mr.Exists("session:s-1") {
		t.Fatal("session still stored")
	}
	if mr.Exists("session_user:u-1") {
		t.Fatal("empty user index should be gone")
	}
}

func TestRevokeAllForUserWithException(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	for _, id := range []string{"s-1", "s-2", "s-3"} {
		if _, err := store.Create(ctx, id, "u-1", nil, "", time.Hour); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := store.Create(ctx, "o-1", "u-2", nil, "", time.Hour); err != nil {
		t.Fatalf("create other: %v", err)
	}
	// index member whose record already expired
	if _, err := mr.SAdd("session_user:u-1", "ghost"); err != nil {
		t.Fatalf("sadd: %v", err)
	}

	count, err := store.RevokeAllForUser(ctx, "u-1", "s-2")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	remaining, err := store.ListForUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ids := sessionIDs(remaining); len(ids) != 1 || ids[0] != "s-2" {
		t.Fatalf("remaining = %v, want [s-2]", ids)
	}
	if _, err := store.Get(ctx, "o-1"); err != nil {
		t.Fatalf("other user's session touched: %v", err)
	}
	if ok, _ := mr.IsMember("session_user:u-1", "ghost"); ok {
		t.Fatal("stale index member not pruned")
	}
}

func TestExpiredMemberDoesNotHideLiveSessions(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if _, err := store.Create(ctx, "a-short", "u-1", nil, "", time.Minute); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, id := range []string{"b-long", "c-long"} {
		if _, err := store.Create(ctx, id, "u-1", nil, "", time.Hour); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	mr.FastForward(2 * time.Minute)

	// the expired id sorts first in the lookup batch
	found, err := store.getMany(ctx, []string{"a-short", "b-long", "c-long"})
	if err != nil {
		t.Fatalf("getMany: %v", err)
	}
	if found[0].session != nil || found[1].session == nil || found[2].session == nil {
		t.Fatalf("lookup = %+v", found)
	}

	listed, err := store.ListForUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ids := sessionIDs(listed); len(ids) != 2 || ids[0] != "b-long" || ids[1] != "c-long" {
		t.Fatalf("listed = %v, want [b-long c-long]", ids)
	}
	if ok, _ := mr.IsMember("session_user:u-1", "a-short"); ok {
		t.Fatal("expired member not pruned")
	}
	if ok, _ := mr.IsMember("session_user:u-1", "b-long"); !ok {
		t.Fatal("live member pruned from index")
	}

	count, err := store.RevokeAllForUser(ctx, "u-1", "")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if mr.Exists("session:b-long") || mr.Exists("session:c-long") {
		t.Fatal("live sessions survived revoke all")
	}
}

func TestRevokeAllForUserWithoutException(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	for _, id := range []string{"s-1", "s-2"} {
		if _, err := store.Create(ctx, id, "u-1", nil, "", time.Hour); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	count, err := store.RevokeAllForUser(ctx, "u-1", "")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	count, err = store.RevokeAllForUser(ctx, "u-1", "")
	if err != nil || count != 0 {
		t.Fatalf("second revoke all: count=%d err=%v", count, err)
	}
}

func TestListForUserIsolation(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	seed := []struct{ id, user string }{
		{"a-1", "alice"}, {"b-1", "bob"}, {"a-2", "alice"}, {"b-2", "bob"}, {"a-3", "alice"},
	}
	for _, s := range seed {
		if _, err := store.Create(ctx, s.id, s.user, nil, "", time.Hour); err != nil {
			t.Fatalf("create %s: %v", s.id, err)
		}
	}

	sessions, err := store.ListForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, s := range sessions {
		if s.UserID != "alice" {
			t.Fatalf("listed session %s of user %s", s.SessionID, s.UserID)
		}
	}
	if ids := sessionIDs(sessions); len(ids) != 3 {
		t.Fatalf("ids = %v, want 3 alice sessions", ids)
	}

	empty, err := store.ListForUser(ctx, "carol")
	if err != nil {
		t.Fatalf("list carol: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", empty)
	}
}

func TestListForUserSkipsReassignedRecord(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if _, err := store.Create(ctx, "s-1", "u-1", nil, "", time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}
	// same id written again for another user; u-1's index entry is now stale
	if _, err := store.Create(ctx, "s-1", "u-2", nil, "", time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}

	sessions, err := store.ListForUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("u-1 listed %v", sessionIDs(sessions))
	}
	if ok, _ := mr.IsMember("session_user:u-1", "s-1"); ok {
		t.Fatal("stale member not pruned")
	}
}

func TestListSkipsCorruptRecord(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	core, logs := observer.New(zap.WarnLevel)
	store := NewStore(rdb, zap.New(core))
	ctx := context.Background()

	if _, err := store.Create(ctx, "s-1", "u-1", nil, "", time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}
	mr.Set("session:bad", "{not json")
	if _, err := mr.SAdd("session_user:u-1", "bad"); err != nil {
		t.Fatalf("sadd: %v", err)
	}

	sessions, err := store.ListForUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ids := sessionIDs(sessions); len(ids) != 1 || ids[0] != "s-1" {
		t.Fatalf("ids = %v, want [s-1]", ids)
	}
	if logs.FilterMessage("skipping corrupt session record").Len() != 1 {
		t.Fatalf("expected one corrupt-record warning, got %v", logs.All())
	}

	if _, err := store.Get(ctx, "bad"); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
	if err := store.Revoke(ctx, "bad"); err != nil {
		t.Fatalf("revoke corrupt: %v", err)
	}
	if mr.Exists("session:bad") {
		t.Fatal("corrupt record not deleted")
	}
}

func TestUserSessionScenario(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		if _, err := store.Create(ctx, id, "U", nil, "", 24*time.Hour); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	sessions, err := store.ListForUser(ctx, "U")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ids := sessionIDs(sessions); len(ids) != 2 || ids[0] != "s1" || ids[1] != "s2" {
		t.Fatalf("ids = %v, want [s1 s2]", ids)
	}

	if err := store.Revoke(ctx, "s1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("s1 still present: %v", err)
	}

	sessions, err = store.ListForUser(ctx, "U")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ids := sessionIDs(sessions); len(ids) != 1 || ids[0] != "s2" {
		t.Fatalf("ids = %v, want [s2]", ids)
	}
}

func TestBackendUnavailable(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	mr.Close()

	if _, err := store.Get(ctx, "s-1"); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("get: expected ErrBackendUnavailable, got %v", err)
	}
	if _, err := store.Create(ctx, "s-1", "u-1", nil, "", time.Hour); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("create: expected ErrBackendUnavailable, got %v", err)
	}
	if _, err := store.RevokeAllForUser(ctx, "u-1", ""); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("revoke all: expected ErrBackendUnavailable, got %v", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("ping: expected ErrBackendUnavailable, got %v", err)
	}
}
