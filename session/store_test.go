package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testSession(expiresIn time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:        "sid-1",
		UserID:    "u-1",
		OrgID:     "org-1",
		Role:      "viewer",
		IP:        "198.51.100.4",
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(expiresIn).Unix(),
	}
}

func TestStoreSaveGet(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewStore(rdb, "ls", false, 0)
	ctx := context.Background()

	sess := testSession(time.Hour)
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("ls:org-1:sid-1") {
		t.Fatal("session key missing in redis")
	}

	got, err := store.Get(ctx, "org-1", "sid-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "u-1" || got.Role != "viewer" || got.ID != "sid-1" {
		t.Fatalf("unexpected session %+v", got)
	}
}

func TestStoreGetMissing(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, "ls", false, 0)

	_, err := store.Get(context.Background(), "org-1", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestStoreGetWrongOrg(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, "ls", false, 0)
	ctx := context.Background()

	if err := store.Save(ctx, testSession(time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Get(ctx, "org-2", "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-org Get = %v, want ErrNotFound", err)
	}
}

func TestStoreSaveRejectsExpired(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, "ls", false, 0)

	sess := testSession(-time.Minute)
	if err := store.Save(context.Background(), sess); err == nil {
		t.Fatal("Save accepted an already expired session")
	}
}

func TestStoreGetDropsStaleRecord(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, "ls", false, 0)
	ctx := context.Background()

	// Seed a record whose embedded expiry already passed, simulating a
	// Redis node whose eviction lagged.
	stale := testSession(time.Hour)
	stale.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	data, err := Encode(stale)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := rdb.Set(ctx, "ls:org-1:sid-1", data, time.Hour).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := store.Get(ctx, "org-1", "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
	if n, _ := rdb.Exists(ctx, "ls:org-1:sid-1").Result(); n != 0 {
		t.Fatal("stale record not removed")
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, "ls", false, 0)
	ctx := context.Background()

	if err := store.Save(ctx, testSession(time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, "org-1", "sid-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "org-1", "sid-1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := store.Get(ctx, "org-1", "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestStoreDeleteAllForUser(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, "ls", false, 0)
	ctx := context.Background()

	for _, id := range []string{"sid-a", "sid-b", "sid-c"} {
		sess := testSession(time.Hour)
		sess.ID = id
		if err := store.Save(ctx, sess); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	other := testSession(time.Hour)
	other.ID = "sid-z"
	other.UserID = "u-2"
	if err := store.Save(ctx, other); err != nil {
		t.Fatalf("Save other: %v", err)
	}

	n, err := store.DeleteAllForUser(ctx, "org-1", "u-1")
	if err != nil {
		t.Fatalf("DeleteAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("deleted = %d, want 3", n)
	}

	for _, id := range []string{"sid-a", "sid-b", "sid-c"} {
		if _, err := store.Get(ctx, "org-1", id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("session %s survived revocation", id)
		}
	}
	if _, err := store.Get(ctx, "org-1", "sid-z"); err != nil {
		t.Fatalf("unrelated user's session was revoked: %v", err)
	}
}

func TestStoreActiveSessionIDs(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, "ls", false, 0)
	ctx := context.Background()

	sess := testSession(time.Hour)
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ids, err := store.ActiveSessionIDs(ctx, "org-1", "u-1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "sid-1" {
		t.Fatalf("ids = %v, want [sid-1]", ids)
	}
}

func TestStoreSlidingRenewalExtendsTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewStore(rdb, "ls", true, 0)
	ctx := context.Background()

	sess := testSession(time.Hour)
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Shrink the key TTL behind the store's back, then confirm a read
	// re-extends it toward the absolute expiry.
	mr.SetTTL("ls:org-1:sid-1", time.Minute)
	if _, err := store.Get(ctx, "org-1", "sid-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ttl := mr.TTL("ls:org-1:sid-1"); ttl <= time.Minute {
		t.Fatalf("ttl = %v, want extended beyond 1m", ttl)
	}
}
