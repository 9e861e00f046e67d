package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	leagueauth "github.com/openleague/leagueauth"
	"github.com/openleague/leagueauth/store/memory"
	"github.com/openleague/leagueauth/store/sqlstore"
)

// The engine treats every Store implementation as interchangeable, so
// each scenario below runs against both shipped backends and any
// difference in outcome is a bug in one of them.
func eachBackend(t *testing.T, fn func(t *testing.T, st leagueauth.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, memory.New())
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "consistency.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		if err := st.Bootstrap(context.Background()); err != nil {
			t.Fatalf("bootstrap: %v", err)
		}
		fn(t, st)
	})
}

// stamp truncates to whole seconds in UTC so values survive every
// backend's timestamp precision.
func stamp(offset time.Duration) time.Time {
	return time.Now().UTC().Truncate(time.Second).Add(offset)
}

func seedOrg(t *testing.T, st leagueauth.Store, id, slug string) *leagueauth.Organization {
	t.Helper()
	org := &leagueauth.Organization{
		ID:        id,
		Name:      "League " + id,
		Slug:      slug,
		Timezone:  "America/Chicago",
		Locale:    "en-US",
		Active:    true,
		CreatedAt: stamp(0),
	}
	if err := st.Organizations().Create(context.Background(), org); err != nil {
		t.Fatalf("create org %s: %v", slug, err)
	}
	return org
}

func seedUser(t *testing.T, st leagueauth.Store, orgID, id, email string) *leagueauth.User {
	t.Helper()
	u := &leagueauth.User{
		ID:           id,
		OrgID:        orgID,
		Email:        email,
		PasswordHash: "argon2id$stub",
		Role:         leagueauth.RoleCoach,
		Active:       true,
		CreatedAt:    stamp(0),
		UpdatedAt:    stamp(0),
	}
	if err := st.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func TestBackendsAgreeOnMissingRows(t *testing.T) {
	eachBackend(t, func(t *testing.T, st leagueauth.Store) {
		ctx := context.Background()

		if _, err := st.Organizations().GetByID(ctx, "nope"); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("org GetByID miss = %v, want ErrNotFound", err)
		}
		if _, err := st.Organizations().GetBySlug(ctx, "nope"); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("org GetBySlug miss = %v, want ErrNotFound", err)
		}
		if _, err := st.Organizations().GetByDomain(ctx, "nope.example"); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("org GetByDomain miss = %v, want ErrNotFound", err)
		}
		if _, err := st.Users().GetByID(ctx, "org-x", "nope"); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("user GetByID miss = %v, want ErrNotFound", err)
		}
		if _, err := st.Users().GetByEmail(ctx, "org-x", "nope@example.com"); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("user GetByEmail miss = %v, want ErrNotFound", err)
		}
		if _, err := st.Users().GetByResetTokenHash(ctx, "deadbeef"); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("GetByResetTokenHash miss = %v, want ErrNotFound", err)
		}
		if _, err := st.Permissions().Get(ctx, "org-x", "nope", "edit_scores"); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("permission Get miss = %v, want ErrNotFound", err)
		}
		if err := st.Users().Update(ctx, &leagueauth.User{ID: "nope", OrgID: "org-x", Email: "a@b.c", UpdatedAt: stamp(0)}); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("user Update miss = %v, want ErrNotFound", err)
		}
	})
}

func TestBackendsAgreeOnDuplicateRejection(t *testing.T) {
	eachBackend(t, func(t *testing.T, st leagueauth.Store) {
		ctx := context.Background()
		org := seedOrg(t, st, "org-1", "metro")
		other := seedOrg(t, st, "org-2", "valley")
		seedUser(t, st, org.ID, "u-1", "coach@example.com")

		clash := &leagueauth.Organization{
			ID: "org-3", Name: "Metro Again", Slug: "metro",
			Timezone: "UTC", Locale: "en-US", Active: true, CreatedAt: stamp(0),
		}
		if err := st.Organizations().Create(ctx, clash); !errors.Is(err, leagueauth.ErrDuplicate) {
			t.Errorf("duplicate slug = %v, want ErrDuplicate", err)
		}

		dupEmail := &leagueauth.User{
			ID: "u-2", OrgID: org.ID, Email: "coach@example.com",
			PasswordHash: "x", Role: leagueauth.RoleViewer, Active: true,
			CreatedAt: stamp(0), UpdatedAt: stamp(0),
		}
		if err := st.Users().Create(ctx, dupEmail); !errors.Is(err, leagueauth.ErrDuplicate) {
			t.Errorf("duplicate email same org = %v, want ErrDuplicate", err)
		}

		// The same address in another league is legitimate.
		seedUser(t, st, other.ID, "u-3", "coach@example.com")
	})
}

func TestBackendsAgreeOnEmailNormalization(t *testing.T) {
	eachBackend(t, func(t *testing.T, st leagueauth.Store) {
		ctx := context.Background()
		org := seedOrg(t, st, "org-1", "metro")
		other := seedOrg(t, st, "org-2", "valley")
		seedUser(t, st, org.ID, "u-1", "keeper@example.com")
		seedUser(t, st, other.ID, "u-9", "keeper@example.com")

		got, err := st.Users().GetByEmail(ctx, org.ID, "  KEEPER@Example.COM  ")
		if err != nil {
			t.Fatalf("case-insensitive GetByEmail: %v", err)
		}
		if got.ID != "u-1" {
			t.Errorf("GetByEmail returned %s, want u-1", got.ID)
		}

		both, err := st.Users().FindByEmail(ctx, "Keeper@example.com")
		if err != nil {
			t.Fatalf("FindByEmail: %v", err)
		}
		if len(both) != 2 || both[0].OrgID != "org-1" || both[1].OrgID != "org-2" {
			t.Errorf("FindByEmail = %d rows (want 2, ordered by org)", len(both))
		}
	})
}

func TestBackendsAgreeOnUserUpdateRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, st leagueauth.Store) {
		ctx := context.Background()
		org := seedOrg(t, st, "org-1", "metro")
		u := seedUser(t, st, org.ID, "u-1", "coach@example.com")

		locked := stamp(10 * time.Minute)
		resetExp := stamp(time.Hour)
		lastLogin := stamp(-time.Minute)

		u.FailedLoginAttempts = 4
		u.LockedUntil = &locked
		u.ResetTokenHash = "feedface"
		u.ResetTokenExpiresAt = &resetExp
		u.LastLoginAt = &lastLogin
		u.LastLoginIP = "203.0.113.9"
		u.TOTPSecret = "JBSWY3DPEHPK3PXP"
		u.TOTPEnabled = true
		u.UpdatedAt = stamp(time.Second)
		if err := st.Users().Update(ctx, u); err != nil {
			t.Fatalf("update: %v", err)
		}

		got, err := st.Users().GetByID(ctx, org.ID, u.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if got.FailedLoginAttempts != 4 || !got.TOTPEnabled || got.TOTPSecret != "JBSWY3DPEHPK3PXP" {
			t.Errorf("security state did not round trip: %+v", got)
		}
		if got.LockedUntil == nil || !got.LockedUntil.Equal(locked) {
			t.Errorf("LockedUntil = %v, want %v", got.LockedUntil, locked)
		}
		if got.ResetTokenHash != "feedface" || got.ResetTokenExpiresAt == nil || !got.ResetTokenExpiresAt.Equal(resetExp) {
			t.Errorf("reset token state did not round trip: %+v", got)
		}
		if got.LastLoginAt == nil || !got.LastLoginAt.Equal(lastLogin) || got.LastLoginIP != "203.0.113.9" {
			t.Errorf("last login state did not round trip: %+v", got)
		}

		byToken, err := st.Users().GetByResetTokenHash(ctx, "feedface")
		if err != nil || byToken.ID != u.ID {
			t.Errorf("GetByResetTokenHash = (%v, %v), want u-1", byToken, err)
		}

		// Clearing the nullable fields must stick too.
		got.LockedUntil = nil
		got.ResetTokenHash = ""
		got.ResetTokenExpiresAt = nil
		got.FailedLoginAttempts = 0
		got.UpdatedAt = stamp(2 * time.Second)
		if err := st.Users().Update(ctx, got); err != nil {
			t.Fatalf("clearing update: %v", err)
		}
		cleared, err := st.Users().GetByID(ctx, org.ID, u.ID)
		if err != nil {
			t.Fatalf("reload after clear: %v", err)
		}
		if cleared.LockedUntil != nil || cleared.ResetTokenHash != "" || cleared.ResetTokenExpiresAt != nil {
			t.Errorf("nullable fields did not clear: %+v", cleared)
		}
		if _, err := st.Users().GetByResetTokenHash(ctx, "feedface"); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("stale token lookup = %v, want ErrNotFound", err)
		}
	})
}

func TestBackendsAgreeOnRecoveryCodes(t *testing.T) {
	eachBackend(t, func(t *testing.T, st leagueauth.Store) {
		ctx := context.Background()
		org := seedOrg(t, st, "org-1", "metro")
		u := seedUser(t, st, org.ID, "u-1", "coach@example.com")

		batch := []*leagueauth.RecoveryCode{
			{OrgID: org.ID, UserID: u.ID, CodeHash: "hash-a", CreatedAt: stamp(0)},
			{OrgID: org.ID, UserID: u.ID, CodeHash: "hash-b", CreatedAt: stamp(0)},
			{OrgID: org.ID, UserID: u.ID, CodeHash: "hash-c", CreatedAt: stamp(0)},
		}
		if err := st.Users().ReplaceRecoveryCodes(ctx, org.ID, u.ID, batch); err != nil {
			t.Fatalf("replace: %v", err)
		}

		ok, err := st.Users().ConsumeRecoveryCode(ctx, org.ID, u.ID, "hash-b")
		if err != nil || !ok {
			t.Fatalf("consume fresh code = (%v, %v), want true", ok, err)
		}
		ok, err = st.Users().ConsumeRecoveryCode(ctx, org.ID, u.ID, "hash-b")
		if err != nil || ok {
			t.Fatalf("consume used code = (%v, %v), want false", ok, err)
		}
		ok, err = st.Users().ConsumeRecoveryCode(ctx, org.ID, u.ID, "hash-z")
		if err != nil || ok {
			t.Fatalf("consume unknown code = (%v, %v), want false", ok, err)
		}

		listed, err := st.Users().RecoveryCodes(ctx, org.ID, u.ID)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		used := map[string]bool{}
		for _, c := range listed {
			used[c.CodeHash] = c.Used
		}
		want := map[string]bool{"hash-a": false, "hash-b": true, "hash-c": false}
		if len(used) != len(want) {
			t.Fatalf("listed %d codes, want %d", len(used), len(want))
		}
		for hash, wantUsed := range want {
			if used[hash] != wantUsed {
				t.Errorf("code %s used = %v, want %v", hash, used[hash], wantUsed)
			}
		}

		// Regeneration replaces the whole batch, used markers included.
		if err := st.Users().ReplaceRecoveryCodes(ctx, org.ID, u.ID, batch[:1]); err != nil {
			t.Fatalf("replace again: %v", err)
		}
		listed, err = st.Users().RecoveryCodes(ctx, org.ID, u.ID)
		if err != nil || len(listed) != 1 || listed[0].CodeHash != "hash-a" || listed[0].Used {
			t.Errorf("after regeneration: %d codes, err %v", len(listed), err)
		}
	})
}

func TestBackendsAgreeOnPermissionLifecycle(t *testing.T) {
	eachBackend(t, func(t *testing.T, st leagueauth.Store) {
		ctx := context.Background()
		org := seedOrg(t, st, "org-1", "metro")
		u := seedUser(t, st, org.ID, "u-1", "coach@example.com")

		grant := func(perm string) error {
			return st.Permissions().Grant(ctx, &leagueauth.EditorPermission{
				OrgID: org.ID, UserID: u.ID, Permission: perm,
				GrantedBy: "u-owner", CreatedAt: stamp(0),
			})
		}
		if err := grant("edit_scores"); err != nil {
			t.Fatalf("grant: %v", err)
		}
		if err := grant("publish"); err != nil {
			t.Fatalf("grant: %v", err)
		}
		if err := grant("edit_scores"); !errors.Is(err, leagueauth.ErrDuplicate) {
			t.Errorf("regrant = %v, want ErrDuplicate", err)
		}

		got, err := st.Permissions().Get(ctx, org.ID, u.ID, "edit_scores")
		if err != nil || got.GrantedBy != "u-owner" {
			t.Errorf("Get = (%+v, %v)", got, err)
		}

		listed, err := st.Permissions().ListForUser(ctx, org.ID, u.ID)
		if err != nil || len(listed) != 2 {
			t.Fatalf("ListForUser = %d rows, err %v", len(listed), err)
		}
		if listed[0].Permission != "edit_scores" || listed[1].Permission != "publish" {
			t.Errorf("list order = [%s %s], want alphabetical", listed[0].Permission, listed[1].Permission)
		}

		existed, err := st.Permissions().Revoke(ctx, org.ID, u.ID, "publish")
		if err != nil || !existed {
			t.Fatalf("revoke = (%v, %v), want true", existed, err)
		}
		existed, err = st.Permissions().Revoke(ctx, org.ID, u.ID, "publish")
		if err != nil || existed {
			t.Fatalf("second revoke = (%v, %v), want false", existed, err)
		}
		if _, err := st.Permissions().Get(ctx, org.ID, u.ID, "publish"); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("Get after revoke = %v, want ErrNotFound", err)
		}
	})
}

func TestBackendsAgreeOnAuditWindow(t *testing.T) {
	eachBackend(t, func(t *testing.T, st leagueauth.Store) {
		ctx := context.Background()

		entries := []*leagueauth.AuditEntry{
			{ID: "a-1", OrgID: "org-1", UserID: "u-1", Action: "login_success", EntityType: "user", EntityID: "u-1", Success: true, CreatedAt: stamp(1 * time.Second)},
			{ID: "a-2", OrgID: "org-2", UserID: "u-9", Action: "login_failed", EntityType: "user", Success: false, CreatedAt: stamp(2 * time.Second)},
			{ID: "a-3", OrgID: "org-1", UserID: "u-1", Action: "logout", EntityType: "user", EntityID: "u-1", Success: true, CreatedAt: stamp(3 * time.Second)},
			{ID: "a-4", OrgID: "org-1", UserID: "u-2", Action: "user_created", EntityType: "user", EntityID: "u-2", Metadata: map[string]string{"role": "coach"}, Success: true, CreatedAt: stamp(4 * time.Second)},
		}
		for _, e := range entries {
			if err := st.Audit().Append(ctx, e); err != nil {
				t.Fatalf("append %s: %v", e.ID, err)
			}
		}

		recent, err := st.Audit().ListRecent(ctx, "org-1", 2)
		if err != nil {
			t.Fatalf("list recent: %v", err)
		}
		if len(recent) != 2 || recent[0].ID != "a-4" || recent[1].ID != "a-3" {
			t.Fatalf("org window = %v, want [a-4 a-3]", auditIDs(recent))
		}
		if recent[0].Metadata["role"] != "coach" {
			t.Errorf("metadata did not round trip: %v", recent[0].Metadata)
		}

		all, err := st.Audit().ListRecent(ctx, "", 10)
		if err != nil {
			t.Fatalf("list all: %v", err)
		}
		if len(all) != 4 || all[0].ID != "a-4" || all[3].ID != "a-1" {
			t.Errorf("global window = %v, want newest first", auditIDs(all))
		}
	})
}

func TestBackendsAgreeOnCrossOrgIsolation(t *testing.T) {
	eachBackend(t, func(t *testing.T, st leagueauth.Store) {
		ctx := context.Background()
		org := seedOrg(t, st, "org-1", "metro")
		other := seedOrg(t, st, "org-2", "valley")
		u := seedUser(t, st, org.ID, "u-1", "coach@example.com")

		if _, err := st.Users().GetByID(ctx, other.ID, u.ID); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("foreign-org GetByID = %v, want ErrNotFound", err)
		}
		if _, err := st.Users().GetByEmail(ctx, other.ID, u.Email); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("foreign-org GetByEmail = %v, want ErrNotFound", err)
		}

		members, err := st.Users().ListByOrg(ctx, other.ID)
		if err != nil || len(members) != 0 {
			t.Errorf("foreign-org ListByOrg = %d rows, err %v", len(members), err)
		}

		if err := st.Permissions().Grant(ctx, &leagueauth.EditorPermission{
			OrgID: org.ID, UserID: u.ID, Permission: "edit_scores", GrantedBy: "u-owner", CreatedAt: stamp(0),
		}); err != nil {
			t.Fatalf("grant: %v", err)
		}
		if _, err := st.Permissions().Get(ctx, other.ID, u.ID, "edit_scores"); !errors.Is(err, leagueauth.ErrNotFound) {
			t.Errorf("foreign-org permission Get = %v, want ErrNotFound", err)
		}
	})
}

func auditIDs(entries []*leagueauth.AuditEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
