package leagueauth_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	leagueauth "github.com/openleague/leagueauth"
	"github.com/openleague/leagueauth/store/memory"
)

// testEnv bundles an engine with the backends the tests poke at
// directly.
type testEnv struct {
	engine *leagueauth.Engine
	store  *memory.Store
	redis  *miniredis.Miniredis
	mail   *recordingSender
}

// testConfig returns DefaultConfig tuned for test speed: cheap argon2
// parameters and a three-failure lockout. Everything else keeps the
// production defaults.
func testConfig() leagueauth.Config {
	cfg := leagueauth.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	cfg.Security.LockoutThreshold = 3
	return cfg
}

func newTestEnv(t *testing.T, mutate func(cfg *leagueauth.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := memory.New()
	mail := &recordingSender{inbox: make(chan sentMail, 16)}

	engine, err := leagueauth.New().
		WithConfig(cfg).
		WithStore(st).
		WithRedis(client).
		WithEmailSender(mail).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine: engine,
		store:  st,
		redis:  mr,
		mail:   mail,
	}
}

// seedLeague signs up an organization with one owner and returns both.
func (env *testEnv) seedLeague(t *testing.T, slug, email, password string) (*leagueauth.Organization, *leagueauth.User) {
	t.Helper()

	org, owner, err := env.engine.SignupOrganization(context.Background(), leagueauth.SignupRequest{
		Name:       slug + " league",
		Slug:       slug,
		OwnerEmail: email,
		Password:   password,
	})
	if err != nil {
		t.Fatalf("SignupOrganization(%s): %v", slug, err)
	}
	return org, owner
}

// seedMember creates an additional non-owner user in an existing
// organization, acting as the given owner.
func (env *testEnv) seedMember(t *testing.T, owner *leagueauth.User, email, password string, role leagueauth.Role) *leagueauth.User {
	t.Helper()

	user, err := env.engine.CreateUser(context.Background(), ownerContext(owner), leagueauth.CreateUserRequest{
		OrgID:    owner.OrgID,
		Email:    email,
		Password: password,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return user
}

// ownerContext fakes the AuthContext a session for this user would
// yield, for engine calls that require an acting administrator.
func ownerContext(user *leagueauth.User) *leagueauth.AuthContext {
	return &leagueauth.AuthContext{
		UserID: user.ID,
		OrgID:  user.OrgID,
		Role:   user.Role,
	}
}

// login runs a plain slug-scoped password login and fails the test on
// any error.
func (env *testEnv) login(t *testing.T, slug, email, password string) *leagueauth.LoginResult {
	t.Helper()

	res, err := env.engine.Login(context.Background(), leagueauth.LoginRequest{
		Email:    email,
		Password: password,
		OrgSlug:  slug,
	})
	if err != nil {
		t.Fatalf("Login(%s@%s): %v", email, slug, err)
	}
	return res
}

// userRow reads the persisted user row, bypassing the engine.
func (env *testEnv) userRow(t *testing.T, orgID, userID string) *leagueauth.User {
	t.Helper()

	user, err := env.store.Users().GetByID(context.Background(), orgID, userID)
	if err != nil {
		t.Fatalf("Users.GetByID(%s/%s): %v", orgID, userID, err)
	}
	return user
}

// waitAudit polls the audit table until an entry with the given action
// shows up. The dispatcher is asynchronous, so a freshly emitted event
// may lag the operation that produced it.
func (env *testEnv) waitAudit(t *testing.T, orgID, action string) *leagueauth.AuditEntry {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := env.store.Audit().ListRecent(context.Background(), orgID, 100)
		if err != nil {
			t.Fatalf("Audit.ListRecent: %v", err)
		}
		for _, entry := range entries {
			if entry.Action == action {
				return entry
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("no %q audit entry after %d rows", action, len(entries))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// auditCount reports how many persisted entries carry the action.
func (env *testEnv) auditCount(t *testing.T, orgID, action string) int {
	t.Helper()

	entries, err := env.store.Audit().ListRecent(context.Background(), orgID, 200)
	if err != nil {
		t.Fatalf("Audit.ListRecent: %v", err)
	}
	n := 0
	for _, entry := range entries {
		if entry.Action == action {
			n++
		}
	}
	return n
}

func (env *testEnv) counter(id leagueauth.MetricID) uint64 {
	return env.engine.MetricsSnapshot().Counters[id]
}

// wantErr asserts errors.Is against a sentinel.
func wantErr(t *testing.T, err, sentinel error) {
	t.Helper()
	if !errors.Is(err, sentinel) {
		t.Fatalf("got error %v, want %v", err, sentinel)
	}
}

/*==== mail recorder ====*/

type sentMail struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// recordingSender captures outbound mail. Sends happen on engine
// goroutines, so tests receive from the inbox channel with a deadline.
type recordingSender struct {
	mu    sync.Mutex
	sent  []sentMail
	inbox chan sentMail
}

func (s *recordingSender) Send(_ context.Context, to, subject, htmlBody, textBody string) error {
	msg := sentMail{To: to, Subject: subject, HTML: htmlBody, Text: textBody}

	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	select {
	case s.inbox <- msg:
	default:
	}
	return nil
}

func (s *recordingSender) waitMail(t *testing.T) sentMail {
	t.Helper()
	select {
	case msg := <-s.inbox:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no mail delivered")
		return sentMail{}
	}
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

var resetTokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

// resetToken pulls the token query parameter out of a reset mail body.
func resetToken(t *testing.T, msg sentMail) string {
	t.Helper()
	match := resetTokenPattern.FindStringSubmatch(msg.Text)
	if match == nil {
		t.Fatalf("no reset token in mail body:\n%s", msg.Text)
	}
	return match[1]
}
