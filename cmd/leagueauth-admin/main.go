// Command leagueauth-admin is operator tooling for a leagueauth
// deployment: bootstrapping leagues, unlocking accounts and managing
// editor permissions without going through the HTTP API. It reads the
// same TOML config as leagueauthd and performs every write through the
// engine so policy checks and the audit trail stay intact.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/term"

	"github.com/openleague/leagueauth"
	"github.com/openleague/leagueauth/internal/appconfig"
)

// cliActor is recorded as the acting user in audit entries and grants.
const cliActor = "cli"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "create-league":
		err = cmdCreateLeague(args)
	case "create-user":
		err = cmdCreateUser(args)
	case "list-users":
		err = cmdListUsers(args)
	case "unlock":
		err = cmdUnlock(args)
	case "set-active":
		err = cmdSetActive(args)
	case "grant":
		err = cmdGrant(args)
	case "revoke":
		err = cmdRevoke(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: leagueauth-admin <command> [flags]

commands:
  create-league   create a league and its owner account
  create-user     add a user to a league
  list-users      list a league's users
  unlock          clear a lockout so the user can sign in again
  set-active      activate or deactivate an account
  grant           grant an editor permission
  revoke          revoke an editor permission

Every command accepts -config (default leagueauthd.toml). Passwords are
prompted without echo; set LEAGUEAUTH_PASSWORD to skip the prompt in
scripts.
`)
}

/*==== environment ====*/

type env struct {
	engine *leagueauth.Engine
	store  leagueauth.Store
	close  func()
}

func newEnv(configPath string) (*env, error) {
	cfg, _, err := appconfig.Load(configPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, closeStore, err := appconfig.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		closeStore()
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		closeStore()
		rdb.Close()
		return nil, err
	}

	engine, err := leagueauth.New().
		WithConfig(engineCfg).
		WithStore(store).
		WithRedis(rdb).
		Build()
	if err != nil {
		closeStore()
		rdb.Close()
		return nil, err
	}

	return &env{
		engine: engine,
		store:  store,
		close: func() {
			engine.Close()
			rdb.Close()
			closeStore()
		},
	}, nil
}

func (e *env) lookupUser(ctx context.Context, slug, email string) (*leagueauth.Organization, *leagueauth.User, error) {
	org, err := e.store.Organizations().GetBySlug(ctx, leagueauth.NormalizeSlug(slug))
	if err != nil {
		return nil, nil, fmt.Errorf("league %q: %w", slug, err)
	}
	user, err := e.store.Users().GetByEmail(ctx, org.ID, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, nil, fmt.Errorf("user %q in %q: %w", email, slug, err)
	}
	return org, user, nil
}

// actorFor impersonates a league owner. Audit entries carry the cli
// marker as the acting user.
func actorFor(orgID string) *leagueauth.AuthContext {
	return &leagueauth.AuthContext{UserID: cliActor, OrgID: orgID, Role: leagueauth.RoleOwner}
}

func promptPassword(label string) (string, error) {
	if v := os.Getenv("LEAGUEAUTH_PASSWORD"); v != "" {
		return v, nil
	}
	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

func promptNewPassword() (string, error) {
	first, err := promptPassword("Password: ")
	if err != nil {
		return "", err
	}
	if os.Getenv("LEAGUEAUTH_PASSWORD") != "" {
		return first, nil
	}
	second, err := promptPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}

/*==== commands ====*/

func cmdCreateLeague(args []string) error {
	fs := flag.NewFlagSet("create-league", flag.ExitOnError)
	configPath := fs.String("config", "leagueauthd.toml", "config file")
	name := fs.String("name", "", "display name")
	slug := fs.String("slug", "", "url slug")
	email := fs.String("email", "", "owner email")
	timezone := fs.String("timezone", "", "IANA timezone")
	locale := fs.String("locale", "", "locale tag")
	fs.Parse(args)

	if *name == "" || *slug == "" || *email == "" {
		return fmt.Errorf("-name, -slug and -email are required")
	}
	password, err := promptNewPassword()
	if err != nil {
		return err
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	org, owner, err := e.engine.SignupOrganization(context.Background(), leagueauth.SignupRequest{
		Name:       *name,
		Slug:       *slug,
		OwnerEmail: *email,
		Password:   password,
		Timezone:   *timezone,
		Locale:     *locale,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created league %s (%s), owner %s (%s)\n", org.Slug, org.ID, owner.Email, owner.ID)
	return nil
}

func cmdCreateUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	configPath := fs.String("config", "leagueauthd.toml", "config file")
	slug := fs.String("league", "", "league slug")
	email := fs.String("email", "", "user email")
	role := fs.String("role", "viewer", "owner, admin, coach, scorekeeper, player or viewer")
	fs.Parse(args)

	if *slug == "" || *email == "" {
		return fmt.Errorf("-league and -email are required")
	}
	password, err := promptNewPassword()
	if err != nil {
		return err
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	org, err := e.store.Organizations().GetBySlug(ctx, leagueauth.NormalizeSlug(*slug))
	if err != nil {
		return fmt.Errorf("league %q: %w", *slug, err)
	}
	user, err := e.engine.CreateUser(ctx, actorFor(org.ID), leagueauth.CreateUserRequest{
		OrgID:    org.ID,
		Email:    *email,
		Password: password,
		Role:     leagueauth.Role(*role),
	})
	if err != nil {
		return err
	}
	fmt.Printf("created %s (%s) in %s as %s\n", user.Email, user.ID, org.Slug, user.Role)
	return nil
}

func cmdListUsers(args []string) error {
	fs := flag.NewFlagSet("list-users", flag.ExitOnError)
	configPath := fs.String("config", "leagueauthd.toml", "config file")
	slug := fs.String("league", "", "league slug")
	fs.Parse(args)

	if *slug == "" {
		return fmt.Errorf("-league is required")
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	org, err := e.store.Organizations().GetBySlug(ctx, leagueauth.NormalizeSlug(*slug))
	if err != nil {
		return fmt.Errorf("league %q: %w", *slug, err)
	}
	users, err := e.engine.ListUsers(ctx, actorFor(org.ID), org.ID)
	if err != nil {
		return err
	}
	for _, u := range users {
		state := "active"
		if !u.Active {
			state = "inactive"
		}
		if u.LockedUntil != nil && u.LockedUntil.After(time.Now()) {
			state = "locked until " + u.LockedUntil.Format(time.RFC3339)
		}
		mfa := ""
		if u.TOTPEnabled {
			mfa = " mfa"
		}
		fmt.Printf("%-40s %-12s %s%s\n", u.Email, u.Role, state, mfa)
	}
	return nil
}

func cmdUnlock(args []string) error {
	fs := flag.NewFlagSet("unlock", flag.ExitOnError)
	configPath := fs.String("config", "leagueauthd.toml", "config file")
	slug := fs.String("league", "", "league slug")
	email := fs.String("email", "", "user email")
	fs.Parse(args)

	if *slug == "" || *email == "" {
		return fmt.Errorf("-league and -email are required")
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	org, user, err := e.lookupUser(ctx, *slug, *email)
	if err != nil {
		return err
	}
	if err := e.engine.UnlockUser(ctx, actorFor(org.ID), org.ID, user.ID); err != nil {
		return err
	}
	fmt.Printf("unlocked %s in %s\n", user.Email, org.Slug)
	return nil
}

func cmdSetActive(args []string) error {
	fs := flag.NewFlagSet("set-active", flag.ExitOnError)
	configPath := fs.String("config", "leagueauthd.toml", "config file")
	slug := fs.String("league", "", "league slug")
	email := fs.String("email", "", "user email")
	active := fs.Bool("active", true, "target state")
	fs.Parse(args)

	if *slug == "" || *email == "" {
		return fmt.Errorf("-league and -email are required")
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	org, user, err := e.lookupUser(ctx, *slug, *email)
	if err != nil {
		return err
	}
	if err := e.engine.SetUserActive(ctx, actorFor(org.ID), org.ID, user.ID, *active); err != nil {
		return err
	}
	state := "activated"
	if !*active {
		state = "deactivated"
	}
	fmt.Printf("%s %s in %s\n", state, user.Email, org.Slug)
	return nil
}

func cmdGrant(args []string) error {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	configPath := fs.String("config", "leagueauthd.toml", "config file")
	slug := fs.String("league", "", "league slug")
	email := fs.String("email", "", "user email")
	permission := fs.String("permission", "", "permission name, e.g. edit_scores")
	fs.Parse(args)

	if *slug == "" || *email == "" || *permission == "" {
		return fmt.Errorf("-league, -email and -permission are required")
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	org, user, err := e.lookupUser(ctx, *slug, *email)
	if err != nil {
		return err
	}
	grant, err := e.engine.GrantPermission(ctx, actorFor(org.ID), org.ID, user.ID, *permission)
	if err != nil {
		return err
	}
	fmt.Printf("granted %s to %s in %s\n", grant.Permission, user.Email, org.Slug)
	return nil
}

func cmdRevoke(args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	configPath := fs.String("config", "leagueauthd.toml", "config file")
	slug := fs.String("league", "", "league slug")
	email := fs.String("email", "", "user email")
	permission := fs.String("permission", "", "permission name")
	fs.Parse(args)

	if *slug == "" || *email == "" || *permission == "" {
		return fmt.Errorf("-league, -email and -permission are required")
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	org, user, err := e.lookupUser(ctx, *slug, *email)
	if err != nil {
		return err
	}
	removed, err := e.engine.RevokePermission(ctx, actorFor(org.ID), org.ID, user.ID, *permission)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("%s did not hold %s in %s\n", user.Email, *permission, org.Slug)
		return nil
	}
	fmt.Printf("revoked %s from %s in %s\n", *permission, user.Email, org.Slug)
	return nil
}
