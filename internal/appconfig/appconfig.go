// Package appconfig loads the TOML configuration shared by the
// leagueauthd daemon and the leagueauth-admin tool and turns it into
// wired dependencies: engine config, HTTP config, a store and a mail
// sender.
package appconfig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/openleague/leagueauth"
	"github.com/openleague/leagueauth/httpapi"
	"github.com/openleague/leagueauth/mailer"
	"github.com/openleague/leagueauth/store/memory"
	"github.com/openleague/leagueauth/store/sqlstore"
)

// File is the on-disk configuration. Engine knobs without a key here
// keep the library defaults.
type File struct {
	Server ServerSection `toml:"server"`
	Store  StoreSection  `toml:"store"`
	Redis  RedisSection  `toml:"redis"`
	Auth   AuthSection   `toml:"auth"`
	Mail   MailSection   `toml:"mail"`
}

type ServerSection struct {
	Listen          string   `toml:"listen"`
	BaseDomain      string   `toml:"base_domain"`
	CookieSecure    bool     `toml:"cookie_secure"`
	CookieDomain    string   `toml:"cookie_domain"`
	TrustProxy      bool     `toml:"trust_proxy"`
	CORSOrigins     []string `toml:"cors_origins"`
	LoginPerMinute  int      `toml:"login_per_minute"`
	ResetPerHour    int      `toml:"reset_per_hour"`
	ShutdownSeconds int      `toml:"shutdown_seconds"`
}

type StoreSection struct {
	// Driver is postgres, mysql, sqlite or memory.
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
	// Bootstrap creates missing tables on startup. Leave off when the
	// schema is managed by migration tooling.
	Bootstrap bool `toml:"bootstrap"`
}

type RedisSection struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type AuthSection struct {
	// Preset selects the engine baseline the keys below override:
	// "default", "high_security" or "high_throughput".
	Preset            string `toml:"preset"`
	LockoutThreshold  int    `toml:"lockout_threshold"`
	LockoutMinutes    int    `toml:"lockout_minutes"`
	SessionHours      int    `toml:"session_hours"`
	RememberMeDays    int    `toml:"remember_me_days"`
	ResetTokenMinutes int    `toml:"reset_token_minutes"`
	ResetBaseURL      string `toml:"reset_base_url"`
	MinPasswordLength int    `toml:"min_password_length"`
	// SingleOrgFallback left unset keeps the engine default.
	SingleOrgFallback *bool `toml:"single_org_fallback"`
}

type MailSection struct {
	// Mode is smtp or log. Log mode writes composed messages to the
	// daemon's stdout.
	Mode        string `toml:"mode"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	FromAddress string `toml:"from_address"`
	FromName    string `toml:"from_name"`
	ImplicitTLS bool   `toml:"implicit_tls"`
	StartTLS    bool   `toml:"starttls"`
}

func Default() File {
	return File{
		Server: ServerSection{
			Listen:          ":8080",
			ShutdownSeconds: 10,
		},
		Store: StoreSection{
			Driver: "memory",
		},
		Redis: RedisSection{
			Addr: "127.0.0.1:6379",
		},
		Mail: MailSection{
			Mode:     "log",
			Port:     587,
			StartTLS: true,
			FromName: "League Auth",
		},
	}
}

// Load layers the TOML file over the defaults. A missing file is not
// an error; the caller runs on defaults and the second return is false.
func Load(path string) (File, bool, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, false, nil
		}
		return cfg, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, true, nil
}

func (f File) EngineConfig() (leagueauth.Config, error) {
	var cfg leagueauth.Config
	switch f.Auth.Preset {
	case "", "default":
		cfg = leagueauth.DefaultConfig()
	case "high_security":
		cfg = leagueauth.HighSecurityConfig()
	case "high_throughput":
		cfg = leagueauth.HighThroughputConfig()
	default:
		return cfg, fmt.Errorf("unknown auth preset %q", f.Auth.Preset)
	}

	if f.Auth.LockoutThreshold > 0 {
		cfg.Security.LockoutThreshold = f.Auth.LockoutThreshold
	}
	if f.Auth.LockoutMinutes > 0 {
		cfg.Security.LockoutDuration = time.Duration(f.Auth.LockoutMinutes) * time.Minute
	}
	if f.Auth.SessionHours > 0 {
		cfg.Session.Lifetime = time.Duration(f.Auth.SessionHours) * time.Hour
	}
	if f.Auth.RememberMeDays > 0 {
		cfg.Session.RememberMeLifetime = time.Duration(f.Auth.RememberMeDays) * 24 * time.Hour
	}
	if f.Auth.ResetTokenMinutes > 0 {
		cfg.PasswordReset.TokenTTL = time.Duration(f.Auth.ResetTokenMinutes) * time.Minute
	}
	if f.Auth.ResetBaseURL != "" {
		cfg.PasswordReset.BaseURL = f.Auth.ResetBaseURL
	}
	if f.Auth.MinPasswordLength > 0 {
		cfg.Password.Policy.MinLength = f.Auth.MinPasswordLength
	}
	if f.Auth.SingleOrgFallback != nil {
		cfg.Tenant.SingleOrgFallback = *f.Auth.SingleOrgFallback
	}
	cfg.Tenant.BaseDomain = f.Server.BaseDomain
	cfg.Mail.FromAddress = f.Mail.FromAddress
	return cfg, nil
}

func (f File) APIConfig() httpapi.Config {
	return httpapi.Config{
		CookieSecure:       f.Server.CookieSecure,
		CookieDomain:       f.Server.CookieDomain,
		TrustProxy:         f.Server.TrustProxy,
		CORSAllowedOrigins: f.Server.CORSOrigins,
		LoginPerMinute:     f.Server.LoginPerMinute,
		ResetPerHour:       f.Server.ResetPerHour,
	}
}

// OpenStore opens and optionally bootstraps the configured backend.
// The returned closer is safe to call on every path.
func OpenStore(ctx context.Context, sc StoreSection) (leagueauth.Store, func(), error) {
	bootstrap := func(st *sqlstore.Store) (leagueauth.Store, func(), error) {
		if sc.Bootstrap {
			bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := st.Bootstrap(bctx); err != nil {
				st.Close()
				return nil, nil, err
			}
		}
		return st, func() { st.Close() }, nil
	}

	switch sc.Driver {
	case "", "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		if sc.DSN == "" {
			return nil, nil, fmt.Errorf("sqlite driver needs a dsn (database file path)")
		}
		st, err := sqlstore.OpenSQLite(sc.DSN)
		if err != nil {
			return nil, nil, err
		}
		return bootstrap(st)
	case "postgres", "pgx":
		st, err := sqlstore.Open("pgx", sc.DSN)
		if err != nil {
			return nil, nil, err
		}
		return bootstrap(st)
	case "mysql":
		st, err := sqlstore.Open("mysql", sc.DSN)
		if err != nil {
			return nil, nil, err
		}
		return bootstrap(st)
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

// BuildSender constructs the mail transport. Log mode writes composed
// messages to logOut.
func BuildSender(mc MailSection, logOut io.Writer) (leagueauth.EmailSender, error) {
	switch mc.Mode {
	case "", "log":
		return mailer.NewWriterSender(logOut, mc.FromName, mc.FromAddress), nil
	case "smtp":
		return mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:        mc.Host,
			Port:        mc.Port,
			Username:    mc.Username,
			Password:    mc.Password,
			FromAddress: mc.FromAddress,
			FromName:    mc.FromName,
			ImplicitTLS: mc.ImplicitTLS,
			StartTLS:    mc.StartTLS,
		})
	default:
		return nil, fmt.Errorf("unknown mail mode %q", mc.Mode)
	}
}
