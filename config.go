package leagueauth

import (
	"errors"
	"fmt"
	"time"
)

/*==== LOCKOUT / SECURITY ====*/

// SecurityConfig controls the failed-login lockout state machine.
type SecurityConfig struct {
	// LockoutThreshold is the number of consecutive failures that trips
	// a lock. The counter is left at the threshold while locked.
	LockoutThreshold int
	// LockoutDuration is how long a tripped lock lasts.
	LockoutDuration time.Duration
}

/*==== PASSWORD ====*/

// PasswordConfig bundles the strength policy with argon2id parameters.
type PasswordConfig struct {
	Policy PasswordPolicy

	// Argon2 cost parameters for newly written hashes. Legacy bcrypt
	// hashes still verify and are upgraded on the next login.
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// UpgradeOnLogin rewrites bcrypt or weaker-parameter hashes with the
	// current argon2id settings after a successful password check.
	UpgradeOnLogin bool
}

/*==== TOTP / MFA ====*/

// TOTPConfig controls enrollment and verification of the second factor.
type TOTPConfig struct {
	Digits uint
	Period uint
	// Skew is the number of adjacent time steps accepted on either side
	// of now.
	Skew uint

	RecoveryCodeCount int

	// QRSize is the square pixel size of the enrollment PNG.
	QRSize int
}

/*==== PASSWORD RESET ====*/

// PasswordResetConfig controls the reset token lifecycle.
type PasswordResetConfig struct {
	TokenTTL time.Duration

	// RequestLimit and RequestWindow throttle RequestPasswordReset per
	// (email, client IP) pair. This is defense in depth behind whatever
	// limits the boundary applies.
	RequestLimit  int
	RequestWindow time.Duration

	// BaseURL is the absolute prefix for links placed in reset emails,
	// e.g. "https://play.example.com/auth/reset". The token and the
	// organization slug are appended as query parameters.
	BaseURL string
}

/*==== SESSIONS ====*/

// SessionConfig controls the server-side web session store.
type SessionConfig struct {
	Lifetime           time.Duration
	RememberMeLifetime time.Duration

	// SlidingRenewal re-extends the TTL on each read, bounded by the
	// absolute lifetime above.
	SlidingRenewal bool
	ExpiryJitter   time.Duration

	KeyPrefix string
}

// ChallengeConfig controls the transient pending-MFA login state.
type ChallengeConfig struct {
	TTL         time.Duration
	MaxAttempts int
	KeyPrefix   string
}

/*==== TENANT RESOLUTION ====*/

// TenantConfig controls how requests are mapped to organizations.
type TenantConfig struct {
	// BaseDomain, when set, lets "slug.BaseDomain" hosts resolve to the
	// organization with that slug.
	BaseDomain string
	// SingleOrgFallback resolves to the only active organization when
	// every other rule fails. Intended for development and single-league
	// installs.
	SingleOrgFallback bool
}

/*==== API TOKENS ====*/

// APITokenConfig controls optional JWT access tokens for API clients.
// Disabled by default; web flows use server-side sessions only.
type APITokenConfig struct {
	Enabled bool

	// SigningMethod is "hs256" or "ed25519".
	SigningMethod string
	// Secret is the HMAC key for hs256.
	Secret []byte
	// PrivateKey / PublicKey are the ed25519 key pair.
	PrivateKey []byte
	PublicKey  []byte

	AccessTTL time.Duration
	Issuer    string
	Audience  string
	Leeway    time.Duration
}

/*==== AUDIT ====*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of blocking the request path when
	// the buffer is saturated. Dropped counts are observable.
	DropIfFull bool
}

/*==== METRICS ====*/

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

/*==== MAIL ====*/

// MailConfig controls engine-initiated notifications.
type MailConfig struct {
	// FromAddress is advisory; senders may override it.
	FromAddress string
	// SendTimeout bounds each asynchronous send.
	SendTimeout time.Duration
}

// Config is the full engine configuration. Start from DefaultConfig and
// override; Build validates the result.
type Config struct {
	Security      SecurityConfig
	Password      PasswordConfig
	TOTP          TOTPConfig
	PasswordReset PasswordResetConfig
	Session       SessionConfig
	Challenge     ChallengeConfig
	Tenant        TenantConfig
	APIToken      APITokenConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Mail          MailConfig
}

// DefaultConfig returns the baseline configuration: five failures lock
// an account for fifteen minutes, reset tokens live one hour, TOTP runs
// six digits over thirty seconds with one step of skew, and ten
// recovery codes are issued per enrollment.
func DefaultConfig() Config {
	return defaultConfig()
}

// HighSecurityConfig returns a preset for deployments with elevated
// requirements, such as paid leagues or state associations. Lockout
// trips sooner and lasts longer, every token and session lifetime is
// shortened, TOTP accepts no clock skew, and sliding renewal is off so
// a session's end is fixed at login time.
func HighSecurityConfig() Config {
	cfg := defaultConfig()
	cfg.Security.LockoutThreshold = 3
	cfg.Security.LockoutDuration = 30 * time.Minute
	cfg.Password.Policy.MinLength = 12
	cfg.Password.Policy.RequireSymbol = true
	cfg.TOTP.Skew = 0
	cfg.PasswordReset.TokenTTL = 15 * time.Minute
	cfg.PasswordReset.RequestLimit = 2
	cfg.Session.Lifetime = 4 * time.Hour
	cfg.Session.RememberMeLifetime = 7 * 24 * time.Hour
	cfg.Session.SlidingRenewal = false
	cfg.Challenge.TTL = 2 * time.Minute
	cfg.Challenge.MaxAttempts = 3
	cfg.Tenant.SingleOrgFallback = false
	return cfg
}

// HighThroughputConfig returns a preset for deployments where session
// validation dominates, such as game-day traffic with per-request
// checks. Sliding renewal and jitter are off so validation is a single
// Redis read, sessions last a full day, and the audit buffer absorbs
// bursts without shedding.
func HighThroughputConfig() Config {
	cfg := defaultConfig()
	cfg.Session.Lifetime = 24 * time.Hour
	cfg.Session.SlidingRenewal = false
	cfg.Session.ExpiryJitter = 0
	cfg.Audit.BufferSize = 8192
	return cfg
}

func defaultConfig() Config {
	return Config{
		Security: SecurityConfig{
			LockoutThreshold: 5,
			LockoutDuration:  15 * time.Minute,
		},
		Password: PasswordConfig{
			Policy: DefaultPasswordPolicy(),

			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,

			UpgradeOnLogin: true,
		},
		TOTP: TOTPConfig{
			Digits:            6,
			Period:            30,
			Skew:              1,
			RecoveryCodeCount: 10,
			QRSize:            256,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:      time.Hour,
			RequestLimit:  3,
			RequestWindow: time.Hour,
		},
		Session: SessionConfig{
			Lifetime:           12 * time.Hour,
			RememberMeLifetime: 30 * 24 * time.Hour,
			SlidingRenewal:     true,
			ExpiryJitter:       30 * time.Second,
			KeyPrefix:          "ls",
		},
		Challenge: ChallengeConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
			KeyPrefix:   "lmc",
		},
		Tenant: TenantConfig{
			SingleOrgFallback: true,
		},
		APIToken: APITokenConfig{
			Enabled:       false,
			SigningMethod: "hs256",
			AccessTTL:     10 * time.Minute,
			Issuer:        "leagueauth",
			Leeway:        30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Mail: MailConfig{
			SendTimeout: 5 * time.Second,
		},
	}
}

// Validate checks the configuration for values the engine cannot run
// with. It is called by Build and may be called directly by servers
// that assemble Config from files.
func (c *Config) Validate() error {
	if c.Security.LockoutThreshold < 1 {
		return errors.New("config: security lockout threshold must be >= 1")
	}
	if c.Security.LockoutDuration <= 0 {
		return errors.New("config: security lockout duration must be > 0")
	}

	if err := c.Password.Policy.validate(); err != nil {
		return err
	}
	if c.Password.Memory < 8*1024 {
		return errors.New("config: password memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("config: password time cost must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("config: password parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("config: password salt length must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("config: password key length must be >= 16")
	}

	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("config: totp digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("config: totp period must be >= 15 seconds")
	}
	if c.TOTP.Skew > 2 {
		return errors.New("config: totp skew must be <= 2 steps")
	}
	if c.TOTP.RecoveryCodeCount < 1 {
		return errors.New("config: totp recovery code count must be >= 1")
	}
	if c.TOTP.QRSize < 64 {
		return errors.New("config: totp qr size must be >= 64 px")
	}

	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("config: password reset token ttl must be > 0")
	}
	if c.PasswordReset.RequestLimit < 1 {
		return errors.New("config: password reset request limit must be >= 1")
	}
	if c.PasswordReset.RequestWindow <= 0 {
		return errors.New("config: password reset request window must be > 0")
	}

	if c.Session.Lifetime <= 0 {
		return errors.New("config: session lifetime must be > 0")
	}
	if c.Session.RememberMeLifetime < c.Session.Lifetime {
		return errors.New("config: remember-me lifetime must be >= session lifetime")
	}
	if c.Session.KeyPrefix == "" {
		return errors.New("config: session key prefix must not be empty")
	}

	if c.Challenge.TTL <= 0 {
		return errors.New("config: challenge ttl must be > 0")
	}
	if c.Challenge.MaxAttempts < 1 {
		return errors.New("config: challenge max attempts must be >= 1")
	}
	if c.Challenge.KeyPrefix == "" {
		return errors.New("config: challenge key prefix must not be empty")
	}
	if c.Challenge.KeyPrefix == c.Session.KeyPrefix {
		return errors.New("config: challenge and session key prefixes must differ")
	}

	if c.APIToken.Enabled {
		switch c.APIToken.SigningMethod {
		case "hs256":
			if len(c.APIToken.Secret) < 32 {
				return errors.New("config: api token hs256 secret must be >= 32 bytes")
			}
		case "ed25519":
			if len(c.APIToken.PrivateKey) == 0 || len(c.APIToken.PublicKey) == 0 {
				return errors.New("config: api token ed25519 requires both keys")
			}
		default:
			return fmt.Errorf("config: unknown api token signing method %q", c.APIToken.SigningMethod)
		}
		if c.APIToken.AccessTTL <= 0 {
			return errors.New("config: api token access ttl must be > 0")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize < 1 {
		return errors.New("config: audit buffer size must be >= 1")
	}

	if c.Mail.SendTimeout <= 0 {
		return errors.New("config: mail send timeout must be > 0")
	}

	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.APIToken.Secret = cloneBytes(c.APIToken.Secret)
	out.APIToken.PrivateKey = cloneBytes(c.APIToken.PrivateKey)
	out.APIToken.PublicKey = cloneBytes(c.APIToken.PublicKey)
	out.Password.Policy.Extra = clonePredicates(c.Password.Policy.Extra)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
