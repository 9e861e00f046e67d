package leagueauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openleague/leagueauth/internal/throttle"
	"github.com/openleague/leagueauth/jwt"
	"github.com/openleague/leagueauth/password"
	"github.com/openleague/leagueauth/session"
)

// Builder assembles an Engine. Construction is allocation-only; no I/O
// happens before the first Engine method call.
type Builder struct {
	config Config
	store  Store
	redis  redis.UniversalClient

	auditSink AuditSink
	mail      EmailSender

	built bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore provides the persistence port for organizations, users,
// permissions, and audit rows.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithRedis provides the client used for sessions, pending-MFA
// challenges, and reset throttling.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditSink routes audit events somewhere durable. Without a sink
// (and with auditing enabled) events are dispatched to a StoreSink over
// the configured store.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithEmailSender enables outbound notifications (password reset
// links). Without one the reset flow still runs, it just sends nothing.
func (b *Builder) WithEmailSender(sender EmailSender) *Builder {
	b.mail = sender
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.store == nil {
		return nil, errors.New("store required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	sink := b.auditSink
	if sink == nil && cfg.Audit.Enabled {
		sink = NewStoreSink(b.store.Audit())
	}

	engine := &Engine{
		config:   cfg,
		store:    b.store,
		sessions: session.NewStore(b.redis, cfg.Session.KeyPrefix, cfg.Session.SlidingRenewal, cfg.Session.ExpiryJitter),
		pending:  session.NewPendingStore(b.redis, cfg.Challenge.KeyPrefix),
		resetGuard: throttle.New(
			b.redis,
			resetGuardPrefix,
			cfg.PasswordReset.RequestLimit,
			cfg.PasswordReset.RequestWindow,
		),
		audit:   newAuditDispatcher(cfg.Audit, sink),
		metrics: NewMetrics(cfg.Metrics),
		hasher:  hasher,
		totp:    newTOTPManager(cfg.TOTP),
		mail:    b.mail,
		now:     time.Now,
	}
	engine.resolver = newResolver(b.store, cfg.Tenant)

	if cfg.APIToken.Enabled {
		jm, err := jwt.NewManager(jwt.Config{
			SigningMethod: cfg.APIToken.SigningMethod,
			Secret:        cloneBytes(cfg.APIToken.Secret),
			PrivateKey:    cloneBytes(cfg.APIToken.PrivateKey),
			PublicKey:     cloneBytes(cfg.APIToken.PublicKey),
			AccessTTL:     cfg.APIToken.AccessTTL,
			Issuer:        cfg.APIToken.Issuer,
			Audience:      cfg.APIToken.Audience,
			Leeway:        cfg.APIToken.Leeway,
		})
		if err != nil {
			return nil, err
		}
		engine.tokens = jm
	}

	b.built = true

	return engine, nil
}
