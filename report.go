package leagueauth

import "time"

// SecurityReport is a point-in-time summary of the engine's effective
// security posture, assembled from validated configuration. Admin
// surfaces render it so operators can confirm what a deployment
// actually enforces without reading config files.
//
// The report never contains key material. Signing secrets and keys are
// reported as booleans only.
type SecurityReport struct {
	LockoutThreshold int
	LockoutDuration  time.Duration

	Password PasswordReport

	TOTPDigits        uint
	TOTPPeriodSeconds uint
	TOTPSkewSteps     uint
	RecoveryCodeCount int

	ResetTokenTTL      time.Duration
	ResetRequestLimit  int
	ResetRequestWindow time.Duration

	SessionLifetime    time.Duration
	RememberMeLifetime time.Duration
	SlidingRenewal     bool

	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int

	SingleOrgFallback bool

	APITokensEnabled bool
	APITokenTTL      time.Duration

	AuditEnabled   bool
	MetricsEnabled bool
}

// PasswordReport summarizes hashing cost and policy strictness.
type PasswordReport struct {
	MemoryKB       uint32
	TimeCost       uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool

	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
	ExtraRules    int
}

// SecurityReport returns the engine's effective posture.
func (e *Engine) SecurityReport() SecurityReport {
	c := e.config
	return SecurityReport{
		LockoutThreshold: c.Security.LockoutThreshold,
		LockoutDuration:  c.Security.LockoutDuration,

		Password: PasswordReport{
			MemoryKB:       c.Password.Memory,
			TimeCost:       c.Password.Time,
			Parallelism:    c.Password.Parallelism,
			SaltLength:     c.Password.SaltLength,
			KeyLength:      c.Password.KeyLength,
			UpgradeOnLogin: c.Password.UpgradeOnLogin,

			MinLength:     c.Password.Policy.MinLength,
			RequireUpper:  c.Password.Policy.RequireUpper,
			RequireLower:  c.Password.Policy.RequireLower,
			RequireDigit:  c.Password.Policy.RequireDigit,
			RequireSymbol: c.Password.Policy.RequireSymbol,
			ExtraRules:    len(c.Password.Policy.Extra),
		},

		TOTPDigits:        c.TOTP.Digits,
		TOTPPeriodSeconds: c.TOTP.Period,
		TOTPSkewSteps:     c.TOTP.Skew,
		RecoveryCodeCount: c.TOTP.RecoveryCodeCount,

		ResetTokenTTL:      c.PasswordReset.TokenTTL,
		ResetRequestLimit:  c.PasswordReset.RequestLimit,
		ResetRequestWindow: c.PasswordReset.RequestWindow,

		SessionLifetime:    c.Session.Lifetime,
		RememberMeLifetime: c.Session.RememberMeLifetime,
		SlidingRenewal:     c.Session.SlidingRenewal,

		ChallengeTTL:         c.Challenge.TTL,
		ChallengeMaxAttempts: c.Challenge.MaxAttempts,

		SingleOrgFallback: c.Tenant.SingleOrgFallback,

		APITokensEnabled: c.APIToken.Enabled,
		APITokenTTL:      c.APIToken.AccessTTL,

		AuditEnabled:   c.Audit.Enabled,
		MetricsEnabled: c.Metrics.Enabled,
	}
}
