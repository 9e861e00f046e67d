package leagueauth

import "errors"

// Sentinel errors returned by engine operations. Callers are expected to
// match with errors.Is; the HTTP boundary maps these onto status codes
// (note that ErrCrossTenantAccess is deliberately surfaced as a 404).
var (
	// ErrTenantNotFound means no organization could be resolved from the
	// request context.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrCrossTenantAccess means the operation referenced an entity that
	// exists but belongs to another organization. Boundaries must render
	// it exactly like a missing resource.
	ErrCrossTenantAccess = errors.New("cross-tenant access")
	// ErrInvalidCredentials covers both unknown email and wrong password
	// so the two cases stay indistinguishable to clients.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive is returned for deactivated accounts.
	ErrAccountInactive = errors.New("account inactive")
	// ErrPermissionDenied is returned when a permission or role check fails.
	ErrPermissionDenied = errors.New("permission denied")
)

// Password reset.
var (
	ErrTokenInvalid   = errors.New("reset token invalid")
	ErrTokenExpired   = errors.New("reset token expired")
	ErrResetThrottled = errors.New("password reset throttled")
)

// MFA.
var (
	ErrMFAVerificationFailed = errors.New("mfa verification failed")
	ErrMFANotEnabled         = errors.New("mfa not enabled")
	ErrMFAAlreadyEnabled     = errors.New("mfa already enabled")
	ErrMFANotPending         = errors.New("no pending mfa enrollment")
	ErrChallengeNotFound     = errors.New("login challenge not found")
)

// Account lifecycle and credential management.
var (
	ErrPasswordPolicy = errors.New("password policy violation")
	ErrPasswordReuse  = errors.New("new password must differ from the current one")
	ErrSlugInvalid    = errors.New("organization slug is malformed")
	ErrSlugTaken      = errors.New("organization slug already in use")
	ErrEmailInvalid   = errors.New("email address is malformed")
	ErrEmailTaken     = errors.New("email already in use for this organization")
	ErrRoleInvalid    = errors.New("invalid role")
)

// Engine plumbing.
var (
	ErrEngineNotReady   = errors.New("engine not initialized")
	ErrSessionNotFound  = errors.New("session not found")
	ErrAPITokensOff     = errors.New("api tokens disabled")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Storage-level sentinels shared by every Store implementation.
var (
	// ErrNotFound is returned by store lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a uniqueness rule.
	ErrDuplicate = errors.New("duplicate")
)
