package leagueauth

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricRecoveryCodeUsed
	MetricRecoveryCodeFailed
	MetricRecoveryCodesRegenerated
	MetricTOTPEnabled
	MetricTOTPDisabled
	MetricResetRequested
	MetricResetThrottled
	MetricResetConfirmed
	MetricResetFailed
	MetricSessionCreated
	MetricSessionRevoked
	MetricLogout
	MetricLogoutAll
	MetricPermissionGranted
	MetricPermissionRevoked
	MetricPermissionDenied
	MetricTenantResolved
	MetricTenantMiss
	MetricCrossTenantDenied
	MetricAccountCreated
	MetricAccountLockedOut
	MetricAccountUnlocked
	MetricPasswordChanged
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:             "login_success",
	MetricLoginFailure:             "login_failure",
	MetricLoginLocked:              "login_locked",
	MetricMFARequired:              "mfa_required",
	MetricMFASuccess:               "mfa_success",
	MetricMFAFailure:               "mfa_failure",
	MetricRecoveryCodeUsed:         "recovery_code_used",
	MetricRecoveryCodeFailed:       "recovery_code_failed",
	MetricRecoveryCodesRegenerated: "recovery_codes_regenerated",
	MetricTOTPEnabled:              "totp_enabled",
	MetricTOTPDisabled:             "totp_disabled",
	MetricResetRequested:           "reset_requested",
	MetricResetThrottled:           "reset_throttled",
	MetricResetConfirmed:           "reset_confirmed",
	MetricResetFailed:              "reset_failed",
	MetricSessionCreated:           "session_created",
	MetricSessionRevoked:           "session_revoked",
	MetricLogout:                   "logout",
	MetricLogoutAll:                "logout_all",
	MetricPermissionGranted:        "permission_granted",
	MetricPermissionRevoked:        "permission_revoked",
	MetricPermissionDenied:         "permission_denied",
	MetricTenantResolved:           "tenant_resolved",
	MetricTenantMiss:               "tenant_miss",
	MetricCrossTenantDenied:        "cross_tenant_denied",
	MetricAccountCreated:           "account_created",
	MetricAccountLockedOut:         "account_locked_out",
	MetricAccountUnlocked:          "account_unlocked",
	MetricPasswordChanged:          "password_changed",
}

// String returns the stable snake_case name used by exporters.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricIDs returns every counter ID in declaration order.
func MetricIDs() []MetricID {
	ids := make([]MetricID, metricIDCount)
	for i := range ids {
		ids[i] = MetricID(i)
	}
	return ids
}

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine's counters. All methods are safe for
// concurrent use and are no-ops on a nil or disabled receiver.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
