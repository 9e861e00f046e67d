package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openleague/leagueauth"
)

const namespace = "leagueauth"

// Source is the slice of the engine surface the collector reads.
// *leagueauth.Engine satisfies it.
type Source interface {
	MetricsSnapshot() leagueauth.MetricsSnapshot
	AuditDropped() uint64
}

// counterHelp carries the scrape-time HELP line per engine counter.
// Counters without an entry fall back to a generated line.
var counterHelp = map[leagueauth.MetricID]string{
	leagueauth.MetricLoginSuccess:             "Logins that produced a session.",
	leagueauth.MetricLoginFailure:             "Login attempts rejected for bad credentials.",
	leagueauth.MetricLoginLocked:              "Login attempts refused while the account was locked.",
	leagueauth.MetricMFARequired:              "Logins paused for a second-factor challenge.",
	leagueauth.MetricMFASuccess:               "Completed second-factor verifications.",
	leagueauth.MetricMFAFailure:               "Failed second-factor verifications.",
	leagueauth.MetricRecoveryCodeUsed:         "Recovery codes consumed during login.",
	leagueauth.MetricRecoveryCodeFailed:       "Recovery code attempts matching no unused code.",
	leagueauth.MetricRecoveryCodesRegenerated: "Recovery code set regenerations.",
	leagueauth.MetricTOTPEnabled:              "Confirmed TOTP enrollments.",
	leagueauth.MetricTOTPDisabled:             "TOTP disablements.",
	leagueauth.MetricResetRequested:           "Accepted password reset requests.",
	leagueauth.MetricResetThrottled:           "Reset requests dropped by the per-requester throttle.",
	leagueauth.MetricResetConfirmed:           "Password resets completed with a valid token.",
	leagueauth.MetricResetFailed:              "Password reset confirmations rejected.",
	leagueauth.MetricSessionCreated:           "Server-side sessions created.",
	leagueauth.MetricSessionRevoked:           "Sessions revoked individually or in bulk.",
	leagueauth.MetricLogout:                   "Single-session logouts.",
	leagueauth.MetricLogoutAll:                "Whole-account logout operations.",
	leagueauth.MetricPermissionGranted:        "Editor permission grants.",
	leagueauth.MetricPermissionRevoked:        "Editor permission revocations.",
	leagueauth.MetricPermissionDenied:         "Permission checks that found no grant.",
	leagueauth.MetricTenantResolved:           "Requests resolved to an organization.",
	leagueauth.MetricTenantMiss:               "Requests no resolution rule matched.",
	leagueauth.MetricCrossTenantDenied:        "Operations refused for crossing organizations.",
	leagueauth.MetricAccountCreated:           "Organizations and member accounts created.",
	leagueauth.MetricAccountLockedOut:         "Accounts locked by consecutive failures.",
	leagueauth.MetricAccountUnlocked:          "Accounts unlocked by an admin or a completed reset.",
	leagueauth.MetricPasswordChanged:          "Password changes by authenticated users.",
}

type counterDesc struct {
	id   leagueauth.MetricID
	desc *prometheus.Desc
}

// Collector exposes every engine counter as leagueauth_<name>_total,
// plus leagueauth_audit_dropped_total for dispatcher backpressure. It
// reads a fresh snapshot on every scrape.
type Collector struct {
	source Source
	descs  []counterDesc
	drops  *prometheus.Desc
}

// NewCollector wraps source, usually a *leagueauth.Engine.
func NewCollector(source Source) *Collector {
	ids := leagueauth.MetricIDs()
	c := &Collector{
		source: source,
		descs:  make([]counterDesc, 0, len(ids)),
	}
	for _, id := range ids {
		help := counterHelp[id]
		if help == "" {
			help = "Engine counter " + id.String() + "."
		}
		c.descs = append(c.descs, counterDesc{
			id: id,
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", id.String()+"_total"),
				help, nil, nil,
			),
		})
	}
	c.drops = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "audit_dropped_total"),
		"Audit events shed by the dispatcher under backpressure.",
		nil, nil,
	)
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d.desc
	}
	ch <- c.drops
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.MetricsSnapshot()
	for _, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(snap.Counters[d.id]))
	}
	ch <- prometheus.MustNewConstMetric(c.drops, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// Handler registers a collector for source in a private registry and
// returns the scrape handler. Servers that share one registry across
// subsystems should register NewCollector themselves instead.
func Handler(source Source) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(source))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
