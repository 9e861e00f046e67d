// Package leagueauth provides tenant-scoped authentication and
// authorization for multi-tenant league platforms: tenant resolution
// from slug/host/session, argon2id credentials with lockout, TOTP
// second factor with single-use recovery codes, password reset tokens,
// Redis-backed sessions, per-editor permissions, and an async audit
// trail.
//
// The package is designed for concurrent server workloads: Engine
// methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// leagueauth is the public surface. It exposes [Engine], [Builder],
// [Config], the [Store] persistence port, and value types
// (LoginResult, AuthContext, AuditEntry, MetricsSnapshot). Session
// encoding, throttling, and helper crypto live under internal/ and
// session/ and are never part of the API contract.
//
// # What this package must NOT do
//
//   - Expose Redis clients, SQL handles, or record encodings in its
//     public API.
//   - Perform I/O outside of Engine methods (construction via Builder
//     is allocation-only until Build).
//   - Leak password hashes, TOTP secrets, or token values through
//     errors, audit metadata, or logs.
//
// # Tenancy contract
//
// Every user, permission, session, and audit row is scoped to one
// organization. Lookups that cross organizations fail exactly like
// lookups for rows that do not exist.
package leagueauth
