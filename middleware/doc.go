// Package middleware exposes HTTP guards for API-token clients that
// embed the engine behind their own router instead of mounting the
// full httpapi server.
//
// # Guards
//
//   - [RequireToken] verifies statelessly, no Redis call. Revoked
//     sessions ride out the remaining access-token TTL.
//   - [RequireStrict] adds a live-session check on top, so revocation
//     takes effect immediately at the cost of one Redis round trip per
//     request.
//
// Each guard reads the Authorization bearer header and injects the
// validated identity into the request context for [AuthFromContext].
//
// # What this package must NOT do
//
//   - Parse or mint tokens itself (the engine owns that).
//   - Make authorization decisions beyond pass or reject.
package middleware
