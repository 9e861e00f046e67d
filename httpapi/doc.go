// Package httpapi mounts the engine behind a chi router: cookie
// sessions for browsers, JSON request/response bodies, and an error
// envelope that never exposes internals. Middleware order is panic
// recovery, request ID, structured request logging, security headers,
// CORS, then per-route client-IP rate limits in front of the
// credential endpoints.
//
// Sessions ride an HttpOnly SameSite=Lax cookie scoped to the resolved
// organization; a second, readable cookie remembers the organization
// slug so later visits resolve the tenant without retyping it.
//
// Cross-tenant references are rendered as plain 404s. Reset token
// failures are rendered as one generic message whether the token was
// wrong, burned or expired.
package httpapi
