// Package session persists server-side web sessions and transient
// pending-MFA login challenges in Redis. Records are compact binary
// blobs with a leading format version so deployed readers can keep
// decoding across upgrades.
package session

// Session is one authenticated browser session. Timestamps are Unix
// seconds; ExpiresAt is the absolute cap regardless of sliding renewal.
type Session struct {
	ID         string
	UserID     string
	OrgID      string
	Role       string
	RememberMe bool
	IP         string
	CreatedAt  int64
	ExpiresAt  int64
}

// Challenge is the state parked between a correct password and a
// correct second factor. It is deleted explicitly on every exit path;
// the Redis TTL is only a backstop against abandoned logins.
type Challenge struct {
	ID         string
	UserID     string
	OrgID      string
	OrgSlug    string
	RememberMe bool
	RedirectTo string
	Attempts   uint8
	ExpiresAt  int64
}
