package leagueauth

import (
	"context"
	"strings"
	"time"
)

// Role is the coarse per-organization role attached to every user.
// Fine-grained editor capabilities are layered on top through
// EditorPermission rows; owner and admin bypass those entirely.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleAdmin       Role = "admin"
	RoleCoach       Role = "coach"
	RoleScorekeeper Role = "scorekeeper"
	RolePlayer      Role = "player"
	RoleViewer      Role = "viewer"
)

var knownRoles = map[Role]struct{}{
	RoleOwner:       {},
	RoleAdmin:       {},
	RoleCoach:       {},
	RoleScorekeeper: {},
	RolePlayer:      {},
	RoleViewer:      {},
}

// ParseRole normalizes and validates a role name. Empty input maps to
// RoleViewer, the lowest-privilege default.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleViewer, nil
	}
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownRoles[r]; !ok {
		return "", ErrRoleInvalid
	}
	return r, nil
}

// Privileged reports whether the role bypasses editor permission checks.
func (r Role) Privileged() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Organization is a tenant. Slug is the URL-stable identifier; every
// other entity in the system hangs off an organization ID.
type Organization struct {
	ID           string
	Name         string
	Slug         string
	CustomDomain string
	Timezone     string
	Locale       string
	Active       bool
	CreatedAt    time.Time
}

// User carries credentials and per-account security state. Lockout and
// reset-token state live directly on the row so a single update keeps
// them consistent with the password hash.
type User struct {
	ID           string
	OrgID        string
	Email        string
	PasswordHash string
	Role         Role
	Active       bool

	TOTPSecret  string
	TOTPEnabled bool

	FailedLoginAttempts int
	LockedUntil         *time.Time

	ResetTokenHash      string
	ResetTokenExpiresAt *time.Time

	LastLoginAt *time.Time
	LastLoginIP string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// scrubSecrets blanks hash and secret material before a row crosses the
// engine boundary. Persisted state is unaffected.
func (u *User) scrubSecrets() {
	if u == nil {
		return
	}
	u.PasswordHash = ""
	u.TOTPSecret = ""
	u.ResetTokenHash = ""
}

// RecoveryCode is one single-use MFA fallback code. Only the SHA-256 of
// the normalized code is stored; the plaintext is shown exactly once at
// generation time.
type RecoveryCode struct {
	UserID    string
	OrgID     string
	CodeHash  string
	Used      bool
	CreatedAt time.Time
}

// EditorPermission grants one named capability to one user inside one
// organization. The vocabulary is open: callers define strings such as
// "create_article", "edit_own", "edit_all", "approve", "publish",
// "delete" or "manage_assets" and the engine never validates the names.
type EditorPermission struct {
	OrgID      string
	UserID     string
	Permission string
	GrantedBy  string
	CreatedAt  time.Time
}

// AuditEntry is one append-only audit row. OrgID or UserID may be empty
// when a failure happened before tenant or user resolution.
type AuditEntry struct {
	ID         string
	OrgID      string
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]string
	Success    bool
	IP         string
	CreatedAt  time.Time
}

// Store is the persistence port the engine is built against. The engine
// never reaches the database directly; store/sqlstore and store/memory
// provide the shipped implementations.
type Store interface {
	Organizations() OrganizationStore
	Users() UserStore
	Permissions() PermissionStore
	Audit() AuditStore
}

// OrganizationStore persists tenants. Lookup misses return ErrNotFound.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	GetByID(ctx context.Context, id string) (*Organization, error)
	GetBySlug(ctx context.Context, slug string) (*Organization, error)
	GetByDomain(ctx context.Context, domain string) (*Organization, error)
	ListActive(ctx context.Context) ([]*Organization, error)
	Update(ctx context.Context, org *Organization) error
}

// UserStore persists users and their recovery codes. Email lookups are
// case-insensitive. Lookup misses return ErrNotFound.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, orgID, id string) (*User, error)
	GetByEmail(ctx context.Context, orgID, email string) (*User, error)
	// FindByEmail searches across every organization. It exists solely
	// for the login-time tenant fallback and for operator tooling.
	FindByEmail(ctx context.Context, email string) ([]*User, error)
	ListByOrg(ctx context.Context, orgID string) ([]*User, error)
	GetByResetTokenHash(ctx context.Context, tokenHash string) (*User, error)
	Update(ctx context.Context, u *User) error

	ReplaceRecoveryCodes(ctx context.Context, orgID, userID string, codes []*RecoveryCode) error
	RecoveryCodes(ctx context.Context, orgID, userID string) ([]*RecoveryCode, error)
	// ConsumeRecoveryCode atomically marks the matching unused code as
	// used. It reports false when no unused code matches.
	ConsumeRecoveryCode(ctx context.Context, orgID, userID, codeHash string) (bool, error)
}

// PermissionStore persists editor permission grants.
type PermissionStore interface {
	Grant(ctx context.Context, p *EditorPermission) error
	Get(ctx context.Context, orgID, userID, permission string) (*EditorPermission, error)
	Revoke(ctx context.Context, orgID, userID, permission string) (bool, error)
	ListForUser(ctx context.Context, orgID, userID string) ([]*EditorPermission, error)
}

// AuditStore persists audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListRecent(ctx context.Context, orgID string, limit int) ([]*AuditEntry, error)
}

// EmailSender delivers a composed message. Implementations are expected
// to be best-effort: the engine invokes them asynchronously, applies a
// bounded timeout, and never fails an operation on a send error.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// LoginRequest carries everything the login flow needs to resolve a
// tenant and authenticate. Host and StickySlug come from the transport;
// OrgSlug is the explicit override (form field or query parameter).
type LoginRequest struct {
	Email      string
	Password   string
	OrgSlug    string
	Host       string
	StickySlug string
	RememberMe bool
	RedirectTo string
}

// LoginResult is returned by Login and VerifyLoginMFA. When
// MFARequired is set, no session exists yet and ChallengeID must be
// echoed back through VerifyLoginMFA together with a code.
type LoginResult struct {
	User *User
	Org  *Organization

	SessionID string
	ExpiresAt time.Time

	MFARequired bool
	ChallengeID string

	// UsedRecoveryCode is set when the login completed through a
	// recovery code; RecoveryCodesLeft then carries the remaining
	// unused count so boundaries can warn the user.
	UsedRecoveryCode  bool
	RecoveryCodesLeft int

	RedirectTo string
}

// AuthContext identifies the caller of an authenticated request, as
// established from a session cookie or an API access token.
type AuthContext struct {
	UserID    string
	OrgID     string
	Role      Role
	SessionID string
}

// TOTPEnrollment is returned by BeginTOTPEnrollment. QRPNG holds a
// server-rendered PNG of the otpauth URL sized for enrollment pages.
type TOTPEnrollment struct {
	Secret string
	URL    string
	QRPNG  []byte
}

// SignupRequest creates an organization together with its owner user.
type SignupRequest struct {
	Name       string
	Slug       string
	OwnerEmail string
	Password   string
	Timezone   string
	Locale     string
}

// CreateUserRequest is the admin-facing user creation input. Role
// defaults to viewer when empty.
type CreateUserRequest struct {
	OrgID    string
	Email    string
	Password string
	Role     Role
}
