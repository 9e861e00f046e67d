// Package memory implements the engine's Store port with process-local
// maps. It backs the test suites and single-node development setups;
// production deployments use store/sqlstore.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	leagueauth "github.com/openleague/leagueauth"
)

// Store holds every table behind one RWMutex. A single lock keeps the
// cross-row operations (recovery code consumption, uniqueness checks on
// update) atomic without per-table coordination.
type Store struct {
	mu sync.RWMutex

	orgs       map[string]*leagueauth.Organization
	orgSlugs   map[string]string
	orgDomains map[string]string

	users      map[string]*leagueauth.User
	userEmails map[string]string

	codes map[string][]*leagueauth.RecoveryCode
	perms map[string]*leagueauth.EditorPermission

	audit []*leagueauth.AuditEntry
}

func New() *Store {
	return &Store{
		orgs:       make(map[string]*leagueauth.Organization),
		orgSlugs:   make(map[string]string),
		orgDomains: make(map[string]string),
		users:      make(map[string]*leagueauth.User),
		userEmails: make(map[string]string),
		codes:      make(map[string][]*leagueauth.RecoveryCode),
		perms:      make(map[string]*leagueauth.EditorPermission),
	}
}

func (s *Store) Organizations() leagueauth.OrganizationStore { return organizations{s} }
func (s *Store) Users() leagueauth.UserStore                 { return users{s} }
func (s *Store) Permissions() leagueauth.PermissionStore     { return permissions{s} }
func (s *Store) Audit() leagueauth.AuditStore                { return auditLog{s} }

func userKey(orgID, userID string) string {
	return orgID + "/" + userID
}

func emailKey(orgID, email string) string {
	return orgID + "/" + strings.ToLower(strings.TrimSpace(email))
}

func permKey(orgID, userID, permission string) string {
	return orgID + "/" + userID + "/" + permission
}

type organizations struct{ s *Store }

func (o organizations) Create(ctx context.Context, org *leagueauth.Organization) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	if _, ok := o.s.orgs[org.ID]; ok {
		return leagueauth.ErrDuplicate
	}
	if _, ok := o.s.orgSlugs[org.Slug]; ok {
		return leagueauth.ErrDuplicate
	}
	if org.CustomDomain != "" {
		if _, ok := o.s.orgDomains[org.CustomDomain]; ok {
			return leagueauth.ErrDuplicate
		}
	}

	o.s.orgs[org.ID] = cloneOrg(org)
	o.s.orgSlugs[org.Slug] = org.ID
	if org.CustomDomain != "" {
		o.s.orgDomains[org.CustomDomain] = org.ID
	}
	return nil
}

func (o organizations) GetByID(ctx context.Context, id string) (*leagueauth.Organization, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()

	org, ok := o.s.orgs[id]
	if !ok {
		return nil, leagueauth.ErrNotFound
	}
	return cloneOrg(org), nil
}

func (o organizations) GetBySlug(ctx context.Context, slug string) (*leagueauth.Organization, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()

	id, ok := o.s.orgSlugs[slug]
	if !ok {
		return nil, leagueauth.ErrNotFound
	}
	return cloneOrg(o.s.orgs[id]), nil
}

func (o organizations) GetByDomain(ctx context.Context, domain string) (*leagueauth.Organization, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()

	if domain == "" {
		return nil, leagueauth.ErrNotFound
	}
	id, ok := o.s.orgDomains[domain]
	if !ok {
		return nil, leagueauth.ErrNotFound
	}
	return cloneOrg(o.s.orgs[id]), nil
}

func (o organizations) ListActive(ctx context.Context) ([]*leagueauth.Organization, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()

	var out []*leagueauth.Organization
	for _, org := range o.s.orgs {
		if org.Active {
			out = append(out, cloneOrg(org))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (o organizations) Update(ctx context.Context, org *leagueauth.Organization) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	current, ok := o.s.orgs[org.ID]
	if !ok {
		return leagueauth.ErrNotFound
	}
	if org.Slug != current.Slug {
		if owner, taken := o.s.orgSlugs[org.Slug]; taken && owner != org.ID {
			return leagueauth.ErrDuplicate
		}
	}
	if org.CustomDomain != "" && org.CustomDomain != current.CustomDomain {
		if owner, taken := o.s.orgDomains[org.CustomDomain]; taken && owner != org.ID {
			return leagueauth.ErrDuplicate
		}
	}

	delete(o.s.orgSlugs, current.Slug)
	if current.CustomDomain != "" {
		delete(o.s.orgDomains, current.CustomDomain)
	}
	o.s.orgs[org.ID] = cloneOrg(org)
	o.s.orgSlugs[org.Slug] = org.ID
	if org.CustomDomain != "" {
		o.s.orgDomains[org.CustomDomain] = org.ID
	}
	return nil
}

type users struct{ s *Store }

func (u users) Create(ctx context.Context, user *leagueauth.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	key := userKey(user.OrgID, user.ID)
	if _, ok := u.s.users[key]; ok {
		return leagueauth.ErrDuplicate
	}
	ekey := emailKey(user.OrgID, user.Email)
	if _, ok := u.s.userEmails[ekey]; ok {
		return leagueauth.ErrDuplicate
	}

	u.s.users[key] = cloneUser(user)
	u.s.userEmails[ekey] = user.ID
	return nil
}

func (u users) GetByID(ctx context.Context, orgID, id string) (*leagueauth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	user, ok := u.s.users[userKey(orgID, id)]
	if !ok {
		return nil, leagueauth.ErrNotFound
	}
	return cloneUser(user), nil
}

func (u users) GetByEmail(ctx context.Context, orgID, email string) (*leagueauth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	id, ok := u.s.userEmails[emailKey(orgID, email)]
	if !ok {
		return nil, leagueauth.ErrNotFound
	}
	return cloneUser(u.s.users[userKey(orgID, id)]), nil
}

func (u users) FindByEmail(ctx context.Context, email string) ([]*leagueauth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(email))
	var out []*leagueauth.User
	for _, user := range u.s.users {
		if strings.ToLower(user.Email) == needle {
			out = append(out, cloneUser(user))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgID < out[j].OrgID })
	return out, nil
}

func (u users) ListByOrg(ctx context.Context, orgID string) ([]*leagueauth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	var out []*leagueauth.User
	for _, user := range u.s.users {
		if user.OrgID == orgID {
			out = append(out, cloneUser(user))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (u users) GetByResetTokenHash(ctx context.Context, tokenHash string) (*leagueauth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	if tokenHash == "" {
		return nil, leagueauth.ErrNotFound
	}
	for _, user := range u.s.users {
		if user.ResetTokenHash == tokenHash {
			return cloneUser(user), nil
		}
	}
	return nil, leagueauth.ErrNotFound
}

func (u users) Update(ctx context.Context, user *leagueauth.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	key := userKey(user.OrgID, user.ID)
	current, ok := u.s.users[key]
	if !ok {
		return leagueauth.ErrNotFound
	}

	ekey := emailKey(user.OrgID, user.Email)
	oldKey := emailKey(current.OrgID, current.Email)
	if ekey != oldKey {
		if owner, taken := u.s.userEmails[ekey]; taken && owner != user.ID {
			return leagueauth.ErrDuplicate
		}
		delete(u.s.userEmails, oldKey)
		u.s.userEmails[ekey] = user.ID
	}

	u.s.users[key] = cloneUser(user)
	return nil
}

func (u users) ReplaceRecoveryCodes(ctx context.Context, orgID, userID string, codes []*leagueauth.RecoveryCode) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	key := userKey(orgID, userID)
	if len(codes) == 0 {
		delete(u.s.codes, key)
		return nil
	}
	stored := make([]*leagueauth.RecoveryCode, len(codes))
	for i, c := range codes {
		cc := *c
		stored[i] = &cc
	}
	u.s.codes[key] = stored
	return nil
}

func (u users) RecoveryCodes(ctx context.Context, orgID, userID string) ([]*leagueauth.RecoveryCode, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	stored := u.s.codes[userKey(orgID, userID)]
	out := make([]*leagueauth.RecoveryCode, len(stored))
	for i, c := range stored {
		cc := *c
		out[i] = &cc
	}
	return out, nil
}

func (u users) ConsumeRecoveryCode(ctx context.Context, orgID, userID, codeHash string) (bool, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	for _, c := range u.s.codes[userKey(orgID, userID)] {
		if !c.Used && c.CodeHash == codeHash {
			c.Used = true
			return true, nil
		}
	}
	return false, nil
}

type permissions struct{ s *Store }

func (p permissions) Grant(ctx context.Context, grant *leagueauth.EditorPermission) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	key := permKey(grant.OrgID, grant.UserID, grant.Permission)
	if _, ok := p.s.perms[key]; ok {
		return leagueauth.ErrDuplicate
	}
	cc := *grant
	p.s.perms[key] = &cc
	return nil
}

func (p permissions) Get(ctx context.Context, orgID, userID, permission string) (*leagueauth.EditorPermission, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	grant, ok := p.s.perms[permKey(orgID, userID, permission)]
	if !ok {
		return nil, leagueauth.ErrNotFound
	}
	cc := *grant
	return &cc, nil
}

func (p permissions) Revoke(ctx context.Context, orgID, userID, permission string) (bool, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	key := permKey(orgID, userID, permission)
	if _, ok := p.s.perms[key]; !ok {
		return false, nil
	}
	delete(p.s.perms, key)
	return true, nil
}

func (p permissions) ListForUser(ctx context.Context, orgID, userID string) ([]*leagueauth.EditorPermission, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	prefix := orgID + "/" + userID + "/"
	var out []*leagueauth.EditorPermission
	for key, grant := range p.s.perms {
		if strings.HasPrefix(key, prefix) {
			cc := *grant
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Permission < out[j].Permission })
	return out, nil
}

type auditLog struct{ s *Store }

func (a auditLog) Append(ctx context.Context, entry *leagueauth.AuditEntry) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	a.s.audit = append(a.s.audit, cloneEntry(entry))
	return nil
}

func (a auditLog) ListRecent(ctx context.Context, orgID string, limit int) ([]*leagueauth.AuditEntry, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var out []*leagueauth.AuditEntry
	for i := len(a.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		entry := a.s.audit[i]
		if orgID != "" && entry.OrgID != orgID {
			continue
		}
		out = append(out, cloneEntry(entry))
	}
	return out, nil
}

func cloneOrg(org *leagueauth.Organization) *leagueauth.Organization {
	cc := *org
	return &cc
}

func cloneUser(user *leagueauth.User) *leagueauth.User {
	cc := *user
	cc.LockedUntil = cloneTime(user.LockedUntil)
	cc.ResetTokenExpiresAt = cloneTime(user.ResetTokenExpiresAt)
	cc.LastLoginAt = cloneTime(user.LastLoginAt)
	return &cc
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cc := *t
	return &cc
}

func cloneEntry(entry *leagueauth.AuditEntry) *leagueauth.AuditEntry {
	cc := *entry
	if entry.Metadata != nil {
		cc.Metadata = make(map[string]string, len(entry.Metadata))
		for k, v := range entry.Metadata {
			cc.Metadata[k] = v
		}
	}
	return &cc
}
