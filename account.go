package leagueauth

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/openleague/leagueauth/internal/ids"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,62}[a-z0-9])?$`)

// SignupOrganization provisions a new organization together with its
// owner account. This is the only unauthenticated write the engine
// offers.
func (e *Engine) SignupOrganization(ctx context.Context, req SignupRequest) (*Organization, *User, error) {
	if e == nil || e.store == nil {
		return nil, nil, ErrEngineNotReady
	}

	name := strings.TrimSpace(req.Name)
	slug := NormalizeSlug(req.Slug)
	email := normalizeEmail(req.OwnerEmail)

	if name == "" || !slugPattern.MatchString(slug) {
		return nil, nil, ErrSlugInvalid
	}
	if email == "" {
		return nil, nil, ErrEmailInvalid
	}
	if err := e.config.Password.Policy.Validate(req.Password); err != nil {
		return nil, nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, nil, err
	}

	now := e.now()
	org := &Organization{
		ID:        ids.NewUUID(),
		Name:      name,
		Slug:      slug,
		Timezone:  defaultString(req.Timezone, "UTC"),
		Locale:    defaultString(req.Locale, "en"),
		Active:    true,
		CreatedAt: now,
	}
	if err := e.store.Organizations().Create(ctx, org); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, nil, ErrSlugTaken
		}
		return nil, nil, errors.Join(ErrStoreUnavailable, err)
	}

	owner := &User{
		ID:           ids.NewUUID(),
		OrgID:        org.ID,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleOwner,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.Users().Create(ctx, owner); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, nil, ErrEmailTaken
		}
		return nil, nil, errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricAccountCreated)
	e.emitEntityAudit(ctx, auditOrgCreated, true, owner.ID, org.ID, "", "organization", org.ID, nil, func() map[string]string {
		return map[string]string{"email": email}
	})
	e.emitEntityAudit(ctx, auditUserCreated, true, owner.ID, org.ID, "", "user", owner.ID, nil, func() map[string]string {
		return map[string]string{"email": email, "reason": "signup"}
	})

	owner.scrubSecrets()

	return org, owner, nil
}

// CreateUser adds a member to the actor's organization. The zero role
// is viewer.
func (e *Engine) CreateUser(ctx context.Context, actor *AuthContext, req CreateUserRequest) (*User, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.requireAdminActor(actor, req.OrgID); err != nil {
		return nil, err
	}

	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, ErrEmailInvalid
	}
	role, err := ParseRole(string(req.Role))
	if err != nil {
		return nil, err
	}
	if err := e.config.Password.Policy.Validate(req.Password); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	user := &User{
		ID:           ids.NewUUID(),
		OrgID:        req.OrgID,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricAccountCreated)
	e.emitEntityAudit(ctx, auditUserCreated, true, actor.UserID, req.OrgID, actor.SessionID, "user", user.ID, nil, func() map[string]string {
		return map[string]string{"email": email}
	})

	user.scrubSecrets()

	return user, nil
}

// GetUser fetches one member of orgID with secret material blanked.
// Boundaries use it for self profiles; tenancy is enforced by the
// org-scoped lookup.
func (e *Engine) GetUser(ctx context.Context, orgID, userID string) (*User, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	_, user, err := e.loadOrgUser(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}

	user.scrubSecrets()

	return user, nil
}

// ListUsers returns every member of the actor's organization ordered
// by email, secret material blanked.
func (e *Engine) ListUsers(ctx context.Context, actor *AuthContext, orgID string) ([]*User, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.requireAdminActor(actor, orgID); err != nil {
		return nil, err
	}

	users, err := e.store.Users().ListByOrg(ctx, orgID)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	for _, u := range users {
		u.scrubSecrets()
	}
	return users, nil
}

// SetUserActive flips an account on or off. Deactivation revokes every
// session the user holds; a no-op transition changes and audits
// nothing.
func (e *Engine) SetUserActive(ctx context.Context, actor *AuthContext, orgID, userID string, active bool) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.requireAdminActor(actor, orgID); err != nil {
		return err
	}

	_, user, err := e.loadOrgUser(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if user.Active == active {
		return nil
	}

	user.Active = active
	user.UpdatedAt = e.now()
	if err := e.store.Users().Update(ctx, user); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	action := auditUserActivated
	if !active {
		action = auditUserDeactivated
		if _, err := e.sessions.DeleteAllForUser(ctx, orgID, userID); err != nil {
			return errors.Join(ErrStoreUnavailable, err)
		}
	}

	e.emitEntityAudit(ctx, action, true, actor.UserID, orgID, actor.SessionID, "user", userID, nil, func() map[string]string {
		return map[string]string{"email": user.Email}
	})
	return nil
}

// UnlockUser clears the lockout state ahead of its natural expiry.
func (e *Engine) UnlockUser(ctx context.Context, actor *AuthContext, orgID, userID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.requireAdminActor(actor, orgID); err != nil {
		return err
	}

	_, user, err := e.loadOrgUser(ctx, orgID, userID)
	if err != nil {
		return err
	}

	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.UpdatedAt = e.now()
	if err := e.store.Users().Update(ctx, user); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricAccountUnlocked)
	e.emitEntityAudit(ctx, auditUserUnlocked, true, actor.UserID, orgID, actor.SessionID, "user", userID, nil, func() map[string]string {
		return map[string]string{"email": user.Email}
	})
	return nil
}

// ChangePassword is the self-service rotation: re-auth with the old
// password, policy-check the new one, and revoke every other session.
// keepSessionID names the caller's current session; pass "" to revoke
// all of them.
func (e *Engine) ChangePassword(ctx context.Context, orgID, userID, oldPassword, newPassword, keepSessionID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	_, user, err := e.loadOrgUser(ctx, orgID, userID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditPasswordChanged, false, userID, orgID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"email": user.Email, "reason": "password_mismatch"}
		})
		return ErrInvalidCredentials
	}

	if err := e.config.Password.Policy.Validate(newPassword); err != nil {
		return err
	}
	if same, err := e.hasher.Verify(newPassword, user.PasswordHash); err == nil && same {
		return ErrPasswordReuse
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	user.PasswordHash = hash
	user.ResetTokenHash = ""
	user.ResetTokenExpiresAt = nil
	user.UpdatedAt = e.now()
	if err := e.store.Users().Update(ctx, user); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	if err := e.revokeOtherSessions(ctx, orgID, userID, keepSessionID); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditPasswordChanged, true, userID, orgID, keepSessionID, nil, func() map[string]string {
		return map[string]string{"email": user.Email}
	})
	return nil
}

func (e *Engine) revokeOtherSessions(ctx context.Context, orgID, userID, keepSessionID string) error {
	if keepSessionID == "" {
		if _, err := e.sessions.DeleteAllForUser(ctx, orgID, userID); err != nil {
			return errors.Join(ErrStoreUnavailable, err)
		}
		return nil
	}

	sessionIDs, err := e.sessions.ActiveSessionIDs(ctx, orgID, userID)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	for _, id := range sessionIDs {
		if id == keepSessionID {
			continue
		}
		if err := e.sessions.Delete(ctx, orgID, id); err != nil {
			return errors.Join(ErrStoreUnavailable, err)
		}
		e.metricInc(MetricSessionRevoked)
	}
	return nil
}

func normalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.IndexByte(email, '@')
	if at < 1 || at == len(email)-1 {
		return ""
	}
	return email
}

func defaultString(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
