package leagueauth

import (
	"context"
	"errors"
)

// HasPermission answers the authorization question for one user and
// one permission name. Owners and admins bypass the per-editor rows;
// inactive users hold nothing. The vocabulary is open: unknown names
// are simply permissions nobody was granted.
func (e *Engine) HasPermission(ctx context.Context, user *User, permission string) (bool, error) {
	if e == nil || e.store == nil {
		return false, ErrEngineNotReady
	}
	if user == nil || permission == "" {
		return false, nil
	}
	if !user.Active {
		return false, nil
	}
	if user.Role.Privileged() {
		return true, nil
	}

	_, err := e.store.Permissions().Get(ctx, user.OrgID, user.ID, permission)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metricInc(MetricPermissionDenied)
			return false, nil
		}
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	return true, nil
}

// GrantPermission records an editor grant. Granting an already-held
// permission returns the existing row unchanged.
func (e *Engine) GrantPermission(ctx context.Context, actor *AuthContext, orgID, userID, permission string) (*EditorPermission, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.requireAdminActor(actor, orgID); err != nil {
		return nil, err
	}
	if permission == "" {
		return nil, ErrNotFound
	}

	if _, _, err := e.loadOrgUser(ctx, orgID, userID); err != nil {
		return nil, err
	}

	existing, err := e.store.Permissions().Get(ctx, orgID, userID, permission)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	grant := &EditorPermission{
		OrgID:      orgID,
		UserID:     userID,
		Permission: permission,
		GrantedBy:  actor.UserID,
		CreatedAt:  e.now(),
	}
	if err := e.store.Permissions().Grant(ctx, grant); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Lost a race with an identical grant.
			return e.store.Permissions().Get(ctx, orgID, userID, permission)
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricPermissionGranted)
	e.emitEntityAudit(ctx, auditPermissionGranted, true, actor.UserID, orgID, actor.SessionID, "user", userID, nil, func() map[string]string {
		return map[string]string{"permission": permission}
	})
	return grant, nil
}

// RevokePermission removes an editor grant. Revoking an absent grant
// reports false with no error.
func (e *Engine) RevokePermission(ctx context.Context, actor *AuthContext, orgID, userID, permission string) (bool, error) {
	if e == nil || e.store == nil {
		return false, ErrEngineNotReady
	}
	if err := e.requireAdminActor(actor, orgID); err != nil {
		return false, err
	}

	removed, err := e.store.Permissions().Revoke(ctx, orgID, userID, permission)
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	if !removed {
		return false, nil
	}

	e.metricInc(MetricPermissionRevoked)
	e.emitEntityAudit(ctx, auditPermissionRevoked, true, actor.UserID, orgID, actor.SessionID, "user", userID, nil, func() map[string]string {
		return map[string]string{"permission": permission}
	})
	return true, nil
}

// UserPermissions lists the user's explicit grants. Role bypasses are
// not expanded here; callers combine this with the role as needed.
func (e *Engine) UserPermissions(ctx context.Context, orgID, userID string) ([]string, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	rows, err := e.store.Permissions().ListForUser(ctx, orgID, userID)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	perms := make([]string, 0, len(rows))
	for _, row := range rows {
		perms = append(perms, row.Permission)
	}
	return perms, nil
}

// requireAdminActor gates management operations: the actor must belong
// to the target organization and hold a privileged role. Cross-org
// actors get the same answer a missing resource would.
func (e *Engine) requireAdminActor(actor *AuthContext, orgID string) error {
	if actor == nil {
		return ErrPermissionDenied
	}
	if err := e.requireSameOrg(orgID, actor.OrgID); err != nil {
		return err
	}
	if !actor.Role.Privileged() {
		e.metricInc(MetricPermissionDenied)
		return ErrPermissionDenied
	}
	return nil
}
