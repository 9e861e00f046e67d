package leagueauth

import (
	"context"
	"errors"
)

const (
	auditOrgCreated               = "org_created"
	auditUserCreated              = "user_created"
	auditUserActivated            = "user_activated"
	auditUserDeactivated          = "user_deactivated"
	auditUserUnlocked             = "user_unlocked"
	auditLoginSuccess             = "login_success"
	auditLoginFailed              = "login_failed"
	auditLoginLocked              = "login_locked"
	auditMFAChallengeIssued       = "mfa_challenge_issued"
	auditMFALoginSuccess          = "mfa_login_success"
	auditMFALoginFailed           = "mfa_login_failed"
	auditRecoveryCodeUsed         = "recovery_code_used"
	auditMFAEnabled               = "mfa_enabled"
	auditMFADisabled              = "mfa_disabled"
	auditRecoveryCodesRegenerated = "recovery_codes_regenerated"
	auditPasswordChanged          = "password_changed"
	auditPasswordResetRequested   = "password_reset_requested"
	auditPasswordResetCompleted   = "password_reset_completed"
	auditLogout                   = "logout"
	auditSessionsRevoked          = "sessions_revoked"
	auditPermissionGranted        = "permission_granted"
	auditPermissionRevoked        = "permission_revoked"
)

// AuditErrorCode is the sanitized error label recorded on failed events.
type AuditErrorCode string

const (
	auditErrTenantNotFound     AuditErrorCode = "tenant_not_found"
	auditErrCrossTenant        AuditErrorCode = "cross_tenant_access"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrPermissionDenied   AuditErrorCode = "permission_denied"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrMFAState           AuditErrorCode = "mfa_state"
	auditErrChallengeNotFound  AuditErrorCode = "challenge_not_found"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrInvalidRole        AuditErrorCode = "invalid_role"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	action string,
	success bool,
	userID string,
	orgID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	e.emitEntityAudit(ctx, action, success, userID, orgID, sessionID, "", "", err, metadataBuilder)
}

func (e *Engine) emitEntityAudit(
	ctx context.Context,
	action string,
	success bool,
	userID string,
	orgID string,
	sessionID string,
	entityType string,
	entityID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		Action:     action,
		UserID:     userID,
		OrgID:      orgID,
		SessionID:  sessionID,
		EntityType: entityType,
		EntityID:   entityID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// auditErrorCode flattens an engine error to a stable label. Only the
// label ever reaches sinks; messages and wrapped causes stay inside the
// process.
func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTenantNotFound):
		return auditErrTenantNotFound
	case errors.Is(err, ErrCrossTenantAccess):
		return auditErrCrossTenant
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenExpired):
		return auditErrInvalidToken
	case errors.Is(err, ErrResetThrottled):
		return auditErrRateLimited
	case errors.Is(err, ErrMFAVerificationFailed):
		return auditErrMFAInvalid
	case errors.Is(err, ErrMFANotEnabled),
		errors.Is(err, ErrMFAAlreadyEnabled),
		errors.Is(err, ErrMFANotPending):
		return auditErrMFAState
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrChallengeNotFound
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrSlugTaken),
		errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrDuplicate):
		return auditErrDuplicate
	case errors.Is(err, ErrRoleInvalid):
		return auditErrInvalidRole
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
