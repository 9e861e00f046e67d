package leagueauth

import (
	"context"
	"errors"

	"github.com/openleague/leagueauth/internal/secrets"
)

// BeginTOTPEnrollment generates a fresh secret and stores it in the
// not-yet-enabled state. The secret only becomes the active second
// factor after ConfirmTOTPEnrollment verifies one code against it.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, orgID, userID string) (*TOTPEnrollment, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	org, user, err := e.loadOrgUser(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if user.TOTPEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	key, err := e.totp.generate(org.Name, user.Email)
	if err != nil {
		return nil, err
	}
	png, err := e.totp.qrPNG(key)
	if err != nil {
		return nil, err
	}

	user.TOTPSecret = key.Secret()
	user.UpdatedAt = e.now()
	if err := e.store.Users().Update(ctx, user); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	return &TOTPEnrollment{
		Secret: key.Secret(),
		URL:    key.URL(),
		QRPNG:  png,
	}, nil
}

// ConfirmTOTPEnrollment verifies one code against the pending secret,
// enables the second factor, and mints the recovery code set. The
// plaintext codes are returned exactly once.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, orgID, userID, code string) ([]string, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	_, user, err := e.loadOrgUser(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if user.TOTPEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	if user.TOTPSecret == "" {
		return nil, ErrMFANotPending
	}

	if !e.totp.validate(code, user.TOTPSecret, e.now()) {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditMFALoginFailed, false, user.ID, orgID, "", ErrMFAVerificationFailed, func() map[string]string {
			return map[string]string{"email": user.Email, "reason": "enrollment_code_mismatch"}
		})
		return nil, ErrMFAVerificationFailed
	}

	codes, err := e.mintRecoveryCodes(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}

	user.TOTPEnabled = true
	user.UpdatedAt = e.now()
	if err := e.store.Users().Update(ctx, user); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricTOTPEnabled)
	e.emitAudit(ctx, auditMFAEnabled, true, user.ID, orgID, "", nil, func() map[string]string {
		return map[string]string{"email": user.Email}
	})

	return codes, nil
}

// DisableTOTP turns the second factor off after a password re-auth and
// destroys the secret and every recovery code.
func (e *Engine) DisableTOTP(ctx context.Context, orgID, userID, password string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	_, user, err := e.loadOrgUser(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if !user.TOTPEnabled {
		return ErrMFANotEnabled
	}

	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditMFADisabled, false, user.ID, orgID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"email": user.Email, "reason": "password_mismatch"}
		})
		return ErrInvalidCredentials
	}

	user.TOTPSecret = ""
	user.TOTPEnabled = false
	user.UpdatedAt = e.now()
	if err := e.store.Users().Update(ctx, user); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if err := e.store.Users().ReplaceRecoveryCodes(ctx, orgID, userID, nil); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditMFADisabled, true, user.ID, orgID, "", nil, func() map[string]string {
		return map[string]string{"email": user.Email}
	})
	return nil
}

// RegenerateRecoveryCodes replaces the full recovery set after a
// password re-auth. Previously issued codes stop working immediately.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, orgID, userID, password string) ([]string, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	_, user, err := e.loadOrgUser(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if !user.TOTPEnabled {
		return nil, ErrMFANotEnabled
	}

	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	codes, err := e.mintRecoveryCodes(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRecoveryCodesRegenerated)
	e.emitAudit(ctx, auditRecoveryCodesRegenerated, true, user.ID, orgID, "", nil, func() map[string]string {
		return map[string]string{"email": user.Email}
	})
	return codes, nil
}

// loadOrgUser fetches an org-scoped user, collapsing cross-org and
// missing rows into the same not-found shape.
func (e *Engine) loadOrgUser(ctx context.Context, orgID, userID string) (*Organization, *User, error) {
	org, err := e.store.Organizations().GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrTenantNotFound
		}
		return nil, nil, errors.Join(ErrStoreUnavailable, err)
	}

	user, err := e.store.Users().GetByID(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, errors.Join(ErrStoreUnavailable, err)
	}
	if err := e.requireSameOrg(orgID, user.OrgID); err != nil {
		return nil, nil, err
	}

	return org, user, nil
}

func (e *Engine) mintRecoveryCodes(ctx context.Context, orgID, userID string) ([]string, error) {
	count := e.config.TOTP.RecoveryCodeCount
	now := e.now()

	plain := make([]string, 0, count)
	rows := make([]*RecoveryCode, 0, count)
	for i := 0; i < count; i++ {
		code, err := secrets.NewRecoveryCode()
		if err != nil {
			return nil, err
		}
		plain = append(plain, code)
		rows = append(rows, &RecoveryCode{
			UserID:    userID,
			OrgID:     orgID,
			CodeHash:  secrets.HashRecoveryCode(code),
			CreatedAt: now,
		})
	}

	if err := e.store.Users().ReplaceRecoveryCodes(ctx, orgID, userID, rows); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return plain, nil
}
