package leagueauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/openleague/leagueauth/internal/secrets"
	"github.com/openleague/leagueauth/session"
)

// MFAMethod selects the verifier for one pending-login attempt. The
// two methods are exclusive per attempt.
type MFAMethod string

const (
	MFAMethodTOTP     MFAMethod = "totp"
	MFAMethodRecovery MFAMethod = "recovery"
)

// Login runs the full first-factor flow: tenant resolution, lockout
// gate, credential check, and either session creation or a pending-MFA
// challenge. The lock is checked before the password so a locked
// account leaks nothing about credential validity.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailed, false, "", "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "missing_input"}
		})
		return nil, ErrInvalidCredentials
	}

	org, _, err := e.ResolveTenant(ctx, TenantRequest{
		ExplicitSlug: req.OrgSlug,
		Host:         req.Host,
		StickySlug:   req.StickySlug,
		LoginEmail:   email,
	})
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditLoginFailed, false, "", "", "", err, func() map[string]string {
				return map[string]string{"email": email, "reason": "tenant_not_found"}
			})
		}
		return nil, err
	}

	user, err := e.store.Users().GetByEmail(ctx, org.ID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditLoginFailed, false, "", org.ID, "", ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"email": email, "reason": "user_not_found"}
			})
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	if err := e.gateLoginUser(ctx, user); err != nil {
		return nil, err
	}

	ok, err := e.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil || !ok {
		if _, recErr := e.recordFailedAttempt(ctx, user); recErr != nil {
			return nil, recErr
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailed, false, user.ID, org.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"email": email, "reason": "password_mismatch"}
		})
		return nil, ErrInvalidCredentials
	}

	if e.config.Password.UpgradeOnLogin {
		if needsRehash, _ := e.hasher.NeedsRehash(user.PasswordHash); needsRehash {
			if upgraded, hashErr := e.hasher.Hash(req.Password); hashErr == nil {
				// Persisted by the next user-row write on this path.
				user.PasswordHash = upgraded
			}
		}
	}

	if user.TOTPEnabled {
		return e.issueChallenge(ctx, org, user, req)
	}

	return e.finalizeLogin(ctx, org, user, req.RememberMe, req.RedirectTo, loginFinalize{method: "password"})
}

// VerifyLoginMFA completes a pending login with a TOTP code or a
// recovery code. Every exit path clears or keeps the challenge
// explicitly; the TTL is only a backstop.
func (e *Engine) VerifyLoginMFA(ctx context.Context, orgID, challengeID, code string, method MFAMethod) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if method != MFAMethodTOTP && method != MFAMethodRecovery {
		return nil, fmt.Errorf("login mfa: unknown method %q", method)
	}

	ch, err := e.pending.Get(ctx, orgID, challengeID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	org, err := e.store.Organizations().GetByID(ctx, ch.OrgID)
	if err != nil || !org.Active {
		_ = e.pending.Delete(ctx, orgID, challengeID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}
		return nil, ErrChallengeNotFound
	}

	user, err := e.store.Users().GetByID(ctx, ch.OrgID, ch.UserID)
	if err != nil {
		_ = e.pending.Delete(ctx, orgID, challengeID)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	// Account state may have changed since the first factor passed.
	if err := e.gateLoginUser(ctx, user); err != nil {
		_ = e.pending.Delete(ctx, orgID, challengeID)
		return nil, err
	}

	verified := false
	switch method {
	case MFAMethodTOTP:
		verified = user.TOTPEnabled && e.totp.validate(code, user.TOTPSecret, e.now())
	case MFAMethodRecovery:
		hash := secrets.HashRecoveryCode(code)
		consumed, consumeErr := e.store.Users().ConsumeRecoveryCode(ctx, ch.OrgID, user.ID, hash)
		if consumeErr != nil {
			return nil, errors.Join(ErrStoreUnavailable, consumeErr)
		}
		verified = consumed
	}

	if !verified {
		if _, recErr := e.recordFailedAttempt(ctx, user); recErr != nil {
			return nil, recErr
		}
		e.metricInc(MetricMFAFailure)
		if method == MFAMethodRecovery {
			e.metricInc(MetricRecoveryCodeFailed)
		}

		_, attemptErr := e.pending.RecordFailure(ctx, orgID, challengeID, e.config.Challenge.MaxAttempts)
		exhausted := errors.Is(attemptErr, session.ErrAttemptsExceeded)
		if attemptErr != nil && !exhausted {
			return nil, errors.Join(ErrStoreUnavailable, attemptErr)
		}

		e.emitAudit(ctx, auditMFALoginFailed, false, user.ID, ch.OrgID, "", ErrMFAVerificationFailed, func() map[string]string {
			m := map[string]string{"email": user.Email, "method": string(method)}
			if exhausted {
				m["reason"] = "attempts_exceeded"
			}
			return m
		})
		return nil, ErrMFAVerificationFailed
	}

	if err := e.pending.Delete(ctx, orgID, challengeID); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	fin := loginFinalize{method: string(method)}
	if method == MFAMethodRecovery {
		fin.usedRecoveryCode = true
		fin.recoveryCodesLeft = e.countUnusedRecoveryCodes(ctx, ch.OrgID, user.ID)
		e.metricInc(MetricRecoveryCodeUsed)
		e.emitAudit(ctx, auditRecoveryCodeUsed, true, user.ID, ch.OrgID, "", nil, func() map[string]string {
			return map[string]string{"email": user.Email}
		})
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditMFALoginSuccess, true, user.ID, ch.OrgID, "", nil, func() map[string]string {
		return map[string]string{"email": user.Email, "method": string(method)}
	})

	return e.finalizeLogin(ctx, org, user, ch.RememberMe, ch.RedirectTo, fin)
}

// AbandonLoginMFA clears a pending challenge on the boundary's cancel
// path. Unknown challenges are not an error.
func (e *Engine) AbandonLoginMFA(ctx context.Context, orgID, challengeID string) error {
	if e == nil || e.pending == nil {
		return ErrEngineNotReady
	}
	if err := e.pending.Delete(ctx, orgID, challengeID); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Logout deletes one session. Deleting an absent session succeeds.
func (e *Engine) Logout(ctx context.Context, orgID, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	err := e.sessions.Delete(ctx, orgID, sessionID)
	if err == nil {
		e.metricInc(MetricLogout)
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditLogout, err == nil, "", orgID, sessionID, err, nil)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// LogoutAll revokes every session the user holds in the organization
// and reports how many were live.
func (e *Engine) LogoutAll(ctx context.Context, orgID, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	n, err := e.sessions.DeleteAllForUser(ctx, orgID, userID)
	if err != nil {
		e.emitAudit(ctx, auditSessionsRevoked, false, userID, orgID, "", err, nil)
		return 0, errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditSessionsRevoked, true, userID, orgID, "", nil, func() map[string]string {
		return map[string]string{"reason": "logout_all"}
	})
	return n, nil
}

type loginFinalize struct {
	method            string
	usedRecoveryCode  bool
	recoveryCodesLeft int
}

// gateLoginUser applies the lock and active checks that run before any
// credential or second-factor verification. A lock that has elapsed is
// cleared and persisted here.
func (e *Engine) gateLoginUser(ctx context.Context, user *User) error {
	locked, cleared := e.lockoutPolicy().Locked(user, e.now())
	if cleared {
		user.UpdatedAt = e.now()
		if err := e.store.Users().Update(ctx, user); err != nil {
			return errors.Join(ErrStoreUnavailable, err)
		}
	}
	if locked {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditLoginLocked, false, user.ID, user.OrgID, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{"email": user.Email, "reason": "account_locked"}
		})
		return ErrAccountLocked
	}

	if !user.Active {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailed, false, user.ID, user.OrgID, "", ErrAccountInactive, func() map[string]string {
			return map[string]string{"email": user.Email, "reason": "account_inactive"}
		})
		return ErrAccountInactive
	}

	return nil
}

// recordFailedAttempt bumps the lockout counter, persists the row, and
// audits a lock transition when this attempt tripped it.
func (e *Engine) recordFailedAttempt(ctx context.Context, user *User) (bool, error) {
	tripped := e.lockoutPolicy().RecordFailure(user, e.now())
	user.UpdatedAt = e.now()
	if err := e.store.Users().Update(ctx, user); err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}

	if tripped {
		e.metricInc(MetricAccountLockedOut)
		e.emitAudit(ctx, auditLoginLocked, false, user.ID, user.OrgID, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{"email": user.Email, "reason": "account_locked"}
		})
	}
	return tripped, nil
}

func (e *Engine) issueChallenge(ctx context.Context, org *Organization, user *User, req LoginRequest) (*LoginResult, error) {
	challengeID, err := secrets.NewChallengeID()
	if err != nil {
		return nil, err
	}

	now := e.now()
	ch := &session.Challenge{
		ID:         challengeID,
		UserID:     user.ID,
		OrgID:      org.ID,
		OrgSlug:    org.Slug,
		RememberMe: req.RememberMe,
		RedirectTo: req.RedirectTo,
		ExpiresAt:  now.Add(e.config.Challenge.TTL).Unix(),
	}
	if err := e.pending.Create(ctx, ch, e.config.Challenge.TTL); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditMFAChallengeIssued, true, user.ID, org.ID, "", nil, func() map[string]string {
		return map[string]string{"email": user.Email}
	})

	user.scrubSecrets()

	return &LoginResult{
		User:        user,
		Org:         org,
		MFARequired: true,
		ChallengeID: challengeID,
		RedirectTo:  req.RedirectTo,
	}, nil
}

// finalizeLogin is the single success path shared by the password-only
// flow and both MFA verifiers.
func (e *Engine) finalizeLogin(ctx context.Context, org *Organization, user *User, rememberMe bool, redirectTo string, fin loginFinalize) (*LoginResult, error) {
	now := e.now()

	e.lockoutPolicy().ResetFailures(user)
	loginAt := now
	user.LastLoginAt = &loginAt
	user.LastLoginIP = clientIPFromContext(ctx)
	user.UpdatedAt = now
	if err := e.store.Users().Update(ctx, user); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	sessionID, err := secrets.NewSessionID()
	if err != nil {
		return nil, err
	}

	lifetime := e.config.Session.Lifetime
	if rememberMe {
		lifetime = e.config.Session.RememberMeLifetime
	}
	expiresAt := now.Add(lifetime)

	sess := &session.Session{
		ID:         sessionID,
		UserID:     user.ID,
		OrgID:      org.ID,
		Role:       string(user.Role),
		RememberMe: rememberMe,
		IP:         user.LastLoginIP,
		CreatedAt:  now.Unix(),
		ExpiresAt:  expiresAt.Unix(),
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditLoginSuccess, true, user.ID, org.ID, sessionID, nil, func() map[string]string {
		return map[string]string{"email": user.Email, "method": fin.method}
	})

	user.scrubSecrets()

	return &LoginResult{
		User:              user,
		Org:               org,
		SessionID:         sessionID,
		ExpiresAt:         expiresAt,
		UsedRecoveryCode:  fin.usedRecoveryCode,
		RecoveryCodesLeft: fin.recoveryCodesLeft,
		RedirectTo:        redirectTo,
	}, nil
}

func (e *Engine) lockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold: e.config.Security.LockoutThreshold,
		Duration:  e.config.Security.LockoutDuration,
	}
}

// countUnusedRecoveryCodes is best-effort for the post-login warning.
func (e *Engine) countUnusedRecoveryCodes(ctx context.Context, orgID, userID string) int {
	codes, err := e.store.Users().RecoveryCodes(ctx, orgID, userID)
	if err != nil {
		return 0
	}
	left := 0
	for _, c := range codes {
		if !c.Used {
			left++
		}
	}
	return left
}
