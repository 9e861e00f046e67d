package leagueauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/openleague/leagueauth/internal/secrets"
)

// resetGuardPrefix namespaces the reset-request throttle keys.
const resetGuardPrefix = "lrg"

// RequestPasswordReset issues a reset token for the matching active
// user and emails the link. The caller observes the same outcome
// whether or not the email matched anyone: enumeration resistance is
// part of the contract, not a boundary nicety. Only the throttle is
// allowed to surface.
func (e *Engine) RequestPasswordReset(ctx context.Context, orgID, email string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	throttleKey := email + "|" + clientIPFromContext(ctx)
	allowed, err := e.resetGuard.Allow(ctx, throttleKey)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if !allowed {
		e.metricInc(MetricResetThrottled)
		e.emitAudit(ctx, auditPasswordResetRequested, false, "", orgID, "", ErrResetThrottled, func() map[string]string {
			return map[string]string{"email": email, "reason": "rate_limited"}
		})
		return ErrResetThrottled
	}

	org, err := e.store.Organizations().GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return errors.Join(ErrStoreUnavailable, err)
	}

	user, err := e.store.Users().GetByEmail(ctx, orgID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, auditPasswordResetRequested, false, "", orgID, "", nil, func() map[string]string {
				return map[string]string{"email": email, "reason": "user_not_found"}
			})
			return nil
		}
		return errors.Join(ErrStoreUnavailable, err)
	}
	if !user.Active {
		e.emitAudit(ctx, auditPasswordResetRequested, false, user.ID, orgID, "", nil, func() map[string]string {
			return map[string]string{"email": email, "reason": "account_inactive"}
		})
		return nil
	}

	token, err := secrets.NewResetToken()
	if err != nil {
		return err
	}

	now := e.now()
	expiry := now.Add(e.config.PasswordReset.TokenTTL)
	user.ResetTokenHash = secrets.HashToken(token)
	user.ResetTokenExpiresAt = &expiry
	user.UpdatedAt = now
	if err := e.store.Users().Update(ctx, user); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricResetRequested)
	e.emitAudit(ctx, auditPasswordResetRequested, true, user.ID, orgID, "", nil, func() map[string]string {
		return map[string]string{"email": email}
	})

	e.sendResetMail(user.Email, org, token)

	return nil
}

// ConfirmPasswordReset consumes a token and installs the new password.
// A consumed, overwritten, or expired token never verifies again;
// expiry additionally clears the stored token so it cannot revive.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if token == "" {
		e.metricInc(MetricResetFailed)
		return ErrTokenInvalid
	}

	user, err := e.store.Users().GetByResetTokenHash(ctx, secrets.HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metricInc(MetricResetFailed)
			e.emitAudit(ctx, auditPasswordResetCompleted, false, "", "", "", ErrTokenInvalid, func() map[string]string {
				return map[string]string{"reason": "invalid_token"}
			})
			return ErrTokenInvalid
		}
		return errors.Join(ErrStoreUnavailable, err)
	}

	now := e.now()
	if user.ResetTokenExpiresAt == nil || now.After(*user.ResetTokenExpiresAt) {
		user.ResetTokenHash = ""
		user.ResetTokenExpiresAt = nil
		user.UpdatedAt = now
		if err := e.store.Users().Update(ctx, user); err != nil {
			return errors.Join(ErrStoreUnavailable, err)
		}
		e.metricInc(MetricResetFailed)
		e.emitAudit(ctx, auditPasswordResetCompleted, false, user.ID, user.OrgID, "", ErrTokenExpired, func() map[string]string {
			return map[string]string{"email": user.Email, "reason": "expired_token"}
		})
		return ErrTokenExpired
	}

	if err := e.config.Password.Policy.Validate(newPassword); err != nil {
		e.metricInc(MetricResetFailed)
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	// One row write covers the password, the dead token, and the
	// lockout clear, so no intermediate state is observable.
	user.PasswordHash = hash
	user.ResetTokenHash = ""
	user.ResetTokenExpiresAt = nil
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.UpdatedAt = now
	if err := e.store.Users().Update(ctx, user); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	if _, err := e.sessions.DeleteAllForUser(ctx, user.OrgID, user.ID); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricResetConfirmed)
	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, auditPasswordResetCompleted, true, user.ID, user.OrgID, "", nil, func() map[string]string {
		return map[string]string{"email": user.Email}
	})
	return nil
}

// sendResetMail hands the link to the sender on a detached goroutine
// with its own deadline. Delivery failures are invisible to the
// requester; Close waits for in-flight sends.
func (e *Engine) sendResetMail(to string, org *Organization, token string) {
	if e.mail == nil {
		return
	}

	link := e.resetLink(org.Slug, token)
	timeout := e.config.Mail.SendTimeout

	e.mailWG.Add(1)
	go func() {
		defer e.mailWG.Done()

		sendCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		subject := fmt.Sprintf("Reset your %s password", org.Name)
		html := fmt.Sprintf(
			"<p>A password reset was requested for your %s account.</p>"+
				"<p><a href=%q>Choose a new password</a></p>"+
				"<p>The link expires in %s. If you did not ask for this, ignore this message.</p>",
			org.Name, link, e.config.PasswordReset.TokenTTL,
		)
		text := fmt.Sprintf(
			"A password reset was requested for your %s account.\n\n"+
				"Choose a new password: %s\n\n"+
				"The link expires in %s. If you did not ask for this, ignore this message.\n",
			org.Name, link, e.config.PasswordReset.TokenTTL,
		)

		_ = e.mail.Send(sendCtx, to, subject, html, text)
	}()
}

func (e *Engine) resetLink(slug, token string) string {
	base := e.config.PasswordReset.BaseURL
	if base == "" {
		base = "/auth/reset"
	}
	q := url.Values{}
	q.Set("token", token)
	if slug != "" {
		q.Set("league", slug)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}
