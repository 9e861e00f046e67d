package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openleague/leagueauth"
)

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, apiError{Code: code, Message: msg, RequestID: requestID(r.Context())})
}

// writeEngineError maps the engine's sentinel taxonomy onto HTTP. Two
// rules are deliberate: cross-tenant references render as missing
// resources, and both reset-token failures render identically.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, leagueauth.ErrTenantNotFound):
		writeError(w, r, http.StatusNotFound, "unknown_league", "league not found")
	case errors.Is(err, leagueauth.ErrCrossTenantAccess),
		errors.Is(err, leagueauth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "not found")

	case errors.Is(err, leagueauth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, leagueauth.ErrAccountLocked):
		writeError(w, r, http.StatusForbidden, "account_locked", "account temporarily locked")
	case errors.Is(err, leagueauth.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, "account_inactive", "account is deactivated")
	case errors.Is(err, leagueauth.ErrSessionNotFound):
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, leagueauth.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "forbidden", "insufficient privileges")

	case errors.Is(err, leagueauth.ErrChallengeNotFound):
		writeError(w, r, http.StatusUnauthorized, "challenge_expired", "login challenge expired, sign in again")
	case errors.Is(err, leagueauth.ErrMFAVerificationFailed):
		writeError(w, r, http.StatusUnauthorized, "mfa_failed", "verification code rejected")
	case errors.Is(err, leagueauth.ErrMFANotEnabled):
		writeError(w, r, http.StatusConflict, "mfa_not_enabled", "two-factor authentication is not enabled")
	case errors.Is(err, leagueauth.ErrMFAAlreadyEnabled):
		writeError(w, r, http.StatusConflict, "mfa_already_enabled", "two-factor authentication is already enabled")
	case errors.Is(err, leagueauth.ErrMFANotPending):
		writeError(w, r, http.StatusConflict, "mfa_not_pending", "no enrollment in progress")

	case errors.Is(err, leagueauth.ErrTokenInvalid),
		errors.Is(err, leagueauth.ErrTokenExpired):
		writeError(w, r, http.StatusBadRequest, "invalid_link", "invalid or expired link")
	case errors.Is(err, leagueauth.ErrResetThrottled):
		writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many reset requests, try again later")

	case errors.Is(err, leagueauth.ErrPasswordPolicy):
		// PolicyViolation messages are written for end users.
		writeError(w, r, http.StatusUnprocessableEntity, "password_policy", err.Error())
	case errors.Is(err, leagueauth.ErrPasswordReuse):
		writeError(w, r, http.StatusUnprocessableEntity, "password_reuse", "new password must differ from the current one")
	case errors.Is(err, leagueauth.ErrSlugInvalid):
		writeError(w, r, http.StatusBadRequest, "invalid_slug", "league address may use lowercase letters, digits and hyphens")
	case errors.Is(err, leagueauth.ErrSlugTaken):
		writeError(w, r, http.StatusConflict, "slug_taken", "league address already in use")
	case errors.Is(err, leagueauth.ErrEmailInvalid):
		writeError(w, r, http.StatusBadRequest, "invalid_email", "email address is malformed")
	case errors.Is(err, leagueauth.ErrEmailTaken):
		writeError(w, r, http.StatusConflict, "email_taken", "email already in use")
	case errors.Is(err, leagueauth.ErrRoleInvalid):
		writeError(w, r, http.StatusBadRequest, "invalid_role", "unknown role")

	case errors.Is(err, leagueauth.ErrAPITokensOff):
		writeError(w, r, http.StatusNotFound, "not_found", "not found")

	default:
		slog.Error("request failed", "err", err, "path", r.URL.Path, "request_id", requestID(r.Context()))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
