package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openleague/leagueauth"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ac := authFrom(r.Context())

	users, err := s.engine.ListUsers(r.Context(), ac, ac.OrgID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, toUserDTO(u))
	}
	writeJSON(w, http.StatusOK, map[string][]userDTO{"users": out})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ac := authFrom(r.Context())
	r = s.engineContext(r)

	user, err := s.engine.CreateUser(r.Context(), ac, leagueauth.CreateUserRequest{
		OrgID:    ac.OrgID,
		Email:    req.Email,
		Password: req.Password,
		Role:     leagueauth.Role(req.Role),
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

func (s *Server) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ac := authFrom(r.Context())
	r = s.engineContext(r)

	err := s.engine.SetUserActive(r.Context(), ac, ac.OrgID, chi.URLParam(r, "userID"), req.Active)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnlockUser(w http.ResponseWriter, r *http.Request) {
	ac := authFrom(r.Context())
	r = s.engineContext(r)

	if err := s.engine.UnlockUser(r.Context(), ac, ac.OrgID, chi.URLParam(r, "userID")); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	ac := authFrom(r.Context())

	perms, err := s.engine.UserPermissions(r.Context(), ac.OrgID, chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"permissions": perms})
}

func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permission string `json:"permission"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ac := authFrom(r.Context())
	r = s.engineContext(r)

	grant, err := s.engine.GrantPermission(r.Context(), ac, ac.OrgID, chi.URLParam(r, "userID"), req.Permission)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Permission string `json:"permission"`
		GrantedBy  string `json:"granted_by"`
	}{grant.Permission, grant.GrantedBy})
}

func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	ac := authFrom(r.Context())
	r = s.engineContext(r)

	removed, err := s.engine.RevokePermission(r.Context(), ac, ac.OrgID,
		chi.URLParam(r, "userID"), chi.URLParam(r, "permission"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": removed})
}

func (s *Server) handleSecurityReport(w http.ResponseWriter, r *http.Request) {
	rep := s.engine.SecurityReport()
	writeJSON(w, http.StatusOK, struct {
		LockoutThreshold   int    `json:"lockout_threshold"`
		LockoutDuration    string `json:"lockout_duration"`
		PasswordMinLength  int    `json:"password_min_length"`
		TOTPDigits         uint   `json:"totp_digits"`
		RecoveryCodeCount  int    `json:"recovery_code_count"`
		ResetTokenTTL      string `json:"reset_token_ttl"`
		SessionLifetime    string `json:"session_lifetime"`
		RememberMeLifetime string `json:"remember_me_lifetime"`
		APITokensEnabled   bool   `json:"api_tokens_enabled"`
		AuditEnabled       bool   `json:"audit_enabled"`
	}{
		LockoutThreshold:   rep.LockoutThreshold,
		LockoutDuration:    rep.LockoutDuration.String(),
		PasswordMinLength:  rep.Password.MinLength,
		TOTPDigits:         rep.TOTPDigits,
		RecoveryCodeCount:  rep.RecoveryCodeCount,
		ResetTokenTTL:      rep.ResetTokenTTL.String(),
		SessionLifetime:    rep.SessionLifetime.String(),
		RememberMeLifetime: rep.RememberMeLifetime.String(),
		APITokensEnabled:   rep.APITokensEnabled,
		AuditEnabled:       rep.AuditEnabled,
	})
}
