package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/openleague/leagueauth"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

/*==== DTOs ====*/

type userDTO struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	Active      bool       `json:"active"`
	TOTPEnabled bool       `json:"totp_enabled"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type orgDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Timezone string `json:"timezone"`
	Locale   string `json:"locale"`
}

func toUserDTO(u *leagueauth.User) userDTO {
	return userDTO{
		ID:          u.ID,
		Email:       u.Email,
		Role:        string(u.Role),
		Active:      u.Active,
		TOTPEnabled: u.TOTPEnabled,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

func toOrgDTO(o *leagueauth.Organization) orgDTO {
	return orgDTO{ID: o.ID, Name: o.Name, Slug: o.Slug, Timezone: o.Timezone, Locale: o.Locale}
}

type loginResponse struct {
	User       userDTO   `json:"user"`
	Org        orgDTO    `json:"org"`
	ExpiresAt  time.Time `json:"expires_at"`
	RedirectTo string    `json:"redirect_to,omitempty"`

	UsedRecoveryCode  bool `json:"used_recovery_code,omitempty"`
	RecoveryCodesLeft int  `json:"recovery_codes_left,omitempty"`
}

type mfaChallengeResponse struct {
	MFARequired bool   `json:"mfa_required"`
	ChallengeID string `json:"challenge_id"`
	OrgID       string `json:"org_id"`
}

/*==== LOGIN / LOGOUT ====*/

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		Org        string `json:"org,omitempty"`
		RememberMe bool   `json:"remember_me,omitempty"`
		RedirectTo string `json:"redirect_to,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	r = s.engineContext(r)

	slug := req.Org
	if slug == "" {
		slug = r.URL.Query().Get("org")
	}

	res, err := s.engine.Login(r.Context(), leagueauth.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		OrgSlug:    slug,
		Host:       r.Host,
		StickySlug: s.stickySlug(r),
		RememberMe: req.RememberMe,
		RedirectTo: req.RedirectTo,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	s.setStickyCookie(w, res.Org.Slug)
	if res.MFARequired {
		writeJSON(w, http.StatusOK, mfaChallengeResponse{
			MFARequired: true,
			ChallengeID: res.ChallengeID,
			OrgID:       res.Org.ID,
		})
		return
	}

	s.setSessionCookie(w, res.Org.ID, res.SessionID, res.ExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{
		User:       toUserDTO(res.User),
		Org:        toOrgDTO(res.Org),
		ExpiresAt:  res.ExpiresAt,
		RedirectTo: res.RedirectTo,
	})
}

func (s *Server) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgID       string `json:"org_id"`
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
		Method      string `json:"method,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	r = s.engineContext(r)

	method := leagueauth.MFAMethodTOTP
	if req.Method != "" {
		method = leagueauth.MFAMethod(req.Method)
	}

	res, err := s.engine.VerifyLoginMFA(r.Context(), req.OrgID, req.ChallengeID, req.Code, method)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	s.setStickyCookie(w, res.Org.Slug)
	s.setSessionCookie(w, res.Org.ID, res.SessionID, res.ExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{
		User:              toUserDTO(res.User),
		Org:               toOrgDTO(res.Org),
		ExpiresAt:         res.ExpiresAt,
		RedirectTo:        res.RedirectTo,
		UsedRecoveryCode:  res.UsedRecoveryCode,
		RecoveryCodesLeft: res.RecoveryCodesLeft,
	})
}

func (s *Server) handleMFAAbandon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgID       string `json:"org_id"`
		ChallengeID string `json:"challenge_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.engine.AbandonLoginMFA(r.Context(), req.OrgID, req.ChallengeID); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	orgID, sessionID, ok := s.sessionFromCookie(r)
	if ok {
		r = s.engineContext(r)
		if err := s.engine.Logout(r.Context(), orgID, sessionID); err != nil {
			writeEngineError(w, r, err)
			return
		}
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ac := authFrom(r.Context())
	r = s.engineContext(r)

	n, err := s.engine.LogoutAll(r.Context(), ac.OrgID, ac.UserID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

/*==== SELF SERVICE ====*/

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ac := authFrom(r.Context())

	user, err := s.engine.GetUser(r.Context(), ac.OrgID, ac.UserID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	perms, err := s.engine.UserPermissions(r.Context(), ac.OrgID, ac.UserID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		User        userDTO  `json:"user"`
		Permissions []string `json:"permissions"`
	}{toUserDTO(user), perms})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ac := authFrom(r.Context())
	r = s.engineContext(r)

	// The calling session survives; every other session is revoked.
	err := s.engine.ChangePassword(r.Context(), ac.OrgID, ac.UserID, req.OldPassword, req.NewPassword, ac.SessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*==== PASSWORD RESET ====*/

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Org   string `json:"org,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	r = s.engineContext(r)

	slug := req.Org
	if slug == "" {
		slug = r.URL.Query().Get("org")
	}
	org, _, err := s.engine.ResolveTenant(r.Context(), leagueauth.TenantRequest{
		ExplicitSlug: slug,
		Host:         r.Host,
		StickySlug:   s.stickySlug(r),
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	if err := s.engine.RequestPasswordReset(r.Context(), org.ID, req.Email); err != nil {
		writeEngineError(w, r, err)
		return
	}

	// Same response whether or not the address exists.
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "if the address is registered, a reset link is on its way",
	})
}

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	r = s.engineContext(r)

	if err := s.engine.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*==== PERMISSION PROBE ====*/

func (s *Server) handlePermissionProbe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"editor": "scores"})
}
