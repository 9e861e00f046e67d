package httpapi

import (
	"net/http"
)

func (s *Server) handleTOTPEnroll(w http.ResponseWriter, r *http.Request) {
	ac := authFrom(r.Context())
	r = s.engineContext(r)

	enrollment, err := s.engine.BeginTOTPEnrollment(r.Context(), ac.OrgID, ac.UserID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Secret string `json:"secret"`
		URL    string `json:"url"`
		QRPNG  []byte `json:"qr_png"`
	}{enrollment.Secret, enrollment.URL, enrollment.QRPNG})
}

func (s *Server) handleTOTPConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ac := authFrom(r.Context())
	r = s.engineContext(r)

	codes, err := s.engine.ConfirmTOTPEnrollment(r.Context(), ac.OrgID, ac.UserID, req.Code)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	// The only time the plaintext codes are visible; store hashes only.
	writeJSON(w, http.StatusOK, map[string][]string{"recovery_codes": codes})
}

func (s *Server) handleTOTPDisable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ac := authFrom(r.Context())
	r = s.engineContext(r)

	if err := s.engine.DisableTOTP(r.Context(), ac.OrgID, ac.UserID, req.Password); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecoveryRegenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ac := authFrom(r.Context())
	r = s.engineContext(r)

	codes, err := s.engine.RegenerateRecoveryCodes(r.Context(), ac.OrgID, ac.UserID, req.Password)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"recovery_codes": codes})
}
