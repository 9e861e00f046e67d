package httpapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openleague/leagueauth"
	"github.com/openleague/leagueauth/httpapi"
)

func postAs(t *testing.T, env *apiEnv, client *http.Client, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(env.srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func getAs(t *testing.T, env *apiEnv, client *http.Client, path string) *http.Response {
	t.Helper()
	resp, err := client.Get(env.srv.URL + path)
	require.NoError(t, err)
	return resp
}

func deleteAs(t *testing.T, env *apiEnv, client *http.Client, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, env.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

type userJSON struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	Active      bool   `json:"active"`
	TOTPEnabled bool   `json:"totp_enabled"`
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	env := newAPIEnv(t, nil, httpapi.Config{})
	_, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	env.seedMember(t, owner, "coach@metro.test", "Sw1mFast2024", leagueauth.RoleCoach)

	// No cookie at all.
	resp := env.get(t, "/admin/users")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	drain(resp)

	coach := newClientFor(t, env)
	otherLogin(t, env, coach, "metro", "coach@metro.test", "Sw1mFast2024")

	resp = getAs(t, env, coach, "/admin/users")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decodeBody[errBody](t, resp)
	require.Equal(t, "forbidden", body.Code)

	resp = postAs(t, env, coach, "/admin/users", map[string]any{
		"email": "sneaky@metro.test", "password": "Sw1mFast2024", "role": "admin",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	drain(resp)
}

func TestAdminUserLifecycle(t *testing.T) {
	env := newAPIEnv(t, nil, httpapi.Config{})
	env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	env.login(t, "metro", "owner@metro.test", "Sw1mFast2024")

	resp := env.postJSON(t, "/admin/users", map[string]any{
		"email": "coach@metro.test", "password": "Sw1mFast2024", "role": "coach",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[userJSON](t, resp)
	require.Equal(t, "coach@metro.test", created.Email)
	require.Equal(t, "coach", created.Role)
	require.True(t, created.Active)

	resp = env.get(t, "/admin/users")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := decodeBody[map[string][]userJSON](t, resp)
	require.Len(t, listing["users"], 2)
	require.Equal(t, "coach@metro.test", listing["users"][0].Email)
	require.Equal(t, "owner@metro.test", listing["users"][1].Email)

	// Deactivation blocks the coach's next login.
	resp = env.postJSON(t, "/admin/users/"+created.ID+"/active", map[string]any{"active": false})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	drain(resp)

	coach := newClientFor(t, env)
	resp = postAs(t, env, coach, "/auth/login", map[string]any{
		"email": "coach@metro.test", "password": "Sw1mFast2024", "org": "metro",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decodeBody[errBody](t, resp)
	require.Equal(t, "account_inactive", body.Code)

	resp = env.postJSON(t, "/admin/users/"+created.ID+"/active", map[string]any{"active": true})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	drain(resp)
	otherLogin(t, env, coach, "metro", "coach@metro.test", "Sw1mFast2024")
}

func TestAdminUnlock(t *testing.T) {
	env := newAPIEnv(t, nil, httpapi.Config{})
	_, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	coachUser := env.seedMember(t, owner, "coach@metro.test", "Sw1mFast2024", leagueauth.RoleCoach)

	coach := newClientFor(t, env)
	for i := 0; i < 3; i++ {
		resp := postAs(t, env, coach, "/auth/login", map[string]any{
			"email": "coach@metro.test", "password": "WrongPass99", "org": "metro",
		})
		drain(resp)
	}
	resp := postAs(t, env, coach, "/auth/login", map[string]any{
		"email": "coach@metro.test", "password": "Sw1mFast2024", "org": "metro",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	drain(resp)

	env.login(t, "metro", "owner@metro.test", "Sw1mFast2024")
	resp = env.postJSON(t, "/admin/users/"+coachUser.ID+"/unlock", map[string]any{})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	drain(resp)

	otherLogin(t, env, coach, "metro", "coach@metro.test", "Sw1mFast2024")
}

func TestPermissionAdministration(t *testing.T) {
	env := newAPIEnv(t, nil, httpapi.Config{})
	_, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	keeper := env.seedMember(t, owner, "keeper@metro.test", "Sw1mFast2024", leagueauth.RoleScorekeeper)

	ownerLogin := env.login(t, "metro", "owner@metro.test", "Sw1mFast2024")

	keeperClient := newClientFor(t, env)
	otherLogin(t, env, keeperClient, "metro", "keeper@metro.test", "Sw1mFast2024")

	// Without a grant the probe route stays closed.
	resp := getAs(t, env, keeperClient, "/content/scores/editor")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	drain(resp)

	resp = env.postJSON(t, "/admin/users/"+keeper.ID+"/permissions", map[string]any{
		"permission": "edit_scores",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	granted := decodeBody[struct {
		Permission string `json:"permission"`
		GrantedBy  string `json:"granted_by"`
	}](t, resp)
	require.Equal(t, "edit_scores", granted.Permission)
	require.Equal(t, ownerLogin.User.ID, granted.GrantedBy)

	resp = env.get(t, "/admin/users/"+keeper.ID+"/permissions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	perms := decodeBody[map[string][]string](t, resp)
	require.Equal(t, []string{"edit_scores"}, perms["permissions"])

	resp = getAs(t, env, keeperClient, "/content/scores/editor")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	drain(resp)

	resp = deleteAs(t, env, env.client, "/admin/users/"+keeper.ID+"/permissions/edit_scores")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	revoked := decodeBody[map[string]bool](t, resp)
	require.True(t, revoked["revoked"])

	resp = getAs(t, env, keeperClient, "/content/scores/editor")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	drain(resp)

	// Revoking twice reports that nothing was removed.
	resp = deleteAs(t, env, env.client, "/admin/users/"+keeper.ID+"/permissions/edit_scores")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	revoked = decodeBody[map[string]bool](t, resp)
	require.False(t, revoked["revoked"])
}

func TestPrivilegedRolesBypassProbe(t *testing.T) {
	env := newAPIEnv(t, nil, httpapi.Config{})
	env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	env.login(t, "metro", "owner@metro.test", "Sw1mFast2024")

	resp := env.get(t, "/content/scores/editor")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[map[string]string](t, resp)
	require.Equal(t, "scores", out["editor"])
}

func TestSecurityReportEndpoint(t *testing.T) {
	env := newAPIEnv(t, nil, httpapi.Config{})
	_, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	env.seedMember(t, owner, "coach@metro.test", "Sw1mFast2024", leagueauth.RoleCoach)
	env.login(t, "metro", "owner@metro.test", "Sw1mFast2024")

	resp := env.get(t, "/admin/security-report")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decodeBody[struct {
		LockoutThreshold  int    `json:"lockout_threshold"`
		LockoutDuration   string `json:"lockout_duration"`
		TOTPDigits        uint   `json:"totp_digits"`
		RecoveryCodeCount int    `json:"recovery_code_count"`
		APITokensEnabled  bool   `json:"api_tokens_enabled"`
		AuditEnabled      bool   `json:"audit_enabled"`
	}](t, resp)
	require.Equal(t, 3, report.LockoutThreshold)
	require.Equal(t, "15m0s", report.LockoutDuration)
	require.Equal(t, uint(6), report.TOTPDigits)
	require.Equal(t, 10, report.RecoveryCodeCount)
	require.False(t, report.APITokensEnabled)
	require.True(t, report.AuditEnabled)

	coach := newClientFor(t, env)
	otherLogin(t, env, coach, "metro", "coach@metro.test", "Sw1mFast2024")
	coachResp := getAs(t, env, coach, "/admin/security-report")
	require.Equal(t, http.StatusForbidden, coachResp.StatusCode)
	drain(coachResp)
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t, nil, httpapi.Config{})
	resp := env.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[map[string]string](t, resp)
	require.Equal(t, "ok", out["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t, nil, httpapi.Config{})
	env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	env.login(t, "metro", "owner@metro.test", "Sw1mFast2024")

	resp := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(raw), "leagueauth_login_success_total 1")
	require.Contains(t, string(raw), "leagueauth_audit_dropped_total 0")
}

func TestLoginRateLimit(t *testing.T) {
	env := newAPIEnv(t, nil, httpapi.Config{LoginPerMinute: 3})
	env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	env.seedLeague(t, "valley", "owner@valley.test", "Sw1mFast2024")

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		resp := env.postJSON(t, "/auth/login", map[string]any{
			"email": fmt.Sprintf("nobody%d@nowhere.test", i), "password": "Sw1mFast2024", "org": "ghost",
		})
		statuses = append(statuses, resp.StatusCode)
		drain(resp)
	}
	require.Equal(t, []int{404, 404, 404, 429}, statuses)
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	env := newAPIEnv(t, nil, httpapi.Config{})
	resp := env.get(t, "/healthz")
	defer drain(resp)

	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	require.Contains(t, resp.Header.Get("Content-Security-Policy"), "frame-ancestors 'none'")
}

func TestMalformedBodies(t *testing.T) {
	env := newAPIEnv(t, nil, httpapi.Config{})
	env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")

	resp, err := env.client.Post(env.srv.URL+"/auth/login", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[errBody](t, resp)
	require.Equal(t, "bad_request", body.Code)

	// Unknown fields are rejected rather than silently dropped.
	resp = env.postJSON(t, "/auth/login", map[string]any{
		"emial": "owner@metro.test", "password": "Sw1mFast2024",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	drain(resp)
}
