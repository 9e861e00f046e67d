package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/openleague/leagueauth"
)

// Mode selects how much verification a guard performs per request.
type Mode int

const (
	// ModeToken verifies signature and expiry only.
	ModeToken Mode = iota
	// ModeStrict additionally confirms the backing session still
	// exists, so logout and revocation cut access immediately.
	ModeStrict
)

type authContextKey struct{}

// AuthFromContext returns the identity injected by a guard.
func AuthFromContext(ctx context.Context) (*leagueauth.AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(*leagueauth.AuthContext)
	return auth, ok
}

// Guard returns middleware enforcing the given mode. Rejections are
// plain 401s; embedders wanting JSON error bodies should wrap this.
func Guard(engine *leagueauth.Engine, mode Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			auth, err := engine.ValidateAccessToken(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if mode == ModeStrict {
				// The session lookup returns the current role, which
				// may have changed since the token was minted.
				auth, err = engine.ValidateSession(r.Context(), auth.OrgID, auth.SessionID)
				if err != nil {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
			}

			ctx := context.WithValue(r.Context(), authContextKey{}, auth)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireToken is Guard in stateless mode.
func RequireToken(engine *leagueauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, ModeToken)
}

// RequireStrict is Guard with the live-session check.
func RequireStrict(engine *leagueauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, ModeStrict)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}
