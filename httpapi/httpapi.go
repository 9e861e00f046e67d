package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/openleague/leagueauth"
	"github.com/openleague/leagueauth/metrics/prom"
)

// Config tunes the HTTP boundary. The zero value is usable for
// development; production deployments set CookieSecure and the CORS
// origin list.
type Config struct {
	// SessionCookieName holds "orgID.sessionID"; HttpOnly.
	SessionCookieName string
	// StickyCookieName remembers the organization slug between visits
	// and feeds tenant resolution. Readable by scripts.
	StickyCookieName string
	CookieSecure     bool
	CookieDomain     string

	// TrustProxy reads the client IP from X-Forwarded-For.
	TrustProxy bool

	CORSAllowedOrigins []string

	// LoginPerMinute and ResetPerHour cap unauthenticated credential
	// traffic per client IP, in front of the engine's own lockout and
	// throttle state.
	LoginPerMinute int
	ResetPerHour   int

	// MaxBodyBytes caps request bodies. JSON payloads here are tiny.
	MaxBodyBytes int64
}

func (c *Config) applyDefaults() {
	if c.SessionCookieName == "" {
		c.SessionCookieName = "league_session"
	}
	if c.StickyCookieName == "" {
		c.StickyCookieName = "league_org"
	}
	if c.LoginPerMinute <= 0 {
		c.LoginPerMinute = 20
	}
	if c.ResetPerHour <= 0 {
		c.ResetPerHour = 10
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
}

// Server owns the handler set. Build one with NewServer and mount
// Router.
type Server struct {
	engine *leagueauth.Engine
	cfg    Config
	log    *slog.Logger

	loginLimiter *ipLimiter
	resetLimiter *ipLimiter
}

func NewServer(engine *leagueauth.Engine, cfg Config, log *slog.Logger) *Server {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine: engine,
		cfg:    cfg,
		log:    log,
		loginLimiter: newIPLimiter(
			rate.Limit(float64(cfg.LoginPerMinute)/60.0), cfg.LoginPerMinute),
		resetLimiter: newIPLimiter(
			rate.Limit(float64(cfg.ResetPerHour)/3600.0), cfg.ResetPerHour),
	}
}

// Router assembles the full route tree. metricsHandler may be nil to
// leave /metrics unmounted. Extra middleware runs inside the mux so it
// sees the matched chi route pattern.
func (s *Server) Router(metricsHandler http.Handler, extra ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(requestLogger(s.log))
	for _, mw := range extra {
		r.Use(mw)
	}
	r.Use(securityHeaders)
	if len(s.cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
			MaxAge:           600,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			req.Body = http.MaxBytesReader(w, req.Body, s.cfg.MaxBodyBytes)
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/healthz", s.handleHealthz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.With(rateLimit(s.loginLimiter, s.cfg.TrustProxy)).Post("/login", s.handleLogin)
		r.Post("/mfa/verify", s.handleMFAVerify)
		r.Post("/mfa/abandon", s.handleMFAAbandon)
		r.Post("/logout", s.handleLogout)
		r.With(rateLimit(s.resetLimiter, s.cfg.TrustProxy)).Post("/reset/request", s.handleResetRequest)
		r.Post("/reset/confirm", s.handleResetConfirm)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/me", s.handleMe)
			r.Post("/password", s.handleChangePassword)
			r.Post("/logout/all", s.handleLogoutAll)

			r.Route("/mfa", func(r chi.Router) {
				r.Post("/enroll", s.handleTOTPEnroll)
				r.Post("/enroll/confirm", s.handleTOTPConfirm)
				r.Post("/disable", s.handleTOTPDisable)
				r.Post("/recovery/regenerate", s.handleRecoveryRegenerate)
			})
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireSession)
		r.Use(requireRole(leagueauth.RoleOwner, leagueauth.RoleAdmin))

		r.Get("/users", s.handleListUsers)
		r.Post("/users", s.handleCreateUser)
		r.Post("/users/{userID}/active", s.handleSetUserActive)
		r.Post("/users/{userID}/unlock", s.handleUnlockUser)
		r.Get("/users/{userID}/permissions", s.handleUserPermissions)
		r.Post("/users/{userID}/permissions", s.handleGrantPermission)
		r.Delete("/users/{userID}/permissions/{permission}", s.handleRevokePermission)
		r.Get("/security-report", s.handleSecurityReport)
	})

	// Probe route for permission-gated content; league sites mount
	// their real editors behind the same middleware.
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.With(s.requirePermission("edit_scores")).
			Get("/content/scores/editor", s.handlePermissionProbe)
	})

	return r
}

// MetricsHandler builds the scrape endpoint for this server's engine.
func (s *Server) MetricsHandler() http.Handler {
	return prom.Handler(s.engine)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

/*==== COOKIES ====*/

func (s *Server) sessionFromCookie(r *http.Request) (orgID, sessionID string, ok bool) {
	c, err := r.Cookie(s.cfg.SessionCookieName)
	if err != nil || c.Value == "" {
		return "", "", false
	}
	orgID, sessionID, found := strings.Cut(c.Value, ".")
	if !found || orgID == "" || sessionID == "" {
		return "", "", false
	}
	return orgID, sessionID, true
}

func (s *Server) setSessionCookie(w http.ResponseWriter, orgID, sessionID string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookieName,
		Value:    orgID + "." + sessionID,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (s *Server) setStickyCookie(w http.ResponseWriter, slug string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.StickyCookieName,
		Value:    slug,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((180 * 24 * time.Hour).Seconds()),
	})
}

func (s *Server) stickySlug(r *http.Request) string {
	c, err := r.Cookie(s.cfg.StickyCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
