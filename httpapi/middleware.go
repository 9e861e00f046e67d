package httpapi

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/openleague/leagueauth"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.NewString()
		r = r.WithContext(withRequestID(r.Context(), rid))
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.code,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestID(r.Context()),
			)
		})
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; frame-ancestors 'none'; base-uri 'self'")
		next.ServeHTTP(w, r)
	})
}

// ipLimiter keeps one token bucket per client IP. Idle buckets are
// swept so the map cannot grow without bound.
type ipLimiter struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket
	limit   rate.Limit
	burst   int
}

type ipBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		buckets: make(map[string]*ipBucket),
		limit:   limit,
		burst:   burst,
	}
}

const ipBucketTTL = 15 * time.Minute

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		b = &ipBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = time.Now()

	if len(l.buckets) > 1024 {
		l.sweepLocked()
	}
	return b.lim.Allow()
}

func (l *ipLimiter) sweepLocked() {
	cutoff := time.Now().Add(-ipBucketTTL)
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

func rateLimit(l *ipLimiter, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientIP(r, trustProxy)) {
				writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// engineContext forwards the caller's IP and user agent so the engine
// can record them in audit entries and on the user row.
func (s *Server) engineContext(r *http.Request) *http.Request {
	ctx := leagueauth.WithClientIP(r.Context(), clientIP(r, s.cfg.TrustProxy))
	ctx = leagueauth.WithUserAgent(ctx, r.UserAgent())
	return r.WithContext(ctx)
}

// requireSession authenticates the request from the session cookie and
// stores the principal in the context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, sessionID, ok := s.sessionFromCookie(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		ac, err := s.engine.ValidateSession(r.Context(), orgID, sessionID)
		if err != nil {
			s.clearSessionCookie(w)
			writeEngineError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), ac)))
	})
}

// requireRole admits only the named roles. It assumes requireSession
// already ran.
func requireRole(roles ...leagueauth.Role) func(http.Handler) http.Handler {
	allowed := make(map[leagueauth.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := authFrom(r.Context())
			if ac == nil {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if _, ok := allowed[ac.Role]; !ok {
				writeError(w, r, http.StatusForbidden, "forbidden", "insufficient privileges")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requirePermission admits sessions whose user holds the named grant.
// Privileged roles pass without a grant row.
func (s *Server) requirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := authFrom(r.Context())
			if ac == nil {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			user, err := s.engine.GetUser(r.Context(), ac.OrgID, ac.UserID)
			if err != nil {
				writeEngineError(w, r, err)
				return
			}
			ok, err := s.engine.HasPermission(r.Context(), user, permission)
			if err != nil {
				writeEngineError(w, r, err)
				return
			}
			if !ok {
				writeError(w, r, http.StatusForbidden, "forbidden", "insufficient privileges")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
