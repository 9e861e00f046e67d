package leagueauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openleague/leagueauth/internal/throttle"
	"github.com/openleague/leagueauth/jwt"
	"github.com/openleague/leagueauth/password"
	"github.com/openleague/leagueauth/session"
)

// Engine is the authentication and authorization core. All methods are
// safe for concurrent use after Build.
type Engine struct {
	config     Config
	store      Store
	sessions   *session.Store
	pending    *session.PendingStore
	resetGuard *throttle.Limiter
	audit      *auditDispatcher
	metrics    *Metrics
	hasher     *password.Hasher
	totp       *totpManager
	tokens     *jwt.Manager
	mail       EmailSender
	resolver   *Resolver

	// now is replaced in tests.
	now func() time.Time

	mailWG sync.WaitGroup
}

// Close waits for in-flight notification sends and drains the audit
// buffer. The Engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mailWG.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events shed under backpressure since start.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the live counters for exporter bridges.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Ping reports whether the session backend is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	_, err := e.sessions.Ping(ctx)
	return err
}

// ValidateSession resolves a session cookie value within one
// organization. A session minted under another organization misses
// exactly like an expired one.
func (e *Engine) ValidateSession(ctx context.Context, orgID, sessionID string) (*AuthContext, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if orgID == "" || sessionID == "" {
		return nil, ErrSessionNotFound
	}

	sess, err := e.sessions.Get(ctx, orgID, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	role, err := ParseRole(sess.Role)
	if err != nil {
		// Role vocabularies only grow, so an unparseable role means a
		// record from a future deployment. Treat it as dead.
		_ = e.sessions.Delete(ctx, orgID, sessionID)
		return nil, ErrSessionNotFound
	}

	return &AuthContext{
		UserID:    sess.UserID,
		OrgID:     sess.OrgID,
		Role:      role,
		SessionID: sess.ID,
	}, nil
}

// IssueAccessToken exchanges a live session for a short-lived signed
// API token. Requires APIToken.Enabled.
func (e *Engine) IssueAccessToken(ctx context.Context, orgID, sessionID string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.tokens == nil {
		return "", ErrAPITokensOff
	}

	auth, err := e.ValidateSession(ctx, orgID, sessionID)
	if err != nil {
		return "", err
	}

	return e.tokens.CreateAccess(auth.UserID, auth.OrgID, auth.SessionID, string(auth.Role), e.now())
}

// ValidateAccessToken checks signature and expiry only; token holders
// ride out session revocation for at most the configured AccessTTL.
func (e *Engine) ValidateAccessToken(token string) (*AuthContext, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.tokens == nil {
		return nil, ErrAPITokensOff
	}

	claims, err := e.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	role, err := ParseRole(claims.Role)
	if err != nil {
		return nil, jwt.ErrTokenInvalid
	}

	return &AuthContext{
		UserID:    claims.UserID,
		OrgID:     claims.OrgID,
		Role:      role,
		SessionID: claims.SessionID,
	}, nil
}
