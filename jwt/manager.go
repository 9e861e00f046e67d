// Package jwt issues and verifies the short-lived access tokens used
// by API clients. Tokens only ever reference a server-side session;
// revoking the session ends the token's usefulness at the next refresh
// interval, which is why the TTLs here are kept short.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signing method names accepted by Config.
const (
	MethodHS256   = "hs256"
	MethodEd25519 = "ed25519"
)

// ErrTokenInvalid covers every verification failure: bad signature,
// wrong algorithm, expired, malformed. Callers get no finer detail.
var ErrTokenInvalid = errors.New("invalid token")

// Config for the token manager.
type Config struct {
	SigningMethod string

	// Secret is the HMAC key for hs256.
	Secret []byte
	// PrivateKey (64 bytes) and PublicKey (32 bytes) for ed25519.
	PrivateKey []byte
	PublicKey  []byte

	AccessTTL time.Duration
	Issuer    string
	Audience  string
	Leeway    time.Duration
}

// Claims carried by an access token. The session ID ties the token to
// revocable server-side state.
type Claims struct {
	UserID    string `json:"uid"`
	OrgID     string `json:"org"`
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and verifies access tokens.
type Manager struct {
	cfg       Config
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// NewManager validates the key material and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("jwt: access ttl must be > 0")
	}

	m := &Manager{cfg: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.Secret) < 32 {
			return nil, errors.New("jwt: hs256 secret must be >= 32 bytes")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.Secret
		m.verifyKey = cfg.Secret
	case MethodEd25519:
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("jwt: ed25519 private key must be %d bytes", ed25519.PrivateKeySize)
		}
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("jwt: ed25519 public key must be %d bytes", ed25519.PublicKeySize)
		}
		m.method = jwt.SigningMethodEdDSA
		m.signKey = ed25519.PrivateKey(cfg.PrivateKey)
		m.verifyKey = ed25519.PublicKey(cfg.PublicKey)
	default:
		return nil, fmt.Errorf("jwt: unknown signing method %q", cfg.SigningMethod)
	}

	return m, nil
}

// CreateAccess signs a token for the given identity, expiring AccessTTL
// from now.
func (m *Manager) CreateAccess(userID, orgID, sessionID, role string, now time.Time) (string, error) {
	claims := Claims{
		UserID:    userID,
		OrgID:     orgID,
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.AccessTTL)),
		},
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Parse verifies a token end to end and returns its claims.
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithLeeway(m.cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}
	if m.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(m.cfg.Audience))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return m.verifyKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == "" || claims.OrgID == "" || claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}

	return &claims, nil
}
