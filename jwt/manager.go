package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TwoFactorPurpose is the purpose claim carried by 2FA capability tokens.
const TwoFactorPurpose = "2fa"

var (
	// ErrTokenInvalid covers bad signatures, wrong algorithms, malformed
	// tokens and tokens of the wrong family.
	ErrTokenInvalid = errors.New("jwt: token invalid")
	// ErrTokenExpired is returned for well-signed tokens past their exp.
	ErrTokenExpired = errors.New("jwt: token expired")
)

// Config holds signing secrets and lifetimes. AccessSecret and RefreshSecret
// must differ so a refresh token can never pass as an access token.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	TwoFactorTTL  time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Claims is the payload of access and refresh tokens.
type Claims struct {
	UserID    string `json:"id"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TwoFactorClaims is the payload of the capability token issued after a
// correct password when a second factor is still owed.
type TwoFactorClaims struct {
	UserID  string `json:"id"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Manager issues and verifies tokens. It is safe for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager. now may be nil.
func NewManager(cfg Config, now func() time.Time) (*Manager, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("jwt: access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("jwt: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.TwoFactorTTL <= 0 {
		return nil, errors.New("jwt: invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: invalid leeway configuration")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

// SignAccess returns an access token for the given identity and session.
func (m *Manager) SignAccess(userID, role, sessionID string) (string, error) {
	return m.sign(m.config.AccessSecret, &Claims{
		UserID:           userID,
		Role:             role,
		SessionID:        sessionID,
		RegisteredClaims: m.registered(m.config.AccessTTL),
	})
}

// SignRefresh returns a refresh token. Each call carries a fresh jti, so two
// tokens for the same session never collide even within one second.
func (m *Manager) SignRefresh(userID, role, sessionID string) (string, error) {
	return m.sign(m.config.RefreshSecret, &Claims{
		UserID:           userID,
		Role:             role,
		SessionID:        sessionID,
		RegisteredClaims: m.registered(m.config.RefreshTTL),
	})
}

// SignTwoFactor returns a capability token that only authorizes the second
// factor step for userID.
func (m *Manager) SignTwoFactor(userID string) (string, error) {
	return m.sign(m.config.AccessSecret, &TwoFactorClaims{
		UserID:           userID,
		Purpose:          TwoFactorPurpose,
		RegisteredClaims: m.registered(m.config.TwoFactorTTL),
	})
}

// ParseAccess verifies an access token.
func (m *Manager) ParseAccess(token string) (*Claims, error) {
	claims := &Claims{}
	if err := m.parse(token, m.config.AccessSecret, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token.
func (m *Manager) ParseRefresh(token string) (*Claims, error) {
	claims := &Claims{}
	if err := m.parse(token, m.config.RefreshSecret, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ParseTwoFactor verifies a 2FA capability token and its purpose claim.
func (m *Manager) ParseTwoFactor(token string) (*TwoFactorClaims, error) {
	claims := &TwoFactorClaims{}
	if err := m.parse(token, m.config.AccessSecret, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.Purpose != TwoFactorPurpose {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (m *Manager) registered(ttl time.Duration) jwt.RegisteredClaims {
	now := m.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    m.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (m *Manager) sign(secret []byte, claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, nil
}

func (m *Manager) parse(token string, secret []byte, claims jwt.Claims) error {
	if strings.TrimSpace(token) == "" {
		return ErrTokenInvalid
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return secret, nil
	})
	switch {
	case err == nil && parsed.Valid:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}
