// Package cookie shapes the three authentication cookies. Every cookie is
// httpOnly and SameSite=Lax, and each is scoped to the narrowest path that
// needs it so the refresh and 2FA tokens are never sent on ordinary requests.
package cookie

import (
	"errors"
	"net/http"
	"time"
)

const (
	AccessName    = "access_token"
	RefreshName   = "refresh_token"
	TwoFactorName = "2fa_token"

	AccessPath    = "/"
	RefreshPath   = "/api/auth/refresh"
	TwoFactorPath = "/api/auth/2fa"
)

// ErrMissing is returned by Read when the cookie is absent or empty.
var ErrMissing = errors.New("cookie: not present")

// Config carries the deployment-specific attributes and lifetimes.
type Config struct {
	Secure       bool
	Domain       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	TwoFactorTTL time.Duration
}

// Transport builds cookies. The zero value is not usable; use New.
type Transport struct {
	cfg Config
}

func New(cfg Config) *Transport {
	return &Transport{cfg: cfg}
}

func (t *Transport) Access(token string) *http.Cookie {
	return t.build(AccessName, AccessPath, token, t.cfg.AccessTTL)
}

func (t *Transport) Refresh(token string) *http.Cookie {
	return t.build(RefreshName, RefreshPath, token, t.cfg.RefreshTTL)
}

func (t *Transport) TwoFactor(token string) *http.Cookie {
	return t.build(TwoFactorName, TwoFactorPath, token, t.cfg.TwoFactorTTL)
}

// Session returns the access and refresh cookies for a freshly issued pair.
func (t *Transport) Session(access, refresh string) []*http.Cookie {
	return []*http.Cookie{t.Access(access), t.Refresh(refresh)}
}

// ClearTwoFactor expires the 2FA capability cookie.
func (t *Transport) ClearTwoFactor() *http.Cookie {
	return t.expire(TwoFactorName, TwoFactorPath)
}

// ClearAll expires every authentication cookie. Paths must match the ones
// used when setting or browsers keep the original.
func (t *Transport) ClearAll() []*http.Cookie {
	return []*http.Cookie{
		t.expire(AccessName, AccessPath),
		t.expire(RefreshName, RefreshPath),
		t.expire(TwoFactorName, TwoFactorPath),
	}
}

// Write sets every cookie on w.
func Write(w http.ResponseWriter, cookies []*http.Cookie) {
	for _, c := range cookies {
		http.SetCookie(w, c)
	}
}

// Read returns the value of the named cookie.
func Read(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", ErrMissing
	}
	return c.Value, nil
}

func (t *Transport) build(name, path, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   t.cfg.Domain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   t.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (t *Transport) expire(name, path string) *http.Cookie {
	c := t.build(name, path, "", 0)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	return c
}
