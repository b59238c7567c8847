package twofactor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// SecretBytes is the length of a generated authenticator secret before encoding.
	SecretBytes = 20
	// Digits is the length of every authenticator code.
	Digits = 6
	// Period is the authenticator time step.
	Period = 30 * time.Second
	// DefaultWindow is the number of adjacent steps accepted on each side of now.
	DefaultWindow = 1
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Authenticator generates and verifies RFC 6238 codes (HMAC-SHA1, six digits,
// 30 second step) and builds provisioning URLs for authenticator apps.
type Authenticator struct {
	Issuer string
	Window int
}

// NewAuthenticator returns an Authenticator for issuer. A negative window is
// treated as zero.
func NewAuthenticator(issuer string, window int) *Authenticator {
	if window < 0 {
		window = 0
	}
	return &Authenticator{Issuer: issuer, Window: window}
}

// GenerateSecret returns 20 random bytes encoded as unpadded Base32.
func GenerateSecret() (string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretEncoding.EncodeToString(raw), nil
}

// DecodeSecret parses an unpadded Base32 secret. Lowercase input and embedded
// spaces, as typed from a manual-entry key, are accepted.
func DecodeSecret(secret string) ([]byte, error) {
	cleaned := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	cleaned = strings.TrimRight(cleaned, "=")
	if cleaned == "" {
		return nil, ErrInvalidSecret
	}
	raw, err := secretEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return raw, nil
}

// HOTP computes the RFC 4226 code for counter using HMAC-SHA1.
func HOTP(key []byte, counter uint64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

// Counter returns the time step containing t.
func Counter(t time.Time) uint64 {
	return uint64(t.Unix()) / uint64(Period/time.Second)
}

// Code returns the current code for secret at now.
func (a *Authenticator) Code(secret string, now time.Time) (string, error) {
	key, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}
	return HOTP(key, Counter(now), Digits), nil
}

// Verify reports whether code matches secret within the configured window
// around now. Malformed codes and secrets never verify.
func (a *Authenticator) Verify(secret, code string, now time.Time) bool {
	_, ok := a.Match(secret, code, now)
	return ok
}

// Match is Verify that also returns the time step the code belongs to, so
// callers can refuse a step that was already used.
func (a *Authenticator) Match(secret, code string, now time.Time) (uint64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != Digits || !numeric(code) {
		return 0, false
	}
	key, err := DecodeSecret(secret)
	if err != nil {
		return 0, false
	}

	current := int64(Counter(now))
	counter, matched := 0, 0
	for skew := -a.Window; skew <= a.Window; skew++ {
		c := current + int64(skew)
		if c < 0 {
			continue
		}
		candidate := HOTP(key, uint64(c), Digits)
		// Every step is compared so timing does not reveal which one matched.
		eq := subtle.ConstantTimeCompare([]byte(candidate), []byte(code))
		counter = subtle.ConstantTimeSelect(eq, int(c), counter)
		matched |= eq
	}
	return uint64(counter), matched == 1
}

// OTPAuthURL builds the provisioning URL rendered as a QR code by the client:
//
//	otpauth://totp/<issuer>:<account>?secret=..&issuer=..&algorithm=SHA1&digits=6&period=30
func (a *Authenticator) OTPAuthURL(account, secret string) string {
	label := url.PathEscape(a.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", a.Issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", strconv.Itoa(Digits))
	v.Set("period", strconv.Itoa(int(Period/time.Second)))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

func numeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
