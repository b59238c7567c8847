package twofactor

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
)

// DefaultOTPTTL is how long an emailed code stays valid.
const DefaultOTPTTL = 10 * time.Minute

// OTPState is a stored one-time code. Attempts counts failed checks made
// against this code and is reset whenever a new code is issued.
type OTPState struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts"`
}

// EmailOTP issues six digit codes delivered by email.
type EmailOTP struct {
	TTL  time.Duration
	rand io.Reader
}

// NewEmailOTP returns an issuer with the given lifetime; ttl <= 0 selects
// DefaultOTPTTL.
func NewEmailOTP(ttl time.Duration) *EmailOTP {
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	return &EmailOTP{TTL: ttl, rand: rand.Reader}
}

var (
	otpFloor = big.NewInt(100000)
	otpSpan  = big.NewInt(900000)
)

// Generate returns a fresh code drawn uniformly from [100000, 999999] with
// expiry now+TTL and zero attempts.
func (e *EmailOTP) Generate(now time.Time) (OTPState, error) {
	src := e.rand
	if src == nil {
		src = rand.Reader
	}
	n, err := rand.Int(src, otpSpan)
	if err != nil {
		return OTPState{}, fmt.Errorf("twofactor: generate code: %w", err)
	}
	n.Add(n, otpFloor)
	return OTPState{
		Code:      n.String(),
		ExpiresAt: now.Add(e.TTL),
	}, nil
}

// Check validates candidate against state. Expiry is reported before a
// mismatch so a stale code never looks merely wrong.
func Check(state *OTPState, candidate string, now time.Time) error {
	if state == nil || state.Code == "" {
		return ErrOTPInvalid
	}
	if !now.Before(state.ExpiresAt) {
		return ErrOTPExpired
	}
	candidate = strings.TrimSpace(candidate)
	if subtle.ConstantTimeCompare([]byte(state.Code), []byte(candidate)) != 1 {
		return ErrOTPInvalid
	}
	return nil
}
