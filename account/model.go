package account

import (
	"strings"
	"time"

	"github.com/lendloop/authcore/twofactor"
)

// Purpose selects which one-time code slot an operation touches.
type Purpose string

const (
	// PurposeEmailVerification is the code sent at registration.
	PurposeEmailVerification Purpose = "email_verification"
	// PurposeLogin is the email 2FA login challenge.
	PurposeLogin Purpose = "login"
)

// DefaultRole is assigned to self-registered users.
const DefaultRole = "user"

// User is the persisted account document.
type User struct {
	ID              string
	Email           string
	Username        string
	PasswordHash    string
	Role            string
	EmailVerified   bool
	VerificationOTP *twofactor.OTPState
	TwoFactor       twofactor.Record
	// TOTPLastStep is the newest authenticator time step accepted, zero when
	// none has been.
	TOTPLastStep uint64

	ResetTokenHash      string
	ResetTokenExpiresAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OTP returns the code slot for purpose.
func (u *User) OTP(purpose Purpose) *twofactor.OTPState {
	if purpose == PurposeLogin {
		return u.TwoFactor.LoginChallenge
	}
	return u.VerificationOTP
}

// TwoFactorState decodes the persisted two-factor record.
func (u *User) TwoFactorState() (twofactor.State, error) {
	return u.TwoFactor.State()
}

// NewUser is the input to Store.Create.
type NewUser struct {
	Email           string
	Username        string
	PasswordHash    string
	Role            string
	VerificationOTP *twofactor.OTPState
}

// NormalizeEmail lowercases and trims an address for lookups and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func cloneOTP(o *twofactor.OTPState) *twofactor.OTPState {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

func (u *User) clone() *User {
	c := *u
	c.VerificationOTP = cloneOTP(u.VerificationOTP)
	c.TwoFactor.LoginChallenge = cloneOTP(u.TwoFactor.LoginChallenge)
	return &c
}
