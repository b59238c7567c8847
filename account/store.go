package account

import (
	"context"
	"errors"
	"time"

	"github.com/lendloop/authcore/twofactor"
)

var (
	ErrNotFound      = errors.New("account: user not found")
	ErrEmailTaken    = errors.New("account: email already registered")
	ErrUsernameTaken = errors.New("account: username already taken")
	ErrUnavailable   = errors.New("account: store unavailable")
)

// Store persists users. Every method is safe for concurrent use.
type Store interface {
	// Create inserts a user, assigning ID and timestamps. Email and username
	// uniqueness is case-insensitive.
	Create(ctx context.Context, in NewUser) (*User, error)
	ByID(ctx context.Context, id string) (*User, error)
	// ByLogin resolves an email address or a username.
	ByLogin(ctx context.Context, login string) (*User, error)
	ByEmail(ctx context.Context, email string) (*User, error)
	// ByResetTokenHash resolves the user holding an outstanding reset token.
	ByResetTokenHash(ctx context.Context, hash string) (*User, error)

	// SetOTP replaces the code slot for purpose; nil clears it.
	SetOTP(ctx context.Context, id string, purpose Purpose, otp *twofactor.OTPState) error
	// ConsumeOTP clears the code slot only if it still holds code, and
	// reports whether it did. Consuming the email verification code also
	// marks the email verified in the same write.
	ConsumeOTP(ctx context.Context, id string, purpose Purpose, code string) (bool, error)
	// IncrementOTPAttempts bumps the failed-attempt counter of the slot and
	// returns the new value.
	IncrementOTPAttempts(ctx context.Context, id string, purpose Purpose) (int, error)

	// SetTwoFactor stores a new two-factor state and drops any outstanding
	// login challenge.
	SetTwoFactor(ctx context.Context, id string, state twofactor.State) error
	// AdvanceTOTPStep records step as the newest accepted authenticator time
	// step, only if it is newer than the recorded one. It reports whether the
	// step was recorded.
	AdvanceTOTPStep(ctx context.Context, id string, step uint64) (bool, error)
	// SetPassword stores a new hash and clears any reset token.
	SetPassword(ctx context.Context, id string, hash string) error
	// ConsumeResetToken stores a new password hash and clears the reset token
	// only while the user still holds tokenHash. It reports whether it did.
	ConsumeResetToken(ctx context.Context, id, tokenHash, passwordHash string) (bool, error)
	// SetResetToken records the hash of an outstanding reset token,
	// replacing any previous one.
	SetResetToken(ctx context.Context, id string, hash string, expiresAt time.Time) error
}
