package twofactor

import "errors"

var (
	// ErrOTPInvalid is returned when a presented code does not match.
	ErrOTPInvalid = errors.New("twofactor: invalid code")
	// ErrOTPExpired is returned when the stored code is past its expiry.
	ErrOTPExpired = errors.New("twofactor: code expired")
	// ErrNoPendingSetup is returned when confirming an authenticator that was never started.
	ErrNoPendingSetup = errors.New("twofactor: no authenticator setup in progress")
	// ErrInvalidSecret is returned for secrets that are not valid unpadded Base32.
	ErrInvalidSecret = errors.New("twofactor: invalid authenticator secret")
	// ErrInvalidRecord is returned when a persisted record describes an impossible state.
	ErrInvalidRecord = errors.New("twofactor: invalid persisted state")
)
