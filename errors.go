package authcore

import (
	"errors"
	"net/http"
)

// ErrorKind classifies every failure returned by the Engine. Callers branch
// on the kind, never on the message.
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindInvalidCredentials
	KindEmailNotVerified
	KindTokenMissing
	KindTokenInvalid
	KindTokenExpired
	KindSessionRevoked
	KindReuseDetected
	// KindTwoFactorRequired is not a failure: it names a login whose password
	// step passed and which now owes a second factor. The HTTP layer reports
	// it as the response code of such a login.
	KindTwoFactorRequired
	KindOTPInvalid
	KindOTPExpired
	KindTooManyAttempts
	KindRateLimited
)

var kindNames = [...]string{
	KindInternal:           "internal",
	KindValidation:         "validation",
	KindConflict:           "conflict",
	KindNotFound:           "not_found",
	KindInvalidCredentials: "invalid_credentials",
	KindEmailNotVerified:   "email_not_verified",
	KindTokenMissing:       "token_missing",
	KindTokenInvalid:       "token_invalid",
	KindTokenExpired:       "token_expired",
	KindSessionRevoked:     "session_revoked",
	KindReuseDetected:      "reuse_detected",
	KindTwoFactorRequired:  "two_factor_required",
	KindOTPInvalid:         "otp_invalid",
	KindOTPExpired:         "otp_expired",
	KindTooManyAttempts:    "too_many_attempts",
	KindRateLimited:        "rate_limited",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// HTTPStatus maps a kind to the response status. Every authentication
// failure is a 401.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTooManyAttempts, KindRateLimited:
		return http.StatusTooManyRequests
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// Error is the tagged error returned by Engine operations. Message is safe
// to show to end users; Err, when set, is the underlying cause and is only
// for logs.
type Error struct {
	Kind    ErrorKind
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind == KindInternal {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work with
// errors.Is. A reuse detection also matches ErrSessionRevoked.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind || (e.Kind == KindReuseDetected && t.Kind == KindSessionRevoked)
}

var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid login or password"}
	ErrEmailNotVerified   = &Error{Kind: KindEmailNotVerified, Message: "please verify your email before logging in"}
	ErrTokenMissing       = &Error{Kind: KindTokenMissing, Message: "authentication required"}
	ErrTokenInvalid       = &Error{Kind: KindTokenInvalid, Message: "invalid or malformed token"}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired, Message: "token has expired"}
	ErrSessionRevoked     = &Error{Kind: KindSessionRevoked, Message: "session has been revoked"}
	ErrReuseDetected      = &Error{Kind: KindReuseDetected, Message: "refresh token reuse detected, please log in again"}
	ErrTwoFactorRequired  = &Error{Kind: KindTwoFactorRequired, Message: "two-factor verification required"}
	ErrOTPInvalid         = &Error{Kind: KindOTPInvalid, Message: "invalid verification code"}
	ErrOTPExpired         = &Error{Kind: KindOTPExpired, Message: "verification code has expired"}
	ErrTooManyAttempts    = &Error{Kind: KindTooManyAttempts, Message: "too many failed attempts, request a new code"}
	ErrRateLimited        = &Error{Kind: KindRateLimited, Message: "too many attempts, try again later"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
)

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func validationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func conflictError(field, message string) *Error {
	return &Error{Kind: KindConflict, Field: field, Message: message}
}

func internalError(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: op, Err: err}
}
