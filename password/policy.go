package password

import (
	"errors"
	"unicode"
)

// Policy errors. Messages are shown to users as-is.
var (
	ErrTooShort     = errors.New("password must be at least 8 characters")
	ErrTooLong      = errors.New("password must be at most 128 characters")
	ErrNeedsUpper   = errors.New("password must contain an uppercase letter")
	ErrNeedsLower   = errors.New("password must contain a lowercase letter")
	ErrNeedsDigit   = errors.New("password must contain a digit")
	ErrNeedsSpecial = errors.New("password must contain a special character")
)

const (
	MinLength = 8
	MaxLength = 128
)

// Validate checks password against the account policy and returns the first
// rule it breaks.
func Validate(password string) error {
	n := len([]rune(password))
	if n < MinLength {
		return ErrTooShort
	}
	if n > MaxLength {
		return ErrTooLong
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	switch {
	case !upper:
		return ErrNeedsUpper
	case !lower:
		return ErrNeedsLower
	case !digit:
		return ErrNeedsDigit
	case !special:
		return ErrNeedsSpecial
	}
	return nil
}
