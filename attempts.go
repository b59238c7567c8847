package authcore

import "github.com/lendloop/authcore/account"

// AttemptPolicy decides when failed one-time code attempts stop being
// accepted. attempts is the persisted failure count for the code slot, read
// before a check and again right after a failure has been recorded. When
// Exceeded reports true the engine fails with ErrTooManyAttempts until a new
// code is issued.
type AttemptPolicy interface {
	Exceeded(purpose account.Purpose, attempts int) bool
}

// AttemptPolicyFunc adapts a function to AttemptPolicy.
type AttemptPolicyFunc func(purpose account.Purpose, attempts int) bool

func (f AttemptPolicyFunc) Exceeded(purpose account.Purpose, attempts int) bool {
	return f(purpose, attempts)
}

// CountOnly records failures but never blocks. It is the default.
type CountOnly struct{}

func (CountOnly) Exceeded(account.Purpose, int) bool { return false }

// MaxAttemptsPolicy blocks a code once max failures have been recorded
// against it. max <= 0 returns CountOnly.
func MaxAttemptsPolicy(max int) AttemptPolicy {
	if max <= 0 {
		return CountOnly{}
	}
	return AttemptPolicyFunc(func(_ account.Purpose, attempts int) bool {
		return attempts >= max
	})
}
