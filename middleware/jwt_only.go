package middleware

import (
	"net/http"

	"github.com/lendloop/authcore"
)

// RequireAuth validates with the engine's configured mode.
func RequireAuth(engine *authcore.Engine) func(http.Handler) http.Handler {
	return Guard(engine, authcore.ModeInherit)
}

// RequireJWTOnly overrides the validation mode to [authcore.ModeJWTOnly] for
// the wrapped handler, skipping Redis entirely.
func RequireJWTOnly(engine *authcore.Engine) func(http.Handler) http.Handler {
	return Guard(engine, authcore.ModeJWTOnly)
}
