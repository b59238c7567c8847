package middleware

import (
	"net/http"

	"github.com/lendloop/authcore"
)

func RequireStrict(engine *authcore.Engine) func(http.Handler) http.Handler {
	return Guard(engine, authcore.ModeStrict)
}
