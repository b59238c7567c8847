package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lendloop/authcore"
	"github.com/lendloop/authcore/cookie"
)

type principalContextKey struct{}

// PrincipalFromContext returns the caller stored by a guard.
func PrincipalFromContext(ctx context.Context) (authcore.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*authcore.Principal)
	if !ok || p == nil {
		return authcore.Principal{}, false
	}
	return *p, true
}

// ErrorHandler writes the response for a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	kind := authcore.KindOf(err)
	http.Error(w, http.StatusText(kind.HTTPStatus()), kind.HTTPStatus())
}

// Guard rejects requests without a valid access token. Failures are written
// as plain-text status responses.
func Guard(engine *authcore.Engine, routeMode authcore.RouteMode) func(http.Handler) http.Handler {
	return GuardWith(engine, routeMode, nil)
}

// GuardWith is Guard with a custom error writer. A nil onError falls back to
// plain-text responses.
func GuardWith(engine *authcore.Engine, routeMode authcore.RouteMode, onError ErrorHandler) func(http.Handler) http.Handler {
	if onError == nil {
		onError = defaultErrorHandler
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				onError(w, r, authcore.ErrTokenMissing)
				return
			}

			token := AccessToken(r)
			p, err := engine.Validate(r.Context(), token, routeMode)
			if err != nil {
				onError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessToken returns the access token of r: the access_token cookie when
// present, else an Authorization bearer token, else "".
func AccessToken(r *http.Request) string {
	if v, err := cookie.Read(r, cookie.AccessName); err == nil {
		return v
	}
	token, _ := bearerToken(r.Header.Get("Authorization"))
	return token
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
