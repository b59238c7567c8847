// Package authcore is the authentication and session core of the LendLoop
// marketplace: registration with email verification, password login with an
// optional second factor (emailed code or authenticator app), rotating
// refresh tokens with reuse detection, and per-device session management.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Flow
//
// Login moves a caller from unauthenticated to either authenticated (a new
// device session and an access/refresh cookie pair) or awaiting a second
// factor (a short-lived 2fa_token capability cookie). [Engine.VerifyTwoFactor]
// completes the second case with the same session issuance step.
//
// Every refresh rotates the stored refresh hash with a single compare and
// swap in Redis. Presenting a superseded refresh token revokes the session
// and returns [ErrReuseDetected].
//
// # Errors
//
// Every failure is an [*Error] carrying an [ErrorKind]. Callers branch with
// errors.Is against the package sentinels or with [KindOf]; HTTP adapters
// map kinds to status codes with [ErrorKind.HTTPStatus].
//
// # Cookies
//
// Results carry the exact cookies to write. The refresh cookie is scoped to
// /api/auth/refresh and the 2FA cookie to /api/auth/2fa, so neither is sent
// on ordinary API requests.
package authcore
