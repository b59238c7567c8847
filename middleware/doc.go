// Package middleware adapts authcore.Engine access validation to net/http.
//
// # Guards
//
//   - [Guard] validates with an explicit [authcore.RouteMode].
//   - [RequireAuth] follows the engine's configured mode.
//   - [RequireJWTOnly] checks the token only, with no Redis call.
//   - [RequireStrict] also requires the session to be active.
//
// Each guard reads the access_token cookie, falling back to an
// Authorization bearer header, and stores the validated
// [authcore.Principal] in the request context.
//
// [RequestMeta] copies the client IP, User-Agent and X-Device-ID header into
// the context so sessions and audit events record them.
//
// This package makes no authentication decisions of its own; everything is
// delegated to Engine.Validate.
package middleware
