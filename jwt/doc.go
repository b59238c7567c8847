// Package jwt signs and verifies the three HS256 token families used by the
// authentication engine: short-lived access tokens, long-lived refresh tokens
// (a separate secret), and the single-purpose 2FA capability token that
// bridges the password step and the second-factor step of a login.
package jwt
