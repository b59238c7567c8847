// Package twofactor implements the second-factor primitives used by the
// authentication engine: RFC 6238 authenticator codes, short-lived email
// one-time passwords, and the per-account two-factor configuration state
// machine.
//
// Nothing in this package performs I/O. Persistence of [Record] values and
// delivery of email codes belong to the caller.
package twofactor
