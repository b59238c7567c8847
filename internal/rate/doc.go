// Package rate implements the optional login throttle: fixed-window failure
// counters kept in Redis (INCR, then EXPIRE on the first hit).
//
// Keys:
//   - <prefix>:login:<identifier> counts failures per login name or email
//   - <prefix>:ip:<ip> counts failures per client IP when PerIP is set
package rate
