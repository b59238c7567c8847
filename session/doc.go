// Package session persists one record per authenticated device in Redis and
// enforces refresh-token rotation.
//
// # Layout
//
//	<prefix>:<sessionID>      hash   user_id device_id ip user_agent refresh_hash
//	                                 created_at last_used_at revoked_at revoke_reason
//	<prefix>:u:<userID>       zset   sessionID scored by last_used_at (ms)
//
// Only the SHA-256 of the current refresh token is stored. Rotation and
// revocation run as Lua scripts so the compare-hash-and-replace step is
// linearizable across concurrent refreshes of the same session.
//
// Revocation is one-way and sessions are never deleted; revoked records stay
// as an audit trail.
package session
