package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Revocation reasons recorded on the session.
const (
	ReasonLogout          = "User logout"
	ReasonReuseDetected   = "Refresh token reuse detected"
	ReasonPasswordChanged = "Password changed"
	ReasonPasswordReset   = "Password reset"
	ReasonRevokedByUser   = "Revoked by user"
	ReasonRevokedOthers   = "Signed out of other sessions"
	ReasonRevokedAll      = "Signed out of all sessions"
)

// Session is one authenticated device.
type Session struct {
	ID           string
	UserID       string
	DeviceID     string
	IP           string
	UserAgent    string
	RefreshHash  string
	CreatedAt    time.Time
	LastUsedAt   time.Time
	RevokedAt    *time.Time
	RevokeReason string
}

// Active reports whether the session has not been revoked.
func (s *Session) Active() bool {
	return s.RevokedAt == nil
}

// NewSession carries the request metadata recorded at creation.
type NewSession struct {
	UserID    string
	DeviceID  string
	IP        string
	UserAgent string
}

// Except narrows RevokeAllForUser. Empty fields match nothing.
type Except struct {
	SessionID string
	DeviceID  string
}

func (e Except) matches(s *Session) bool {
	return (e.SessionID != "" && s.ID == e.SessionID) ||
		(e.DeviceID != "" && s.DeviceID == e.DeviceID)
}

// HashToken returns the hex SHA-256 digest stored for a refresh token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
