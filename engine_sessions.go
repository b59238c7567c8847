package authcore

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/lendloop/authcore/session"
)

// Me returns the caller's profile.
func (e *Engine) Me(ctx context.Context, p Principal) (*Profile, error) {
	u, err := e.userFor(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	prof := newProfile(u)
	return &prof, nil
}

// ListSessions returns the caller's sessions, most recently used first. The
// session behind the caller's access token is flagged Current.
func (e *Engine) ListSessions(ctx context.Context, p Principal, activeOnly bool) ([]SessionView, error) {
	list, err := e.sessions.ListForUser(ctx, p.UserID, activeOnly)
	if err != nil {
		return nil, internalError("list sessions", err)
	}
	views := make([]SessionView, 0, len(list))
	for _, s := range list {
		views = append(views, newSessionView(s, p.SessionID))
	}
	return views, nil
}

// RevokeSession revokes one of the caller's sessions. Revoking the current
// session also returns cookies that sign this browser out; otherwise the
// returned slice is empty. Sessions of other users are reported as not
// found.
func (e *Engine) RevokeSession(ctx context.Context, p Principal, sessionID string) ([]*http.Cookie, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, internalError("load session", err)
	}
	if sess.UserID != p.UserID {
		return nil, ErrNotFound
	}

	revoked, err := e.sessions.Revoke(ctx, sess.ID, session.ReasonRevokedByUser)
	if err != nil {
		return nil, internalError("revoke session", err)
	}
	if revoked {
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventSessionRevoked, true, p.UserID, sess.ID, nil, nil)
	}

	if sess.ID == p.SessionID {
		return e.cookies.ClearAll(), nil
	}
	return nil, nil
}

// RevokeOtherSessions signs out every other device. Sessions sharing the
// caller's session ID or device ID survive.
func (e *Engine) RevokeOtherSessions(ctx context.Context, p Principal) (int, error) {
	except := session.Except{SessionID: p.SessionID}
	if cur, err := e.sessions.Get(ctx, p.SessionID); err == nil && cur.UserID == p.UserID {
		except.DeviceID = cur.DeviceID
	}

	n, err := e.sessions.RevokeAllForUser(ctx, p.UserID, session.ReasonRevokedOthers, except)
	if err != nil {
		return 0, internalError("revoke sessions", err)
	}
	e.metrics.Add(MetricSessionRevoked, n)
	e.emitAudit(ctx, auditEventSessionsRevoked, true, p.UserID, p.SessionID, nil, func() map[string]string {
		return map[string]string{"scope": "others", "count": strconv.Itoa(n)}
	})
	return n, nil
}

// RevokeAllSessions signs out every device including this one.
func (e *Engine) RevokeAllSessions(ctx context.Context, p Principal) (int, []*http.Cookie, error) {
	n, err := e.sessions.RevokeAllForUser(ctx, p.UserID, session.ReasonRevokedAll, session.Except{})
	if err != nil {
		return 0, nil, internalError("revoke sessions", err)
	}
	e.metrics.Add(MetricSessionRevoked, n)
	e.emitAudit(ctx, auditEventSessionsRevoked, true, p.UserID, p.SessionID, nil, func() map[string]string {
		return map[string]string{"scope": "all", "count": strconv.Itoa(n)}
	})
	return n, e.cookies.ClearAll(), nil
}
