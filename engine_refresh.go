package authcore

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lendloop/authcore/session"
)

// Refresh exchanges a refresh token for a new pair. The presented token must
// hash to the value stored on its session; anything else is treated as theft
// and revokes the session before ErrReuseDetected is returned.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricRefreshLatency, time.Since(start))
	}()

	if refreshToken == "" {
		return nil, ErrTokenMissing
	}
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, tokenError(err)
	}

	u, err := e.userFor(ctx, claims.UserID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	access, refresh, err := e.signPair(u.ID, u.Role, claims.SessionID)
	if err != nil {
		return nil, err
	}

	err = e.sessions.ValidateAndRotate(ctx, u.ID, claims.SessionID, refreshToken, refresh)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrReuseDetected):
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, u.ID, claims.SessionID, ErrReuseDetected, nil)
		e.logger.Warn("refresh token reuse detected",
			zap.String("user_id", u.ID),
			zap.String("session_id", claims.SessionID),
			zap.String("ip", metaFromContext(ctx).IP),
		)
		return nil, ErrReuseDetected
	case errors.Is(err, session.ErrRevoked):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, u.ID, claims.SessionID, ErrSessionRevoked, nil)
		return nil, ErrSessionRevoked
	case errors.Is(err, session.ErrNotFound):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, u.ID, claims.SessionID, ErrTokenInvalid, nil)
		return nil, ErrTokenInvalid
	default:
		return nil, internalError("rotate refresh token", err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, u.ID, claims.SessionID, nil, nil)

	return &RefreshResult{
		SessionID: claims.SessionID,
		Tokens:    Tokens{Access: access, Refresh: refresh},
		Cookies:   e.cookies.Session(access, refresh),
	}, nil
}

// Logout revokes the session named by the refresh token, when there is one,
// and always returns cookies that clear every auth cookie. Missing, expired,
// foreign or already revoked tokens are not errors.
func (e *Engine) Logout(ctx context.Context, refreshToken string) ([]*http.Cookie, error) {
	cleared := e.cookies.ClearAll()
	if refreshToken == "" {
		return cleared, nil
	}

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return cleared, nil
	}
	return cleared, e.logoutSession(ctx, claims.UserID, claims.SessionID)
}

// LogoutAccess is Logout for callers that only hold the access token, such
// as a browser whose refresh cookie is scoped away from the logout route.
// It revokes the session named by the token's sid claim. An expired or
// invalid access token only clears cookies.
func (e *Engine) LogoutAccess(ctx context.Context, accessToken string) ([]*http.Cookie, error) {
	cleared := e.cookies.ClearAll()
	if accessToken == "" {
		return cleared, nil
	}

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return cleared, nil
	}
	return cleared, e.logoutSession(ctx, claims.UserID, claims.SessionID)
}

func (e *Engine) logoutSession(ctx context.Context, userID, sessionID string) error {
	sess, err := e.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return internalError("load session", err)
	}
	if sess.UserID != userID || !sess.Active() {
		return nil
	}

	revoked, err := e.sessions.Revoke(ctx, sess.ID, session.ReasonLogout)
	if err != nil {
		return internalError("revoke session", err)
	}
	if revoked {
		e.metricInc(MetricLogout)
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventLogout, true, sess.UserID, sess.ID, nil, nil)
	}
	return nil
}
