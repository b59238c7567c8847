package authcore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lendloop/authcore/account"
	"github.com/lendloop/authcore/mail"
	"github.com/lendloop/authcore/password"
	"github.com/lendloop/authcore/session"
)

const resetTokenBytes = 32

// ForgotPassword emails a single-use reset link. Only the SHA-256 of the
// token is stored. It always succeeds for well-formed input so it cannot be
// used to discover accounts.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	e.metricInc(MetricPasswordResetRequest)

	u, err := e.users.ByEmail(ctx, email)
	if errors.Is(err, account.ErrNotFound) {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", ErrNotFound, nil)
		return nil
	}
	if err != nil {
		return internalError("load user", err)
	}

	raw := make([]byte, resetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return internalError("generate reset token", err)
	}
	token := hex.EncodeToString(raw)
	expiresAt := e.now().Add(e.config.Account.ResetTokenTTL)

	if err := e.users.SetResetToken(ctx, u.ID, session.HashToken(token), expiresAt); err != nil {
		return internalError("store reset token", err)
	}

	link := strings.TrimRight(e.config.Account.AppURL, "/") + "/reset-password/" + token
	e.sendMail(ctx, mail.NewMessage(u.Email, "Reset your password", mail.TemplatePasswordReset, map[string]string{
		"username": u.Username,
		"resetUrl": link,
		"expires":  e.config.Account.ResetTokenTTL.String(),
	}))

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, u.ID, "", nil, nil)
	return nil
}

// ResetPassword sets a new password from a reset link token, revokes every
// session of the user and returns cookies that log out the current browser.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) ([]*http.Cookie, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMissing
	}

	tokenHash := session.HashToken(token)
	u, err := e.users.ByResetTokenHash(ctx, tokenHash)
	if errors.Is(err, account.ErrNotFound) {
		e.metricInc(MetricPasswordResetFailure)
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, internalError("load user", err)
	}
	if !e.now().Before(u.ResetTokenExpiresAt) {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordReset, false, u.ID, "", ErrTokenExpired, nil)
		return nil, ErrTokenExpired
	}
	if err := password.Validate(newPassword); err != nil {
		return nil, validationError("password", err.Error())
	}

	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return nil, internalError("hash password", err)
	}
	// the token is spent in the same write, so a second reset racing this
	// one finds it gone
	consumed, err := e.users.ConsumeResetToken(ctx, u.ID, tokenHash, hash)
	if err != nil {
		return nil, internalError("update password", err)
	}
	if !consumed {
		e.metricInc(MetricPasswordResetFailure)
		return nil, ErrTokenInvalid
	}

	n, err := e.sessions.RevokeAllForUser(ctx, u.ID, session.ReasonPasswordReset, session.Except{})
	if err != nil {
		return nil, internalError("revoke sessions", err)
	}
	e.metrics.Add(MetricSessionRevoked, n)

	e.sendPasswordChanged(ctx, u)

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordReset, true, u.ID, "", nil, func() map[string]string {
		return map[string]string{"revoked_sessions": strconv.Itoa(n)}
	})
	return e.cookies.ClearAll(), nil
}

// ChangePassword replaces the caller's password. Every session, including
// the current one, is revoked; the calling device then gets a fresh session
// so it stays signed in.
func (e *Engine) ChangePassword(ctx context.Context, p Principal, current, next string) (*AuthResult, error) {
	u, err := e.userFor(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	ok, err := e.passwords.Verify(current, u.PasswordHash)
	if err != nil {
		return nil, internalError("verify password", err)
	}
	if !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChange, false, u.ID, p.SessionID, ErrInvalidCredentials, nil)
		return nil, &Error{Kind: KindInvalidCredentials, Field: "currentPassword", Message: "current password is incorrect"}
	}
	if err := password.Validate(next); err != nil {
		return nil, validationError("newPassword", err.Error())
	}
	if same, _ := e.passwords.Verify(next, u.PasswordHash); same {
		return nil, validationError("newPassword", "new password must differ from the current one")
	}

	hash, err := e.passwords.Hash(next)
	if err != nil {
		return nil, internalError("hash password", err)
	}
	if err := e.users.SetPassword(ctx, u.ID, hash); err != nil {
		return nil, internalError("update password", err)
	}

	// keep the device identity of the session being replaced
	if metaFromContext(ctx).DeviceID == "" {
		if cur, err := e.sessions.Get(ctx, p.SessionID); err == nil && cur.UserID == u.ID {
			ctx = WithDeviceID(ctx, cur.DeviceID)
		}
	}

	n, err := e.sessions.RevokeAllForUser(ctx, u.ID, session.ReasonPasswordChanged, session.Except{})
	if err != nil {
		return nil, internalError("revoke sessions", err)
	}
	e.metrics.Add(MetricSessionRevoked, n)

	res, err := e.issueSession(ctx, u)
	if err != nil {
		return nil, err
	}

	e.sendPasswordChanged(ctx, u)

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, u.ID, res.SessionID, nil, func() map[string]string {
		return map[string]string{"revoked_sessions": strconv.Itoa(n)}
	})
	return res, nil
}

func (e *Engine) sendPasswordChanged(ctx context.Context, u *account.User) {
	e.sendMail(ctx, mail.NewMessage(u.Email, "Your password was changed", mail.TemplatePasswordChanged, map[string]string{
		"username": u.Username,
	}))
	e.logger.Info("password changed", zap.String("user_id", u.ID))
}
