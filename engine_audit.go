package authcore

import (
	"context"
)

const (
	auditEventRegister              = "register"
	auditEventEmailVerification     = "email_verification"
	auditEventVerificationResent    = "email_verification_resent"
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventTwoFactorRequired     = "two_factor_required"
	auditEventTwoFactorSuccess      = "two_factor_success"
	auditEventTwoFactorFailure      = "two_factor_failure"
	auditEventTwoFactorResent       = "two_factor_resent"
	auditEventAttemptsExceeded      = "otp_attempts_exceeded"
	auditEventSessionCreated        = "session_created"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshFailure        = "refresh_failure"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventLogout                = "logout"
	auditEventSessionRevoked        = "session_revoked"
	auditEventSessionsRevoked       = "sessions_revoked"
	auditEventPasswordChange        = "password_change"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordReset         = "password_reset"
	auditEventTwoFactorEmailEnabled = "two_factor_email_enabled"
	auditEventAuthenticatorSetup    = "authenticator_setup_started"
	auditEventAuthenticatorEnabled  = "authenticator_enabled"
	auditEventTwoFactorDisabled     = "two_factor_disabled"
)

// emitAudit queues an event. The error, if any, is recorded by kind only so
// internal error text never reaches the audit trail.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		Type:      eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        metaFromContext(ctx).IP,
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = KindOf(err).String()
	}

	e.audit.Emit(ctx, event)
}
