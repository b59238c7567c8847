package internaldefs

import (
	"github.com/lendloop/authcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Accounts created."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected for a taken email or username."},
	{ID: authcore.MetricEmailVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Successful email verifications."},
	{ID: authcore.MetricEmailVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Logins that issued a session."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: authcore.MetricLoginUnverified, Name: "authcore_login_unverified_total", Help: "Correct passwords on unverified accounts."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Logins rejected by the throttle."},
	{ID: authcore.MetricTwoFactorRequired, Name: "authcore_two_factor_required_total", Help: "Logins that required a second factor."},
	{ID: authcore.MetricTwoFactorSuccess, Name: "authcore_two_factor_success_total", Help: "Successful second factor checks."},
	{ID: authcore.MetricTwoFactorFailure, Name: "authcore_two_factor_failure_total", Help: "Failed second factor checks."},
	{ID: authcore.MetricTOTPReplay, Name: "authcore_totp_replay_total", Help: "Authenticator codes rejected for a time step already spent."},
	{ID: authcore.MetricTwoFactorTicketReuse, Name: "authcore_two_factor_ticket_reuse_total", Help: "2FA tickets presented after they were redeemed."},
	{ID: authcore.MetricAttemptsExceeded, Name: "authcore_otp_attempts_exceeded_total", Help: "Code slots that reached the attempt limit."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Refresh token reuse detections."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Sessions created."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Sessions revoked for any reason."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logouts that revoked a session."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeInvalidOld, Name: "authcore_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetSuccess, Name: "authcore_password_reset_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordResetFailure, Name: "authcore_password_reset_failure_total", Help: "Rejected reset tokens."},
	{ID: authcore.MetricTwoFactorEnabled, Name: "authcore_two_factor_enabled_total", Help: "Second factors enabled."},
	{ID: authcore.MetricTwoFactorDisabled, Name: "authcore_two_factor_disabled_total", Help: "Second factors disabled."},
	{ID: authcore.MetricMailFailure, Name: "authcore_mail_failure_total", Help: "Outgoing mails that could not be handed off."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricRefreshLatency, Name: "authcore_refresh_latency_seconds", Help: "Refresh latency histogram."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

// HistogramBounds are the bucket upper bounds in seconds, matching the
// engine's millisecond buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds spelled for metric names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero filling missing
// buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into Prometheus style running
// totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
