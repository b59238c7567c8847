package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/lendloop/authcore/account"
	"github.com/lendloop/authcore/twofactor"
)

// TwoFactorStatus reports the caller's second factor configuration.
func (e *Engine) TwoFactorStatus(ctx context.Context, p Principal) (TwoFactorStatus, error) {
	u, err := e.userFor(ctx, p.UserID)
	if err != nil {
		return TwoFactorStatus{}, err
	}
	return statusOf(u), nil
}

// EnableEmailTwoFactor switches the caller to emailed login codes. Any
// authenticator secret, active or pending, is dropped.
func (e *Engine) EnableEmailTwoFactor(ctx context.Context, p Principal) (TwoFactorStatus, error) {
	u, st, err := e.twoFactorOwner(ctx, p)
	if err != nil {
		return TwoFactorStatus{}, err
	}
	if !u.EmailVerified {
		return TwoFactorStatus{}, ErrEmailNotVerified
	}

	next := st.EnableEmail()
	if err := e.commitTwoFactor(ctx, u, next); err != nil {
		return TwoFactorStatus{}, err
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEmailEnabled, true, u.ID, p.SessionID, nil, nil)
	return statusOf(u), nil
}

// StartAuthenticatorSetup generates a secret and stores it as pending. The
// current mode stays in force until the secret is confirmed with a code.
func (e *Engine) StartAuthenticatorSetup(ctx context.Context, p Principal) (*AuthenticatorSetup, error) {
	u, st, err := e.twoFactorOwner(ctx, p)
	if err != nil {
		return nil, err
	}

	secret, err := twofactor.GenerateSecret()
	if err != nil {
		return nil, internalError("generate authenticator secret", err)
	}
	if err := e.commitTwoFactor(ctx, u, st.BeginAuthenticatorSetup(secret)); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventAuthenticatorSetup, true, u.ID, p.SessionID, nil, nil)
	return &AuthenticatorSetup{
		OTPAuthURL: e.totp.OTPAuthURL(u.Email, secret),
		ManualKey:  secret,
	}, nil
}

// VerifyAuthenticatorSetup promotes the pending secret once the user proves
// their app produces matching codes.
func (e *Engine) VerifyAuthenticatorSetup(ctx context.Context, p Principal, code string) (TwoFactorStatus, error) {
	u, st, err := e.twoFactorOwner(ctx, p)
	if err != nil {
		return TwoFactorStatus{}, err
	}
	if !st.SetupPending() {
		return TwoFactorStatus{}, validationError("otp", "no authenticator setup in progress")
	}
	if err := e.checkAuthenticatorCode(ctx, u.ID, st.PendingSecret(), code); err != nil {
		e.emitAudit(ctx, auditEventAuthenticatorEnabled, false, u.ID, p.SessionID, err, nil)
		return TwoFactorStatus{}, err
	}

	next, err := st.ConfirmAuthenticator()
	if errors.Is(err, twofactor.ErrNoPendingSetup) {
		return TwoFactorStatus{}, validationError("otp", "no authenticator setup in progress")
	}
	if err != nil {
		return TwoFactorStatus{}, internalError("confirm authenticator", err)
	}
	if err := e.commitTwoFactor(ctx, u, next); err != nil {
		return TwoFactorStatus{}, err
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventAuthenticatorEnabled, true, u.ID, p.SessionID, nil, nil)
	return statusOf(u), nil
}

// DisableTwoFactor turns the second factor off after re-checking the
// password.
func (e *Engine) DisableTwoFactor(ctx context.Context, p Principal, plain string) (TwoFactorStatus, error) {
	u, st, err := e.twoFactorOwner(ctx, p)
	if err != nil {
		return TwoFactorStatus{}, err
	}

	ok, err := e.passwords.Verify(plain, u.PasswordHash)
	if err != nil {
		return TwoFactorStatus{}, internalError("verify password", err)
	}
	if !ok {
		e.emitAudit(ctx, auditEventTwoFactorDisabled, false, u.ID, p.SessionID, ErrInvalidCredentials, nil)
		return TwoFactorStatus{}, &Error{Kind: KindInvalidCredentials, Field: "password", Message: "password is incorrect"}
	}

	if err := e.commitTwoFactor(ctx, u, st.Disable()); err != nil {
		return TwoFactorStatus{}, err
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, u.ID, p.SessionID, nil, nil)
	return statusOf(u), nil
}

func (e *Engine) twoFactorOwner(ctx context.Context, p Principal) (*account.User, twofactor.State, error) {
	u, err := e.userFor(ctx, p.UserID)
	if err != nil {
		return nil, twofactor.State{}, err
	}
	st, err := u.TwoFactorState()
	if err != nil {
		return nil, twofactor.State{}, internalError("decode two-factor state", err)
	}
	return u, st, nil
}

// commitTwoFactor persists next and mirrors it onto u so callers can report
// the new status without another read.
// checkAuthenticatorCode verifies code against secret. With replay
// protection on, the code's time step is spent, so a code accepted once is
// refused afterwards even inside its validity window.
func (e *Engine) checkAuthenticatorCode(ctx context.Context, userID, secret, code string) error {
	step, ok := e.totp.Match(secret, strings.TrimSpace(code), e.now())
	if !ok {
		return ErrOTPInvalid
	}
	if !e.config.TwoFactor.EnforceReplayProtection {
		return nil
	}
	fresh, err := e.users.AdvanceTOTPStep(ctx, userID, step)
	if err != nil {
		return internalError("record authenticator step", err)
	}
	if !fresh {
		e.metricInc(MetricTOTPReplay)
		return ErrOTPInvalid
	}
	return nil
}

func (e *Engine) commitTwoFactor(ctx context.Context, u *account.User, next twofactor.State) error {
	if err := e.users.SetTwoFactor(ctx, u.ID, next); err != nil {
		return internalError("store two-factor state", err)
	}
	u.TwoFactor = next.Record()
	return nil
}
