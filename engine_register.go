package authcore

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/lendloop/authcore/account"
	mailer "github.com/lendloop/authcore/mail"
	"github.com/lendloop/authcore/password"
	"github.com/lendloop/authcore/twofactor"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

func validateRegistration(in *RegisterInput) error {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = account.NormalizeEmail(in.Email)

	if !usernamePattern.MatchString(in.Username) {
		return validationError("username", "username must be 3-30 letters, digits or underscores")
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return validationError("email", "please provide a valid email address")
	}
	if err := password.Validate(in.Password); err != nil {
		return validationError("password", err.Error())
	}
	return nil
}

// Register creates an unverified account and emails a verification code.
// Delivery failures are logged; the user can ask for a new code.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*Profile, error) {
	if err := validateRegistration(&in); err != nil {
		return nil, err
	}

	hash, err := e.passwords.Hash(in.Password)
	if err != nil {
		return nil, internalError("hash password", err)
	}
	otp, err := e.emailOTP.Generate(e.now())
	if err != nil {
		return nil, internalError("generate verification code", err)
	}

	u, err := e.users.Create(ctx, account.NewUser{
		Email:           in.Email,
		Username:        in.Username,
		PasswordHash:    hash,
		Role:            account.DefaultRole,
		VerificationOTP: &otp,
	})
	switch {
	case errors.Is(err, account.ErrEmailTaken):
		e.metricInc(MetricRegisterDuplicate)
		return nil, conflictError("email", "an account with this email already exists")
	case errors.Is(err, account.ErrUsernameTaken):
		e.metricInc(MetricRegisterDuplicate)
		return nil, conflictError("username", "this username is taken")
	case err != nil:
		return nil, internalError("create user", err)
	}

	e.sendVerification(ctx, u, otp)

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, u.ID, "", nil, nil)

	p := newProfile(u)
	return &p, nil
}

func (e *Engine) sendVerification(ctx context.Context, u *account.User, otp twofactor.OTPState) {
	e.sendMail(ctx, mailer.NewMessage(u.Email, "Verify your email", mailer.TemplateVerifyEmail, map[string]string{
		"username": u.Username,
		"otp":      otp.Code,
	}))
}

// ResendVerificationOTP issues a new verification code. It succeeds without
// doing anything for unknown or already verified addresses so the endpoint
// cannot be used to probe for accounts.
func (e *Engine) ResendVerificationOTP(ctx context.Context, email string) error {
	u, err := e.users.ByEmail(ctx, email)
	if errors.Is(err, account.ErrNotFound) {
		return nil
	}
	if err != nil {
		return internalError("load user", err)
	}
	if u.EmailVerified {
		return nil
	}

	otp, err := e.emailOTP.Generate(e.now())
	if err != nil {
		return internalError("generate verification code", err)
	}
	if err := e.users.SetOTP(ctx, u.ID, account.PurposeEmailVerification, &otp); err != nil {
		return internalError("store verification code", err)
	}

	e.sendVerification(ctx, u, otp)
	e.emitAudit(ctx, auditEventVerificationResent, true, u.ID, "", nil, nil)
	return nil
}

// VerifyEmail checks a registration code and marks the address verified.
// Unknown and already verified addresses fail like a wrong code, so the
// endpoint reveals nothing about which accounts exist.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) (*Profile, error) {
	u, err := e.users.ByEmail(ctx, email)
	if errors.Is(err, account.ErrNotFound) {
		return nil, ErrOTPInvalid
	}
	if err != nil {
		return nil, internalError("load user", err)
	}
	if u.EmailVerified {
		return nil, ErrOTPInvalid
	}

	if err := e.consumeEmailCode(ctx, u, account.PurposeEmailVerification, code); err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerification, false, u.ID, "", err, nil)
		return nil, err
	}

	u.EmailVerified = true
	u.VerificationOTP = nil

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerification, true, u.ID, "", nil, nil)

	p := newProfile(u)
	return &p, nil
}

// consumeEmailCode checks code against the stored slot and clears the slot
// in one conditional write. Failures are counted on the slot.
func (e *Engine) consumeEmailCode(ctx context.Context, u *account.User, purpose account.Purpose, code string) error {
	code = strings.TrimSpace(code)
	state := u.OTP(purpose)

	if state != nil && e.attempts.Exceeded(purpose, state.Attempts) {
		return ErrTooManyAttempts
	}
	if err := twofactor.Check(state, code, e.now()); err != nil {
		e.recordCodeFailure(ctx, u.ID, purpose)
		if errors.Is(err, twofactor.ErrOTPExpired) {
			return ErrOTPExpired
		}
		return ErrOTPInvalid
	}

	ok, err := e.users.ConsumeOTP(ctx, u.ID, purpose, code)
	if err != nil {
		return internalError("consume code", err)
	}
	if !ok {
		// replaced by a resend or consumed concurrently
		return ErrOTPInvalid
	}
	return nil
}

// recordCodeFailure bumps the attempt counter. A storage failure is logged;
// the caller still reports the original mismatch.
func (e *Engine) recordCodeFailure(ctx context.Context, userID string, purpose account.Purpose) {
	n, err := e.users.IncrementOTPAttempts(ctx, userID, purpose)
	if err != nil {
		e.logger.Warn("record failed code attempt",
			zap.String("user_id", userID),
			zap.String("purpose", string(purpose)),
			zap.Error(err),
		)
		return
	}
	if e.attempts.Exceeded(purpose, n) {
		e.metricInc(MetricAttemptsExceeded)
		e.emitAudit(ctx, auditEventAttemptsExceeded, false, userID, "", ErrTooManyAttempts, func() map[string]string {
			return map[string]string{"purpose": string(purpose)}
		})
	}
}
