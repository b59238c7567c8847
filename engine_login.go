package authcore

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lendloop/authcore/account"
	"github.com/lendloop/authcore/internal/rate"
	"github.com/lendloop/authcore/mail"
	"github.com/lendloop/authcore/twofactor"
)

// Login verifies a password and either issues a session or, when two-factor
// is enabled, a 2FA capability cookie. Unknown logins and wrong passwords
// fail identically and spend the same hashing effort. Only a caller who knows
// the password learns that the email is unverified.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	login := strings.TrimSpace(in.Login)
	if login == "" || in.Password == "" {
		return nil, validationError("login", "login and password are required")
	}
	ip := metaFromContext(ctx).IP

	if err := e.checkLoginThrottle(ctx, login, ip); err != nil {
		return nil, err
	}

	u, err := e.users.ByLogin(ctx, login)
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		return nil, internalError("load user", err)
	}
	if u == nil {
		e.passwords.VerifyDummy(in.Password)
		return nil, e.loginFailed(ctx, login, ip, "")
	}

	ok, err := e.passwords.Verify(in.Password, u.PasswordHash)
	if err != nil {
		return nil, internalError("verify password", err)
	}
	if !ok {
		return nil, e.loginFailed(ctx, login, ip, u.ID)
	}

	if !u.EmailVerified {
		e.metricInc(MetricLoginUnverified)
		e.emitAudit(ctx, auditEventLoginFailure, false, u.ID, "", ErrEmailNotVerified, nil)
		return nil, ErrEmailNotVerified
	}

	e.resetLoginThrottle(ctx, login)
	e.upgradeHash(ctx, u, in.Password)

	st, err := u.TwoFactorState()
	if err != nil {
		return nil, internalError("decode two-factor state", err)
	}
	if !st.Enabled() {
		res, err := e.issueSession(ctx, u)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, u.ID, res.SessionID, nil, nil)
		return &LoginResult{
			User:      &res.User,
			SessionID: res.SessionID,
			Tokens:    res.Tokens,
			Cookies:   res.Cookies,
		}, nil
	}

	return e.beginTwoFactor(ctx, u, st.Method())
}

func (e *Engine) beginTwoFactor(ctx context.Context, u *account.User, method twofactor.Method) (*LoginResult, error) {
	switch method {
	case twofactor.MethodEmail:
		if err := e.issueLoginChallenge(ctx, u); err != nil {
			return nil, err
		}
	default:
		// a fresh password step starts a fresh attempt budget
		if err := e.users.SetOTP(ctx, u.ID, account.PurposeLogin, nil); err != nil {
			return nil, internalError("reset login challenge", err)
		}
	}

	ticket, err := e.tokens.SignTwoFactor(u.ID)
	if err != nil {
		return nil, internalError("sign two-factor token", err)
	}

	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEventTwoFactorRequired, true, u.ID, "", nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})

	return &LoginResult{
		RequiresTwoFactor: true,
		Method:            method,
		Cookies:           []*http.Cookie{e.cookies.TwoFactor(ticket)},
	}, nil
}

func (e *Engine) issueLoginChallenge(ctx context.Context, u *account.User) error {
	otp, err := e.emailOTP.Generate(e.now())
	if err != nil {
		return internalError("generate login code", err)
	}
	if err := e.users.SetOTP(ctx, u.ID, account.PurposeLogin, &otp); err != nil {
		return internalError("store login code", err)
	}
	e.sendMail(ctx, mail.NewMessage(u.Email, "Your login code", mail.TemplateLoginOTP, map[string]string{
		"username": u.Username,
		"otp":      otp.Code,
	}))
	return nil
}

// VerifyTwoFactor completes a login started by Login. ticket is the value of
// the 2fa_token cookie; it is redeemed by the first successful call and
// rejected with TokenInvalid afterwards. On success the result carries the
// session cookies and an expired 2fa_token cookie.
func (e *Engine) VerifyTwoFactor(ctx context.Context, ticket, code string) (*AuthResult, error) {
	subject, err := e.twoFactorSubject(ctx, ticket)
	if err != nil {
		return nil, err
	}
	u, st := subject.user, subject.state

	switch st.Method() {
	case twofactor.MethodEmail:
		err = e.consumeEmailCode(ctx, u, account.PurposeLogin, code)
	case twofactor.MethodAuthenticator:
		err = e.checkAuthenticatorLogin(ctx, u, st, code)
	}
	if err == nil {
		err = e.redeemTicket(ctx, subject.ticketID)
	}
	if err != nil {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, u.ID, "", err, func() map[string]string {
			return map[string]string{"method": string(st.Method())}
		})
		return nil, err
	}

	res, err := e.issueSession(ctx, u)
	if err != nil {
		return nil, err
	}
	res.Cookies = append(res.Cookies, e.cookies.ClearTwoFactor())

	e.metricInc(MetricTwoFactorSuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, u.ID, res.SessionID, nil, func() map[string]string {
		return map[string]string{"method": string(st.Method())}
	})
	return res, nil
}

func (e *Engine) checkAuthenticatorLogin(ctx context.Context, u *account.User, st twofactor.State, code string) error {
	if slot := u.OTP(account.PurposeLogin); slot != nil && e.attempts.Exceeded(account.PurposeLogin, slot.Attempts) {
		return ErrTooManyAttempts
	}
	if err := e.checkAuthenticatorCode(ctx, u.ID, st.Secret(), code); err != nil {
		if KindOf(err) == KindOTPInvalid {
			e.recordCodeFailure(ctx, u.ID, account.PurposeLogin)
		}
		return err
	}
	if err := e.users.SetOTP(ctx, u.ID, account.PurposeLogin, nil); err != nil {
		return internalError("clear login challenge", err)
	}
	return nil
}

// ResendTwoFactor mails a new login code. It only applies to the email
// method and needs a still valid 2fa_token.
func (e *Engine) ResendTwoFactor(ctx context.Context, ticket string) error {
	subject, err := e.twoFactorSubject(ctx, ticket)
	if err != nil {
		return err
	}
	u := subject.user
	if subject.state.Method() != twofactor.MethodEmail {
		return validationError("method", "codes are only sent for email two-factor")
	}
	if err := e.issueLoginChallenge(ctx, u); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventTwoFactorResent, true, u.ID, "", nil, nil)
	return nil
}

type twoFactorTicket struct {
	user     *account.User
	state    twofactor.State
	ticketID string
}

// twoFactorSubject resolves the user behind a 2FA capability token. A
// redeemed ticket, or a user who disabled two-factor after the password
// step, gets TokenInvalid.
func (e *Engine) twoFactorSubject(ctx context.Context, ticket string) (twoFactorTicket, error) {
	if ticket == "" {
		return twoFactorTicket{}, ErrTokenMissing
	}
	claims, err := e.tokens.ParseTwoFactor(ticket)
	if err != nil {
		return twoFactorTicket{}, tokenError(err)
	}
	redeemed, err := e.sessions.TicketRedeemed(ctx, claims.ID)
	if err != nil {
		return twoFactorTicket{}, internalError("check two-factor ticket", err)
	}
	if redeemed {
		e.metricInc(MetricTwoFactorTicketReuse)
		return twoFactorTicket{}, ErrTokenInvalid
	}
	u, err := e.userFor(ctx, claims.UserID)
	if err != nil {
		return twoFactorTicket{}, err
	}
	st, err := u.TwoFactorState()
	if err != nil {
		return twoFactorTicket{}, internalError("decode two-factor state", err)
	}
	if !st.Enabled() {
		return twoFactorTicket{}, ErrTokenInvalid
	}
	return twoFactorTicket{user: u, state: st, ticketID: claims.ID}, nil
}

// redeemTicket spends a 2FA ticket. Of concurrent callers holding the same
// ticket only one gets through.
func (e *Engine) redeemTicket(ctx context.Context, ticketID string) error {
	ok, err := e.sessions.RedeemTicket(ctx, ticketID, e.config.JWT.TwoFactorTTL)
	if err != nil {
		return internalError("redeem two-factor ticket", err)
	}
	if !ok {
		e.metricInc(MetricTwoFactorTicketReuse)
		return ErrTokenInvalid
	}
	return nil
}

func (e *Engine) loginFailed(ctx context.Context, login, ip, userID string) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, nil)

	if e.limiter == nil {
		return ErrInvalidCredentials
	}
	if err := e.limiter.IncrementLogin(ctx, login, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		e.logger.Warn("login throttle unavailable", zap.Error(err))
	}
	return ErrInvalidCredentials
}

func (e *Engine) checkLoginThrottle(ctx context.Context, login, ip string) error {
	if e.limiter == nil {
		return nil
	}
	err := e.limiter.CheckLogin(ctx, login, ip)
	switch {
	case errors.Is(err, rate.ErrRateLimited):
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrRateLimited, func() map[string]string {
			return map[string]string{"login": login}
		})
		return ErrRateLimited
	case err != nil:
		// fail open: the throttle is an optional layer in front of the
		// password check
		e.logger.Warn("login throttle unavailable", zap.Error(err))
	}
	return nil
}

func (e *Engine) resetLoginThrottle(ctx context.Context, login string) {
	if e.limiter == nil {
		return
	}
	if err := e.limiter.ResetLogin(ctx, login); err != nil {
		e.logger.Warn("reset login throttle", zap.Error(err))
	}
}

// upgradeHash rehashes the password when the stored hash uses weaker
// parameters than the current configuration.
func (e *Engine) upgradeHash(ctx context.Context, u *account.User, plain string) {
	stale, err := e.passwords.NeedsUpgrade(u.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.passwords.Hash(plain)
	if err != nil {
		return
	}
	// also clears any outstanding reset token
	if err := e.users.SetPassword(ctx, u.ID, hash); err != nil {
		e.logger.Warn("password hash upgrade failed", zap.String("user_id", u.ID), zap.Error(err))
	}
}
