package authcore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lendloop/authcore/account"
	"github.com/lendloop/authcore/cookie"
	"github.com/lendloop/authcore/internal/audit"
	"github.com/lendloop/authcore/internal/rate"
	"github.com/lendloop/authcore/jwt"
	"github.com/lendloop/authcore/mail"
	"github.com/lendloop/authcore/password"
	"github.com/lendloop/authcore/session"
	"github.com/lendloop/authcore/twofactor"
)

// mailTimeout bounds one background delivery attempt.
const mailTimeout = 30 * time.Second

// Engine runs the authentication state machine: registration, login with an
// optional second factor, refresh rotation, logout and account security
// settings. It is safe for concurrent use; build it with New().Build().
type Engine struct {
	config    Config
	users     account.Store
	sessions  *session.Store
	tokens    *jwt.Manager
	cookies   *cookie.Transport
	emailOTP  *twofactor.EmailOTP
	totp      *twofactor.Authenticator
	passwords *password.Argon2
	mailer    mail.Sender
	limiter   *rate.Limiter
	attempts  AttemptPolicy
	logger    *zap.Logger
	audit     *audit.Dispatcher
	metrics   *Metrics
	now       func() time.Time

	mailWG sync.WaitGroup
}

// Close waits for in-flight email deliveries, then flushes the audit
// buffer.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mailWG.Wait()
	e.audit.Close()
}

// Cookies exposes the cookie transport, mostly for HTTP adapters that need
// cookie names or to clear cookies on their own errors.
func (e *Engine) Cookies() *cookie.Transport {
	return e.cookies
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Metrics returns the live counters, for exporters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// issueSession is the last step of every successful authentication: a new
// device session, a signed token pair, and the refresh hash rotated in before
// anything reaches the client.
func (e *Engine) issueSession(ctx context.Context, u *account.User) (*AuthResult, error) {
	meta := metaFromContext(ctx)
	deviceID := meta.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	sess, err := e.sessions.Create(ctx, session.NewSession{
		UserID:    u.ID,
		DeviceID:  deviceID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	if err != nil {
		return nil, internalError("create session", err)
	}

	access, refresh, err := e.signPair(u.ID, u.Role, sess.ID)
	if err != nil {
		return nil, err
	}
	if err := e.sessions.Rotate(ctx, u.ID, sess.ID, refresh); err != nil {
		return nil, internalError("store refresh hash", err)
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, u.ID, sess.ID, nil, func() map[string]string {
		return map[string]string{"device_id": deviceID}
	})

	return &AuthResult{
		User:      newProfile(u),
		SessionID: sess.ID,
		Tokens:    Tokens{Access: access, Refresh: refresh},
		Cookies:   e.cookies.Session(access, refresh),
	}, nil
}

func (e *Engine) signPair(userID, role, sessionID string) (access, refresh string, err error) {
	access, err = e.tokens.SignAccess(userID, role, sessionID)
	if err != nil {
		return "", "", internalError("sign access token", err)
	}
	refresh, err = e.tokens.SignRefresh(userID, role, sessionID)
	if err != nil {
		return "", "", internalError("sign refresh token", err)
	}
	return access, refresh, nil
}

// sendMail delivers msg in the background. Failures are logged and counted,
// never returned.
func (e *Engine) sendMail(ctx context.Context, msg mail.Message) {
	e.mailWG.Add(1)
	go func() {
		defer e.mailWG.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mailTimeout)
		defer cancel()

		if err := e.mailer.Send(ctx, msg); err != nil {
			e.metricInc(MetricMailFailure)
			e.logger.Warn("email delivery failed",
				zap.String("template", msg.Template),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}()
}

// userFor loads the subject of a verified token. A token for a user that no
// longer exists is treated as invalid.
func (e *Engine) userFor(ctx context.Context, userID string) (*account.User, error) {
	u, err := e.users.ByID(ctx, userID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, internalError("load user", err)
	}
	return u, nil
}

// tokenError maps a jwt parse failure to the public taxonomy.
func tokenError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}
