package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
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

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     account.Store
	mailer    mail.Sender
	logger    *zap.Logger
	auditSink AuditSink
	attempts  AttemptPolicy
	now       func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client backing sessions, the default user store and
// the login throttle. It is required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore overrides the Redis user store.
func (b *Builder) WithUserStore(store account.Store) *Builder {
	b.users = store
	return b
}

// WithMailer sets the email collaborator. The default logs messages.
func (b *Builder) WithMailer(sender mail.Sender) *Builder {
	b.mailer = sender
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination. The default writes audit events
// through the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithAttemptPolicy overrides the policy derived from
// Security.MaxOTPAttempts.
func (b *Builder) WithAttemptPolicy(p AttemptPolicy) *Builder {
	b.attempts = p
	return b
}

// WithClock injects the time source used for tokens, codes and sessions.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- TOKENS --------
	tokens, err := jwt.NewManager(jwt.Config{
		AccessSecret:  []byte(cfg.JWT.AccessSecret),
		RefreshSecret: []byte(cfg.JWT.RefreshSecret),
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		TwoFactorTTL:  cfg.JWT.TwoFactorTTL,
		Issuer:        cfg.JWT.Issuer,
	}, now)
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	// -------- STORES --------
	users := b.users
	if users == nil {
		users = account.NewRedisStore(b.redis, cfg.Account.RedisPrefix, now)
	}
	sessions := session.NewStore(b.redis, cfg.Session.RedisPrefix, now)

	var limiter *rate.Limiter
	if lt := cfg.Security.LoginThrottle; lt.Enabled {
		limiter = rate.New(b.redis, rate.Config{
			Prefix:      lt.RedisPrefix,
			PerIP:       lt.PerIP,
			MaxAttempts: lt.MaxAttempts,
			Cooldown:    lt.Cooldown,
		})
	}

	attempts := b.attempts
	if attempts == nil {
		attempts = MaxAttemptsPolicy(cfg.Security.MaxOTPAttempts)
	}

	mailer := b.mailer
	if mailer == nil {
		mailer = mail.NewLogSender(logger)
	}

	sink := b.auditSink
	if sink == nil {
		sink = NewZapSink(logger)
	}

	b.built = true

	return &Engine{
		config:   cfg,
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		cookies: cookie.New(cookie.Config{
			Secure:       cfg.Cookie.Secure,
			Domain:       cfg.Cookie.Domain,
			AccessTTL:    cfg.JWT.AccessTTL,
			RefreshTTL:   cfg.JWT.RefreshTTL,
			TwoFactorTTL: cfg.JWT.TwoFactorTTL,
		}),
		emailOTP:  twofactor.NewEmailOTP(cfg.TwoFactor.OTPTTL),
		totp:      twofactor.NewAuthenticator(cfg.TwoFactor.Issuer, cfg.TwoFactor.Window),
		passwords: hasher,
		mailer:    mailer,
		limiter:   limiter,
		attempts:  attempts,
		logger:    logger,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink),
		metrics: NewMetrics(cfg.Metrics),
		now:     now,
	}, nil
}
