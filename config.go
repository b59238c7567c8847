package authcore

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/lendloop/authcore/password"
)

// Config is the complete engine configuration. It is copied into the Engine
// at build time and never read again from the environment.
type Config struct {
	JWT       JWTConfig
	Cookie    CookieConfig
	TwoFactor TwoFactorConfig
	Password  password.Config
	Session   SessionConfig
	Account   AccountConfig
	Security  SecurityConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKENS
====================================
*/

// JWTConfig holds signing secrets and token lifetimes. Access and refresh
// secrets must differ.
type JWTConfig struct {
	AccessSecret  string        `env:"JWT_SECRET"`
	RefreshSecret string        `env:"REFRESH_TOKEN_SECRET"`
	AccessTTL     time.Duration `env:"JWT_EXPIRES_IN" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"REFRESH_TOKEN_EXPIRES_IN" envDefault:"7d"`
	TwoFactorTTL  time.Duration `env:"TWO_FACTOR_TOKEN_EXPIRES_IN" envDefault:"10m"`
	Issuer        string        `env:"JWT_ISSUER"`
}

/*
====================================
COOKIES
====================================
*/

type CookieConfig struct {
	Secure bool   `env:"COOKIE_SECURE" envDefault:"false"`
	Domain string `env:"COOKIE_DOMAIN"`
}

/*
====================================
SECOND FACTOR
====================================
*/

// TwoFactorConfig covers both email codes and authenticator apps. Window is
// the number of 30 second steps accepted on either side of now.
// EnforceReplayProtection rejects an authenticator code whose time step is
// not newer than the last one the user spent.
type TwoFactorConfig struct {
	Issuer                  string        `env:"TOTP_ISSUER" envDefault:"LendLoop"`
	Window                  int           `env:"TOTP_WINDOW" envDefault:"1"`
	OTPTTL                  time.Duration `env:"OTP_EXPIRES_IN" envDefault:"10m"`
	EnforceReplayProtection bool          `env:"TOTP_REPLAY_PROTECTION" envDefault:"true"`
}

/*
====================================
STORAGE
====================================
*/

type SessionConfig struct {
	RedisPrefix string `env:"SESSION_REDIS_PREFIX" envDefault:"as"`
	// StrictAccess makes ValidateAccess load the session and reject access
	// tokens whose session has been revoked, at the cost of one Redis read.
	StrictAccess bool `env:"STRICT_ACCESS_VALIDATION" envDefault:"false"`
}

type AccountConfig struct {
	RedisPrefix   string        `env:"USER_REDIS_PREFIX" envDefault:"usr"`
	ResetTokenTTL time.Duration `env:"RESET_TOKEN_EXPIRES_IN" envDefault:"10m"`
	// AppURL is the frontend origin used to build password reset links.
	AppURL string `env:"APP_URL" envDefault:"http://localhost:3000"`
}

/*
====================================
ABUSE CONTROLS
====================================
*/

// SecurityConfig holds the optional abuse controls. Both are off by default:
// failed code attempts are counted but not enforced unless MaxOTPAttempts is
// set, and the login throttle must be enabled explicitly.
type SecurityConfig struct {
	MaxOTPAttempts int `env:"OTP_MAX_ATTEMPTS" envDefault:"0"`
	LoginThrottle  LoginThrottleConfig
}

type LoginThrottleConfig struct {
	Enabled     bool          `env:"LOGIN_THROTTLE_ENABLED" envDefault:"false"`
	PerIP       bool          `env:"LOGIN_THROTTLE_PER_IP" envDefault:"true"`
	MaxAttempts int           `env:"LOGIN_THROTTLE_MAX_ATTEMPTS" envDefault:"10"`
	Cooldown    time.Duration `env:"LOGIN_THROTTLE_COOLDOWN" envDefault:"15m"`
	RedisPrefix string        `env:"LOGIN_THROTTLE_REDIS_PREFIX" envDefault:"rl"`
}

/*
====================================
OBSERVABILITY
====================================
*/

type AuditConfig struct {
	Enabled    bool `env:"AUDIT_ENABLED" envDefault:"true"`
	BufferSize int  `env:"AUDIT_BUFFER_SIZE" envDefault:"1024"`
	DropIfFull bool `env:"AUDIT_DROP_IF_FULL" envDefault:"true"`
}

type MetricsConfig struct {
	Enabled                 bool `env:"METRICS_ENABLED" envDefault:"true"`
	EnableLatencyHistograms bool `env:"METRICS_LATENCY_HISTOGRAMS" envDefault:"false"`
}

// DefaultConfig returns the configuration every environment variable
// defaults to. Secrets are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:    15 * time.Minute,
			RefreshTTL:   7 * 24 * time.Hour,
			TwoFactorTTL: 10 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:                  "LendLoop",
			Window:                  1,
			OTPTTL:                  10 * time.Minute,
			EnforceReplayProtection: true,
		},
		Password: password.DefaultConfig(),
		Session:  SessionConfig{RedisPrefix: "as"},
		Account: AccountConfig{
			RedisPrefix:   "usr",
			ResetTokenTTL: 10 * time.Minute,
			AppURL:        "http://localhost:3000",
		},
		Security: SecurityConfig{
			LoginThrottle: LoginThrottleConfig{
				PerIP:       true,
				MaxAttempts: 10,
				Cooldown:    15 * time.Minute,
				RedisPrefix: "rl",
			},
		},
		Audit:   AuditConfig{Enabled: true, BufferSize: 1024, DropIfFull: true},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// LoadConfigFromEnv parses Config from the process environment. Durations
// accept Go syntax ("15m") and whole days ("7d").
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	err := env.ParseWithOptions(&cfg, env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(time.Duration(0)): func(v string) (interface{}, error) {
				return ParseDuration(v)
			},
		},
	})
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ParseDuration extends time.ParseDuration with a "d" suffix for days.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(v)
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	switch {
	case c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "":
		return errors.New("JWT_SECRET and REFRESH_TOKEN_SECRET are required")
	case c.JWT.AccessSecret == c.JWT.RefreshSecret:
		return errors.New("JWT_SECRET and REFRESH_TOKEN_SECRET must differ")
	case c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 || c.JWT.TwoFactorTTL <= 0:
		return errors.New("token lifetimes must be positive")
	case c.JWT.AccessTTL >= c.JWT.RefreshTTL:
		return errors.New("access token lifetime must be shorter than refresh token lifetime")
	case c.TwoFactor.Window < 0 || c.TwoFactor.Window > 10:
		return errors.New("TOTP window must be between 0 and 10")
	case c.TwoFactor.OTPTTL <= 0:
		return errors.New("OTP lifetime must be positive")
	case c.Account.ResetTokenTTL <= 0:
		return errors.New("reset token lifetime must be positive")
	case c.Security.MaxOTPAttempts < 0:
		return errors.New("OTP_MAX_ATTEMPTS must not be negative")
	}

	if lt := c.Security.LoginThrottle; lt.Enabled && (lt.MaxAttempts <= 0 || lt.Cooldown <= 0) {
		return errors.New("login throttle requires positive max attempts and cooldown")
	}
	return nil
}
