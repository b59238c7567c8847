package authcore

import (
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessSecret = "access-secret-for-tests-0123456789"
	cfg.JWT.RefreshSecret = "refresh-secret-for-tests-9876543210"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with secrets", mutate: func(*Config) {}, wantValid: true},
		{
			name:      "missing access secret",
			mutate:    func(c *Config) { c.JWT.AccessSecret = "" },
			wantValid: false,
		},
		{
			name:      "identical secrets",
			mutate:    func(c *Config) { c.JWT.RefreshSecret = c.JWT.AccessSecret },
			wantValid: false,
		},
		{
			name:      "zero access ttl",
			mutate:    func(c *Config) { c.JWT.AccessTTL = 0 },
			wantValid: false,
		},
		{
			name:      "access outlives refresh",
			mutate:    func(c *Config) { c.JWT.AccessTTL = 8 * 24 * time.Hour },
			wantValid: false,
		},
		{
			name:      "negative totp window",
			mutate:    func(c *Config) { c.TwoFactor.Window = -1 },
			wantValid: false,
		},
		{
			name:      "zero otp ttl",
			mutate:    func(c *Config) { c.TwoFactor.OTPTTL = 0 },
			wantValid: false,
		},
		{
			name:      "negative max attempts",
			mutate:    func(c *Config) { c.Security.MaxOTPAttempts = -1 },
			wantValid: false,
		},
		{
			name: "throttle enabled without budget",
			mutate: func(c *Config) {
				c.Security.LoginThrottle.Enabled = true
				c.Security.LoginThrottle.MaxAttempts = 0
			},
			wantValid: false,
		},
		{
			name:      "throttle enabled with defaults",
			mutate:    func(c *Config) { c.Security.LoginThrottle.Enabled = true },
			wantValid: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{"7d", 7 * 24 * time.Hour, true},
		{" 1d ", 24 * time.Hour, true},
		{"90s", 90 * time.Second, true},
		{"xd", 0, false},
		{"soon", 0, false},
	}
	for _, tc := range tests {
		got, err := ParseDuration(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseDuration(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseDuration(%q) should fail", tc.in)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-secret")
	t.Setenv("REFRESH_TOKEN_SECRET", "b-secret")
	t.Setenv("REFRESH_TOKEN_EXPIRES_IN", "14d")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("TOTP_ISSUER", "Acme")
	t.Setenv("OTP_MAX_ATTEMPTS", "5")
	t.Setenv("ARGON2_TIME", "2")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}

	if cfg.JWT.AccessTTL != 15*time.Minute {
		t.Fatalf("default access ttl not applied: %v", cfg.JWT.AccessTTL)
	}
	if cfg.JWT.RefreshTTL != 14*24*time.Hour {
		t.Fatalf("day suffix not parsed: %v", cfg.JWT.RefreshTTL)
	}
	if !cfg.Cookie.Secure || cfg.TwoFactor.Issuer != "Acme" || cfg.Security.MaxOTPAttempts != 5 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Password.Time != 2 || cfg.Password.Memory != 64*1024 {
		t.Fatalf("nested password config not parsed: %+v", cfg.Password)
	}
	if !cfg.TwoFactor.EnforceReplayProtection {
		t.Fatal("replay protection must default on")
	}
	if cfg.Session.RedisPrefix != "as" || cfg.Account.RedisPrefix != "usr" {
		t.Fatalf("prefix defaults not applied: %+v %+v", cfg.Session, cfg.Account)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config invalid: %v", err)
	}
}

func TestLoadConfigFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("JWT_EXPIRES_IN", "later")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected parse error")
	}
}
