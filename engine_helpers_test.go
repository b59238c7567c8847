package authcore

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lendloop/authcore/account"
	"github.com/lendloop/authcore/mail"
	"github.com/lendloop/authcore/password"
)

const (
	testPassword    = "Str0ngP@ss1"
	testNewPassword = "N3wer!Secret"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type mailbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (m *mailbox) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
	return nil
}

type harness struct {
	engine *Engine
	users  *account.MemoryStore
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	clock  *testClock
	mail   *mailbox
	audit  *ChannelSink
}

func testEngineConfig() Config {
	cfg := validConfig()
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	cfg := testEngineConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clock := &testClock{t: time.Now().UTC().Truncate(time.Second)}
	users := account.NewMemoryStore(clock.Now)
	box := &mailbox{}
	sink := NewChannelSink(4096)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithMailer(box).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
	})

	return &harness{engine: engine, users: users, mr: mr, rdb: rdb, clock: clock, mail: box, audit: sink}
}

// lastMail waits for background deliveries and returns the newest message
// with the given template sent to addr.
func (h *harness) lastMail(t *testing.T, addr, template string) mail.Message {
	t.Helper()
	h.engine.mailWG.Wait()

	h.mail.mu.Lock()
	defer h.mail.mu.Unlock()
	for i := len(h.mail.msgs) - 1; i >= 0; i-- {
		if m := h.mail.msgs[i]; m.To == addr && m.Template == template {
			return m
		}
	}
	t.Fatalf("no %q mail sent to %s", template, addr)
	return mail.Message{}
}

func (h *harness) mailCount(template string) int {
	h.engine.mailWG.Wait()
	h.mail.mu.Lock()
	defer h.mail.mu.Unlock()
	n := 0
	for _, m := range h.mail.msgs {
		if m.Template == template {
			n++
		}
	}
	return n
}

// registerVerified creates a user and completes email verification.
func (h *harness) registerVerified(t *testing.T, username, email string) *Profile {
	t.Helper()
	ctx := context.Background()

	if _, err := h.engine.Register(ctx, RegisterInput{Username: username, Email: email, Password: testPassword}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	otp := h.lastMail(t, email, mail.TemplateVerifyEmail).Data["otp"]
	p, err := h.engine.VerifyEmail(ctx, email, otp)
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	return p
}

func (h *harness) login(t *testing.T, ctx context.Context, login string) *LoginResult {
	t.Helper()
	res, err := h.engine.Login(ctx, LoginInput{Login: login, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

// enableAuthenticator switches the user to authenticator 2FA and returns
// the secret. The setup code spends the current time step.
func (h *harness) enableAuthenticator(t *testing.T, ctx context.Context, login string) string {
	t.Helper()
	p := principalOf(t, h.engine, h.login(t, ctx, login).Tokens.Access)
	setup, err := h.engine.StartAuthenticatorSetup(ctx, p)
	if err != nil {
		t.Fatalf("StartAuthenticatorSetup: %v", err)
	}
	code, err := h.engine.totp.Code(setup.ManualKey, h.clock.Now())
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if _, err := h.engine.VerifyAuthenticatorSetup(ctx, p, code); err != nil {
		t.Fatalf("VerifyAuthenticatorSetup: %v", err)
	}
	return setup.ManualKey
}

func principalOf(t *testing.T, e *Engine, access string) Principal {
	t.Helper()
	p, err := e.ValidateAccess(context.Background(), access)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	return *p
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func requireCleared(t *testing.T, cookies []*http.Cookie, names ...string) {
	t.Helper()
	for _, name := range names {
		c := findCookie(cookies, name)
		if c == nil || c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("cookie %s not cleared: %+v", name, c)
		}
	}
}

func requireKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s error, got %s (%v)", want, got, err)
	}
}
