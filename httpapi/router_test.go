package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lendloop/authcore"
	"github.com/lendloop/authcore/account"
	"github.com/lendloop/authcore/cookie"
	"github.com/lendloop/authcore/mail"
	"github.com/lendloop/authcore/password"
	"github.com/lendloop/authcore/twofactor"
)

const testPassword = "Str0ngP@ss1"

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Field   string          `json:"field"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	srv    *httptest.Server
	engine *authcore.Engine
	users  *account.MemoryStore
	mails  chan mail.Message
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := authcore.DefaultConfig()
	cfg.JWT.AccessSecret = "access-secret-for-tests-0123456789"
	cfg.JWT.RefreshSecret = "refresh-secret-for-tests-9876543210"
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	users := account.NewMemoryStore(time.Now)
	mails := make(chan mail.Message, 64)
	logger := zaptest.NewLogger(t)

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithLogger(logger).
		WithMailer(mail.SenderFunc(func(_ context.Context, msg mail.Message) error {
			mails <- msg
			return nil
		})).
		Build()
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(engine, Options{Logger: logger}))
	t.Cleanup(func() {
		srv.Close()
		engine.Close()
		_ = rdb.Close()
	})
	return &testServer{srv: srv, engine: engine, users: users, mails: mails}
}

// client returns an HTTP client with its own cookie jar, standing in for
// one browser.
func (s *testServer) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func (s *testServer) do(t *testing.T, c *http.Client, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (s *testServer) nextMail(t *testing.T, template string) mail.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-s.mails:
			if msg.Template == template {
				return msg
			}
		case <-timeout:
			t.Fatalf("no %q mail within timeout", template)
			return mail.Message{}
		}
	}
}

func (s *testServer) cookie(c *http.Client, path, name string) *http.Cookie {
	u, _ := url.Parse(s.srv.URL + path)
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

// signUp registers and verifies a user through the API.
func (s *testServer) signUp(t *testing.T, c *http.Client, username, email string) {
	t.Helper()

	status, res := s.do(t, c, http.MethodPost, "/api/auth/register", map[string]string{
		"username": username, "email": email, "password": testPassword,
	})
	require.Equal(t, http.StatusCreated, status, res.Message)

	otp := s.nextMail(t, mail.TemplateVerifyEmail).Data["otp"]
	status, res = s.do(t, c, http.MethodPost, "/api/auth/verify-email", map[string]string{"email": email, "otp": otp})
	require.Equal(t, http.StatusOK, status, res.Message)
}

func TestRegisterVerifyAndMe(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)

	status, res := s.do(t, c, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice", "email": "alice@x.com", "password": testPassword,
	})
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, res.Success)

	status, res = s.do(t, c, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice2", "email": "alice@x.com", "password": testPassword,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "email", res.Field)

	otp := s.nextMail(t, mail.TemplateVerifyEmail).Data["otp"]

	status, res = s.do(t, c, http.MethodPost, "/api/auth/login", map[string]string{"email": "alice@x.com", "password": testPassword})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "email_not_verified", res.Code)

	status, _ = s.do(t, c, http.MethodPost, "/api/auth/verify-email", map[string]string{"email": "alice@x.com", "otp": otp})
	require.Equal(t, http.StatusOK, status)

	status, res = s.do(t, c, http.MethodPost, "/api/auth/login", map[string]string{"login": "alice", "password": testPassword})
	require.Equal(t, http.StatusOK, status, res.Message)

	var login struct {
		RequiresTwoFactor bool              `json:"requires2FA"`
		User              *authcore.Profile `json:"user"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &login))
	assert.False(t, login.RequiresTwoFactor)
	require.NotNil(t, login.User)
	assert.True(t, login.User.IsEmailVerified)
	assert.NotContains(t, string(res.Data), "token", "tokens must never appear in bodies")

	assert.NotNil(t, s.cookie(c, "/", cookie.AccessName))
	assert.NotNil(t, s.cookie(c, cookie.RefreshPath, cookie.RefreshName))
	assert.Nil(t, s.cookie(c, "/api/auth/me", cookie.RefreshName), "refresh cookie must be path scoped")

	status, res = s.do(t, c, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(res.Data), `"username":"alice"`)
}

func TestMeRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	status, res := s.do(t, s.client(t), http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, res.Success)
	assert.Equal(t, "token_missing", res.Code)
}

func TestInvalidBody(t *testing.T) {
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/auth/login", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEmailTwoFactorLogin(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.signUp(t, c, "bob", "bob@x.com")

	status, _ := s.do(t, c, http.MethodPost, "/api/auth/login", map[string]string{"login": "bob", "password": testPassword})
	require.Equal(t, http.StatusOK, status)
	status, res := s.do(t, c, http.MethodPost, "/api/auth/2fa/enable-email", nil)
	require.Equal(t, http.StatusOK, status, res.Message)

	// a fresh browser
	c2 := s.client(t)
	status, res = s.do(t, c2, http.MethodPost, "/api/auth/login", map[string]string{"login": "bob@x.com", "password": testPassword})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(res.Data), `"requires2FA":true`)
	assert.True(t, res.Success)
	assert.Equal(t, "two_factor_required", res.Code)
	assert.Nil(t, s.cookie(c2, "/", cookie.AccessName))
	require.NotNil(t, s.cookie(c2, cookie.TwoFactorPath, cookie.TwoFactorName))

	code := s.nextMail(t, mail.TemplateLoginOTP).Data["otp"]

	status, res = s.do(t, c2, http.MethodPost, "/api/auth/2fa/verify", map[string]string{"otp": code})
	require.Equal(t, http.StatusOK, status, res.Message)
	assert.NotNil(t, s.cookie(c2, "/", cookie.AccessName))
	assert.Nil(t, s.cookie(c2, cookie.TwoFactorPath, cookie.TwoFactorName), "2fa cookie must be cleared")

	status, _ = s.do(t, c2, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthenticatorSetupOverHTTP(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.signUp(t, c, "carol", "carol@x.com")
	status, _ := s.do(t, c, http.MethodPost, "/api/auth/login", map[string]string{"login": "carol", "password": testPassword})
	require.Equal(t, http.StatusOK, status)

	status, res := s.do(t, c, http.MethodPost, "/api/auth/2fa/authenticator/setup", nil)
	require.Equal(t, http.StatusOK, status)
	var setup authcore.AuthenticatorSetup
	require.NoError(t, json.Unmarshal(res.Data, &setup))
	require.NotEmpty(t, setup.ManualKey)
	assert.Contains(t, setup.OTPAuthURL, "issuer=LendLoop")

	code, err := twofactor.NewAuthenticator("LendLoop", 1).Code(setup.ManualKey, time.Now())
	require.NoError(t, err)

	status, res = s.do(t, c, http.MethodPost, "/api/auth/2fa/authenticator/verify", map[string]string{"otp": code})
	require.Equal(t, http.StatusOK, status, res.Message)

	status, res = s.do(t, c, http.MethodGet, "/api/auth/2fa", nil)
	require.Equal(t, http.StatusOK, status)
	var st authcore.TwoFactorStatus
	require.NoError(t, json.Unmarshal(res.Data, &st))
	assert.True(t, st.Enabled)
	assert.Equal(t, twofactor.MethodAuthenticator, st.Method)

	status, res = s.do(t, c, http.MethodPost, "/api/auth/2fa/disable", map[string]string{"password": "Wr0ng!pass"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "password", res.Field)
}

func TestRefreshRotationAndReuseOverHTTP(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.signUp(t, c, "dave", "dave@x.com")
	status, _ := s.do(t, c, http.MethodPost, "/api/auth/login", map[string]string{"login": "dave", "password": testPassword})
	require.Equal(t, http.StatusOK, status)

	stolen := s.cookie(c, cookie.RefreshPath, cookie.RefreshName).Value

	status, _ = s.do(t, c, http.MethodPost, "/api/auth/refresh", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, stolen, s.cookie(c, cookie.RefreshPath, cookie.RefreshName).Value)

	attacker := s.client(t)
	status, res := s.do(t, attacker, http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": stolen})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "reuse_detected", res.Code)

	status, res = s.do(t, c, http.MethodPost, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "session_revoked", res.Code)
	assert.Nil(t, s.cookie(c, cookie.RefreshPath, cookie.RefreshName), "dead refresh cookie must be cleared")
}

func TestLogoutAndSessions(t *testing.T) {
	s := newTestServer(t)
	laptop := s.client(t)
	phone := s.client(t)
	s.signUp(t, laptop, "erin", "erin@x.com")

	for _, c := range []*http.Client{laptop, phone} {
		status, _ := s.do(t, c, http.MethodPost, "/api/auth/login", map[string]string{"login": "erin", "password": testPassword})
		require.Equal(t, http.StatusOK, status)
	}

	status, res := s.do(t, laptop, http.MethodGet, "/api/auth/sessions", nil)
	require.Equal(t, http.StatusOK, status)
	var list struct {
		Sessions []authcore.SessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &list))
	assert.Len(t, list.Sessions, 2)

	status, res = s.do(t, laptop, http.MethodPost, "/api/auth/sessions/revoke-others", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"revoked":1}`, string(res.Data))

	// the phone's refresh is now dead
	status, _ = s.do(t, phone, http.MethodPost, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	refresh := s.cookie(laptop, cookie.RefreshPath, cookie.RefreshName).Value
	for i := 0; i < 2; i++ {
		status, res = s.do(t, laptop, http.MethodPost, "/api/auth/logout", map[string]string{"refreshToken": refresh})
		assert.Equal(t, http.StatusOK, status, "logout #%d", i+1)
		assert.True(t, res.Success)
	}
	assert.Nil(t, s.cookie(laptop, "/", cookie.AccessName))

	status, _ = s.do(t, laptop, http.MethodDelete, "/api/auth/sessions/whatever", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestBrowserLogoutRevokesSession(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.signUp(t, c, "gina", "gina@x.com")
	status, _ := s.do(t, c, http.MethodPost, "/api/auth/login", map[string]string{"login": "gina", "password": testPassword})
	require.Equal(t, http.StatusOK, status)
	refresh := s.cookie(c, cookie.RefreshPath, cookie.RefreshName).Value

	// the refresh cookie is not sent to /logout, only the access cookie is
	status, res := s.do(t, c, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, res.Success)
	assert.Nil(t, s.cookie(c, "/", cookie.AccessName))

	status, res = s.do(t, s.client(t), http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "session_revoked", res.Code)
}

func TestForgotAndResetPasswordOverHTTP(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.signUp(t, c, "frank", "frank@x.com")

	status, res := s.do(t, c, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "ghost@x.com"})
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, res.Success)

	status, _ = s.do(t, c, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "frank@x.com"})
	require.Equal(t, http.StatusOK, status)
	link := s.nextMail(t, mail.TemplatePasswordReset).Data["resetUrl"]
	u, err := url.Parse(link)
	require.NoError(t, err)

	status, res = s.do(t, c, http.MethodPost, "/api/auth"+u.Path, map[string]string{"password": "weak"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "password", res.Field)

	status, res = s.do(t, c, http.MethodPost, "/api/auth"+u.Path, map[string]string{"password": "N3wer!Secret"})
	require.Equal(t, http.StatusOK, status, res.Message)

	status, _ = s.do(t, c, http.MethodPost, "/api/auth/login", map[string]string{"login": "frank", "password": "N3wer!Secret"})
	assert.Equal(t, http.StatusOK, status)

	status, res = s.do(t, c, http.MethodPost, "/api/auth/update-password", map[string]string{
		"currentPassword": "N3wer!Secret", "newPassword": "Ev3nNewer#Pass",
	})
	require.Equal(t, http.StatusOK, status, res.Message)
	status, _ = s.do(t, c, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusOK, status, "the calling device stays signed in")
}
