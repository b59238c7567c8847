package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/lendloop/authcore"
	"github.com/lendloop/authcore/cookie"
	"github.com/lendloop/authcore/middleware"
)

type emailRequest struct {
	Email string `json:"email"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// loginRequest accepts "login", or "email"/"username" from older clients.
type loginRequest struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (req loginRequest) identifier() string {
	for _, v := range []string{req.Login, req.Email, req.Username} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type otpRequest struct {
	OTP string `json:"otp"`
}

type tokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req authcore.RegisterInput
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.engine.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, "Registration successful. Check your email for a verification code.", map[string]interface{}{"user": p}, nil)
}

func (h *Handler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		h.badRequest(w, r, "email is required")
		return
	}
	if err := h.engine.ResendVerificationOTP(r.Context(), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "If the account exists and is unverified, a new code has been sent.", nil, nil)
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		h.badRequest(w, r, "email and otp are required")
		return
	}
	p, err := h.engine.VerifyEmail(r.Context(), req.Email, req.OTP)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Email verified. You can now log in.", map[string]interface{}{"user": p}, nil)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Login(r.Context(), authcore.LoginInput{Login: req.identifier(), Password: req.Password})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.RequiresTwoFactor {
		// the password step succeeded; code names the step still owed
		cookie.Write(w, res.Cookies)
		render.Status(r, http.StatusOK)
		render.JSON(w, r, envelope{
			Success: true,
			Message: authcore.ErrTwoFactorRequired.Message,
			Code:    authcore.KindOf(authcore.ErrTwoFactorRequired).String(),
			Data:    res,
		})
		return
	}
	respond(w, r, http.StatusOK, "Login successful", res, res.Cookies)
}

func (h *Handler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !h.decode(w, r, &req) {
		return
	}
	ticket, _ := cookie.Read(r, cookie.TwoFactorName)
	res, err := h.engine.VerifyTwoFactor(r.Context(), ticket, req.OTP)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Login successful", res, res.Cookies)
}

func (h *Handler) ResendTwoFactor(w http.ResponseWriter, r *http.Request) {
	ticket, _ := cookie.Read(r, cookie.TwoFactorName)
	if err := h.engine.ResendTwoFactor(r.Context(), ticket); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "A new code has been sent.", nil, nil)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := refreshToken(r)
	res, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		// a dead refresh token is useless to keep around
		switch authcore.KindOf(err) {
		case authcore.KindTokenInvalid, authcore.KindTokenExpired, authcore.KindSessionRevoked, authcore.KindReuseDetected:
			h.fail(w, r, err, h.engine.Cookies().ClearAll()...)
		default:
			h.fail(w, r, err)
		}
		return
	}
	respond(w, r, http.StatusOK, "Token refreshed", nil, res.Cookies)
}

// Logout revokes the session named by the refresh token when the client has
// one, otherwise the session behind the access cookie, which browsers do
// send to this route.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var (
		cleared []*http.Cookie
		err     error
	)
	if token := refreshToken(r); token != "" {
		cleared, err = h.engine.Logout(r.Context(), token)
	} else {
		cleared, err = h.engine.LogoutAccess(r.Context(), middleware.AccessToken(r))
	}
	if err != nil {
		h.fail(w, r, err, cleared...)
		return
	}
	respond(w, r, http.StatusOK, "Logged out", nil, cleared)
}

// refreshToken reads the refresh cookie, or a JSON refreshToken field for
// clients that cannot hold path-scoped cookies.
func refreshToken(r *http.Request) string {
	if v, err := cookie.Read(r, cookie.RefreshName); err == nil {
		return v
	}
	var req tokenRequest
	if r.Body != nil && r.ContentLength != 0 {
		_ = render.DecodeJSON(r.Body, &req)
	}
	return req.RefreshToken
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		h.badRequest(w, r, "email is required")
		return
	}
	if err := h.engine.ForgotPassword(r.Context(), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "If an account exists for this email, a reset link has been sent.", nil, nil)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if token := chi.URLParam(r, "token"); token != "" {
		req.Token = token
	}
	cleared, err := h.engine.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Password has been reset. Please log in.", nil, cleared)
}
