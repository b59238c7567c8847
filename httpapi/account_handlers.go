package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lendloop/authcore"
	"github.com/lendloop/authcore/middleware"
)

type updatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// principal returns the caller set by the guard. Routes using it are always
// behind the guard, so a miss is a wiring bug.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (authcore.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.fail(w, r, authcore.ErrTokenMissing)
	}
	return p, ok
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	prof, err := h.engine.Me(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "OK", map[string]interface{}{"user": prof}, nil)
}

func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req updatePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Password updated. Other devices have been signed out.", res, res.Cookies)
}

func (h *Handler) TwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	st, err := h.engine.TwoFactorStatus(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "OK", st, nil)
}

func (h *Handler) EnableEmailTwoFactor(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	st, err := h.engine.EnableEmailTwoFactor(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Email two-factor enabled", st, nil)
}

func (h *Handler) StartAuthenticatorSetup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	setup, err := h.engine.StartAuthenticatorSetup(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Scan the QR code with your authenticator app, then confirm with a code.", setup, nil)
}

func (h *Handler) VerifyAuthenticatorSetup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req otpRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, err := h.engine.VerifyAuthenticatorSetup(r.Context(), p, req.OTP)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Authenticator app enabled", st, nil)
}

func (h *Handler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req passwordRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, err := h.engine.DisableTwoFactor(r.Context(), p, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Two-factor disabled", st, nil)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	views, err := h.engine.ListSessions(r.Context(), p, !all)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "OK", map[string]interface{}{"sessions": views}, nil)
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	cookies, err := h.engine.RevokeSession(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Session revoked", nil, cookies)
}

func (h *Handler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	n, err := h.engine.RevokeOtherSessions(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Other sessions revoked", map[string]int{"revoked": n}, nil)
}

func (h *Handler) RevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	n, cookies, err := h.engine.RevokeAllSessions(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "All sessions revoked", map[string]int{"revoked": n}, cookies)
}
