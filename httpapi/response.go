package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/lendloop/authcore"
	"github.com/lendloop/authcore/cookie"
)

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Field   string      `json:"field,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, message string, data interface{}, cookies []*http.Cookie) {
	cookie.Write(w, cookies)
	render.Status(r, status)
	render.JSON(w, r, envelope{Success: true, Message: message, Data: data})
}

// fail writes err as an error envelope. Internal errors are logged and
// reported generically; everything else carries the user-facing message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, cookies ...*http.Cookie) {
	kind := authcore.KindOf(err)
	body := envelope{Success: false, Code: kind.String()}

	var ae *authcore.Error
	if kind != authcore.KindInternal && errors.As(err, &ae) {
		body.Message = ae.Message
		body.Field = ae.Field
	} else {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		body.Message = "internal server error"
	}

	cookie.Write(w, cookies)
	render.Status(r, kind.HTTPStatus())
	render.JSON(w, r, body)
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, envelope{Success: false, Message: message, Code: authcore.KindValidation.String()})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := render.DecodeJSON(r.Body, v); err != nil {
		h.badRequest(w, r, "invalid request body")
		return false
	}
	return true
}
