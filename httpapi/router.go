package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/lendloop/authcore"
	"github.com/lendloop/authcore/middleware"
)

// Options configures NewRouter.
type Options struct {
	Logger         *zap.Logger
	AllowedOrigins []string
}

// Handler holds the HTTP handlers for one Engine.
type Handler struct {
	engine *authcore.Engine
	logger *zap.Logger
}

// NewRouter returns a router serving the auth API under /api. Callers may
// mount more routes, such as /metrics, on the result.
func NewRouter(engine *authcore.Engine, opts Options) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{engine: engine, logger: logger.Named("http")}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.DeviceIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestMeta)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Route("/api/auth", func(api chi.Router) {
		// ---------------- Public ----------------
		api.Group(func(pub chi.Router) {
			pub.Post("/register", h.Register)
			pub.Post("/resend-otp", h.ResendOTP)
			pub.Post("/verify-email", h.VerifyEmail)
			pub.Post("/login", h.Login)
			pub.Post("/2fa/verify", h.VerifyTwoFactor)
			pub.Post("/2fa/resend", h.ResendTwoFactor)
			pub.Post("/refresh", h.Refresh)
			pub.Post("/logout", h.Logout)
			pub.Post("/forgot-password", h.ForgotPassword)
			pub.Post("/reset-password", h.ResetPassword)
			pub.Post("/reset-password/{token}", h.ResetPassword)
		})

		// ---------------- Authenticated ----------------
		api.Group(func(g chi.Router) {
			g.Use(middleware.GuardWith(engine, authcore.ModeInherit, func(w http.ResponseWriter, r *http.Request, err error) {
				h.fail(w, r, err)
			}))

			g.Get("/me", h.Me)
			g.Post("/update-password", h.UpdatePassword)

			g.Get("/2fa", h.TwoFactorStatus)
			g.Post("/2fa/enable-email", h.EnableEmailTwoFactor)
			g.Post("/2fa/authenticator/setup", h.StartAuthenticatorSetup)
			g.Post("/2fa/authenticator/verify", h.VerifyAuthenticatorSetup)
			g.Post("/2fa/disable", h.DisableTwoFactor)

			g.Get("/sessions", h.ListSessions)
			g.Delete("/sessions/{id}", h.RevokeSession)
			g.Post("/sessions/revoke-others", h.RevokeOtherSessions)
			g.Post("/sessions/revoke-all", h.RevokeAllSessions)
		})
	})

	return r
}
