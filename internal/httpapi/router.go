// Package httpapi is the JSON transport for authd.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrEthical07/authcore"
	promexport "github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/middleware"
)

// Options configures NewRouter. Engine is required.
type Options struct {
	Engine *authcore.Engine
	Logger *slog.Logger
	// Registry receives the engine collector and request metrics. A fresh registry is
	// created when nil.
	Registry *prometheus.Registry
	// RequestsPerMinute caps requests per client IP. Zero disables the limit.
	RequestsPerMinute int
	CORSOrigins       []string
	// AdminToken guards /v1/admin. The admin routes are not mounted when it is empty.
	AdminToken     string
	RequestTimeout time.Duration
}

type api struct {
	engine *authcore.Engine
	logger *slog.Logger
}

// NewRouter returns the authd HTTP handler.
func NewRouter(opts Options) (http.Handler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reqMetrics := newRequestMetrics()
	if err := reg.Register(promexport.NewCollector(opts.Engine)); err != nil {
		return nil, err
	}
	if err := reqMetrics.register(reg); err != nil {
		return nil, err
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	a := &api{engine: opts.Engine, logger: logger}
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	if opts.RequestsPerMinute > 0 {
		r.Use(httprate.LimitByIP(opts.RequestsPerMinute, time.Minute))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsOrAny(opts.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id", captchaHeader},
		AllowCredentials: len(opts.CORSOrigins) > 0,
		MaxAge:           300,
	}))
	r.Use(reqMetrics.middleware)
	r.Use(middleware.ClientInfo)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/.well-known/jwks.json", a.jwks)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/register", a.register)
		r.Post("/verify-email", a.verifyEmail)
		r.Post("/login", a.login)
		r.Post("/2fa/verify", a.verifyTwoFactor)
		r.Post("/2fa/recovery", a.recoveryLogin)
		r.Post("/refresh", a.refresh)
		r.Post("/logout", a.logout)
		r.Post("/password/forgot", a.forgotPassword)
		r.Post("/password/reset", a.resetPassword)
	})

	r.Route("/v1/account", func(r chi.Router) {
		r.Use(middleware.RequireStrict(opts.Engine))
		r.Get("/", a.me)
		r.Post("/logout-all", a.logoutAll)
		r.Post("/password", a.changePassword)
		r.Get("/sessions", a.listSessions)
		r.Delete("/sessions/{sessionID}", a.revokeSession)
		r.Post("/2fa/enable", a.enableTwoFactorInit)
		r.Post("/2fa/confirm", a.enableTwoFactorComplete)
		r.Post("/2fa/disable", a.disableTwoFactor)
		r.Get("/2fa/recovery-codes", a.recoveryCodesRemaining)
		r.Post("/2fa/recovery-codes", a.regenerateRecoveryCodes)
	})

	if opts.AdminToken != "" {
		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(requireAdmin(opts.AdminToken))
			r.Post("/users/{userID}/disable", a.disableUser)
			r.Post("/users/{userID}/enable", a.enableUser)
			r.Post("/unlock", a.unlockAccount)
			r.Post("/flag-ip", a.flagIP)
			r.Post("/keys/promote", a.promoteKey)
			r.Get("/security-report", a.securityReport)
		})
	}

	return r, nil
}

func originsOrAny(in []string) []string {
	if len(in) == 0 {
		return []string{"*"}
	}
	return in
}
