package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/MrEthical07/credflow"
	"github.com/MrEthical07/credflow/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configures the router.
type Options struct {
	Engine *credflow.Engine
	Logger *zap.Logger

	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer

	// AdminToken guards the blacklist endpoints through the X-Admin-Token
	// header. Without it the admin routes are not mounted.
	AdminToken string

	// SecureCookies sets the Secure attribute on auth cookies.
	SecureCookies bool
	// RefreshTTL bounds the refresh cookie lifetime.
	RefreshTTL time.Duration

	// TrustProxy reads the client address from X-Forwarded-For/X-Real-IP.
	TrustProxy bool
}

// NewRouter builds the HTTP handler for opts.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{
		engine:  opts.Engine,
		logger:  logger.Named("http"),
		cookies: cookieConfig{secure: opts.SecureCookies, ttl: opts.RefreshTTL},
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	if opts.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(requestLogger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.ClientIP)

	r.Get("/healthz", h.health)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.requestSignup)
		r.Get("/signup/verify", h.verifySignup)
		r.Post("/signup/verify", h.verifySignup)
		r.Post("/signin", h.signin)
		r.Post("/refresh", h.refresh)
		r.Post("/signout", h.signout)

		r.Post("/password/forgot", h.requestReset)
		r.Post("/password/verify-otp", h.verifyOTP)
		r.Post("/password/reset", h.resetPassword)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(opts.Engine))
			r.Get("/me", h.me)
			r.Post("/password/change", h.changePassword)
		})
	})

	if opts.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin(opts.AdminToken))
			r.Post("/blacklist", h.blacklist)
			r.Post("/blacklist/all", h.blacklistAll)
		})
	}

	return r
}

func requireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
