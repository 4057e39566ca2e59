package server

import (
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/terraconstructs/fhirapi/internal/auth"
	"github.com/terraconstructs/fhirapi/internal/middleware"
	"github.com/terraconstructs/fhirapi/internal/services/clinical"
)

// RouterOptions controls the construction of the HTTP router.
type RouterOptions struct {
	Services      *clinical.Services
	Authenticator *auth.Authenticator

	// Verifier authenticates bearer tokens on both protocols. When nil no
	// route that needs an identity can succeed.
	Verifier middleware.TokenVerifier

	Logger *zap.Logger

	// CORSOptions customises the access-control configuration. When nil,
	// DefaultCORSOptions() is applied.
	CORSOptions *cors.Options

	// RequestsPerMinute limits each client IP. Zero disables the limit.
	RequestsPerMinute int

	// Middleware are appended after the default stack.
	Middleware          []func(http.Handler) http.Handler
	ConnectInterceptors []connect.Interceptor

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler
	ExtraRoutes    func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Authorization",
			"Content-Type",
			"If-None-Exist",
			"Connect-Protocol-Version",
			"Connect-Timeout-Ms",
		},
		ExposedHeaders: []string{
			"Connect-Protocol-Version",
			"X-Request-Id",
		},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with the shared middleware stack, the
// REST and RPC surfaces and the operational endpoints.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewRequestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	if opts.RequestsPerMinute > 0 {
		r.Use(httprate.LimitByIP(opts.RequestsPerMinute, time.Minute))
	}

	interceptors := opts.ConnectInterceptors
	if opts.Verifier != nil {
		r.Use(middleware.NewAuthnMiddleware(opts.Verifier, logger))
		interceptors = append([]connect.Interceptor{middleware.NewAuthnInterceptor(opts.Verifier, logger)}, interceptors...)
	}

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	if opts.Authenticator != nil {
		r.Post("/auth/login", HandleLogin(opts.Authenticator))
		r.Post("/auth/register", HandleRegister(opts.Authenticator))
	}
	r.Get("/auth/me", HandleMe())

	if opts.Services != nil {
		mountFHIR(r, opts.Services)
		MountConnectHandlers(r, opts.Services, interceptors...)
	}

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r
}

// NewH2CHandler wraps the router with an h2c server so Connect clients can
// use HTTP/2 over cleartext.
func NewH2CHandler(opts RouterOptions) http.Handler {
	return h2c.NewHandler(NewRouter(opts), &http2.Server{})
}
