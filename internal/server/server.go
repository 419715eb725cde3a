package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/handler"
	"github.com/keymint/keymint/internal/server/middleware"
	"github.com/keymint/keymint/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	TokenRateLimit  int   // requests per minute per IP on /connect/token
	KeyRateLimit    int   // requests per minute per API key on /api/v1; 0 disables
	AuthRateLimit   int   // requests per minute per IP on /api/v1, counted before authentication; 0 disables
	APIKeyHeader    string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20,
		TokenRateLimit:  60,
		KeyRateLimit:    600,
		AuthRateLimit:   300,
		APIKeyHeader:    "X-API-Key",
	}
}

// Server is the top-level HTTP server. It owns the chi router and the
// services behind it.
type Server struct {
	cfg        Config
	router     chi.Router
	keys       *apikey.Service
	authSvc    *service.AuthService
	tokens     *service.TokenIssuer
	metrics    *apikey.Metrics
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. metrics may be nil, in which case a fresh registry is
// used for the HTTP collectors.
func New(cfg Config, keys *apikey.Service, authSvc *service.AuthService, tokens *service.TokenIssuer, metrics *apikey.Metrics, logger *slog.Logger) *Server {
	if metrics == nil {
		metrics = apikey.NewMetrics("")
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	s := &Server{
		cfg:     cfg,
		keys:    keys,
		authSvc: authSvc,
		tokens:  tokens,
		metrics: metrics,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	reg := s.metrics.Registry()
	httpMetrics := middleware.NewHTTPMetrics(s.metrics.Namespace(), reg)

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Metrics(httpMetrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", s.cfg.APIKeyHeader, "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}
	r.Use(chimw.Compress(5))

	// --- Health and metadata (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.APIKeyHeader).ServeSpec)

	// --- Token endpoint (rate limited per IP) ---
	grant := service.NewGrantExchange(s.keys, s.logger, s.metrics)
	tokenHandler := handler.NewTokenHandler(grant, s.tokens, s.logger)
	r.Group(func(r chi.Router) {
		if s.cfg.TokenRateLimit > 0 {
			r.Use(middleware.RateLimit(s.cfg.TokenRateLimit))
		}
		r.Post("/connect/token", tokenHandler.Token)
	})

	// --- Authenticated API ---
	r.Route("/api/v1", func(r chi.Router) {
		// Failed credentials never reach the per-key limiter.
		if s.cfg.AuthRateLimit > 0 {
			r.Use(middleware.RateLimit(s.cfg.AuthRateLimit))
		}
		r.Use(middleware.Authenticate(s.authSvc, s.cfg.APIKeyHeader, s.logger))
		r.Use(middleware.RateLimitByKey(s.cfg.KeyRateLimit))

		r.Get("/me", handler.Me)

		keysHandler := handler.NewKeysHandler(s.keys, s.logger)
		r.Route("/keys", func(r chi.Router) {
			r.Use(middleware.RequireTenant())
			r.Get("/", keysHandler.List)
			r.Post("/", keysHandler.Create)
			r.Delete("/{publicId}", keysHandler.Revoke)
		})
	})

	s.router = r
}

// handleHealthz is a liveness check. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness check. Returns 200 when the key store
// answers a ping, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.keys.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		checks["store"] = "unavailable"
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests. Closing the key store is left to the caller.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
