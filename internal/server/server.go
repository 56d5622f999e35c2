package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/r1hq/r1/internal/handler"
	"github.com/r1hq/r1/internal/metrics"
	"github.com/r1hq/r1/internal/server/middleware"
	"github.com/r1hq/r1/internal/service"
	"github.com/r1hq/r1/internal/signing"
	"github.com/r1hq/r1/internal/store"
)

// allowlist is the set of routes reachable with no credentials of any kind.
// Everything else passes through signature verification when an x-api-key is
// presented, then per-group bearer middleware.
var allowlist = []string{
	"/api/auth/login",
	"/api/auth/register",
	"/healthz",
	"/readyz",
	"/metrics",
}

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// LoginRatePerMinute caps login attempts per client IP.
	LoginRatePerMinute int
	// KeyRatePerMinute caps signed requests per API key.
	KeyRatePerMinute int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ShutdownTimeout:    30 * time.Second,
		CORSOrigins:        []string{"*"},
		LoginRatePerMinute: 10,
		KeyRatePerMinute:   300,
	}
}

// Server is the top-level HTTP server. It owns the Chi router, the backing
// store, and the auth and key services.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	authSvc    *service.AuthService
	keySvc     *service.KeyService
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, authSvc *service.AuthService, keySvc *service.KeyService, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		authSvc: authSvc,
		keySvc:  keySvc,
		metrics: m,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			signing.HeaderAPIKey, signing.HeaderSignature, signing.HeaderTimestamp,
		},
		ExposedHeaders:   []string{middleware.HeaderRequestID, middleware.HeaderUserID, middleware.HeaderUserAdmin},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// Signed-request verification runs globally: any request carrying an
	// x-api-key is verified (or rejected) here, before routing.
	r.Use(middleware.SignatureAuth(s.keySvc, s.metrics, allowlist))

	// --- Probes and metrics (allow-listed) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method("GET", "/metrics", s.metrics.Handler())

	// --- API routes ---
	authHandler := handler.NewAuthHandler(s.authSvc, s.store, s.metrics)
	keyHandler := handler.NewKeyHandler(s.keySvc, s.metrics)
	promptHandler := handler.NewPromptHandler(s.store)
	adminHandler := handler.NewAdminHandler(s.authSvc, s.store)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.LoginRatePerMinute))
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.authSvc, s.metrics))
			r.Get("/users/me", authHandler.Me)
			r.Post("/keys", keyHandler.Create)
			r.Get("/keys", keyHandler.GetOrCreate)
		})

		// Rotation and revocation authenticate by the key itself. The
		// signature middleware has already verified the request, so the
		// handlers only re-resolve the presented key.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByHeader(signing.HeaderAPIKey, s.cfg.KeyRatePerMinute))
			r.Post("/keys/rotate", keyHandler.Rotate)
			r.Delete("/keys", keyHandler.Revoke)
		})

		// Prompts accept either a signature principal (set above) or a
		// bearer token; mutations require one of the two.
		r.Route("/prompts", func(r chi.Router) {
			r.Use(middleware.OptionalAuth(s.authSvc, s.metrics))
			r.Get("/", promptHandler.List)
			r.Get("/{promptId}", promptHandler.Get)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePrincipal())
				r.Post("/", promptHandler.Create)
				r.Put("/{promptId}", promptHandler.Update)
				r.Delete("/{promptId}", promptHandler.Delete)
				r.Post("/{promptId}/vote", promptHandler.Vote)
				r.Post("/{promptId}/copy", promptHandler.Copy)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.authSvc, s.metrics))
			r.Use(middleware.RequireAdmin())
			r.Get("/users", adminHandler.ListUsers)
			r.Put("/users/{userId}", adminHandler.SetAdmin)
			r.Delete("/users/{userId}", adminHandler.DeleteUser)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the backing store is
// reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"degraded","error":%q}`, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close", "error", err)
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
