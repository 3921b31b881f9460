// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer: it builds every dependency from the
// configuration (the composition root) and decides
// - which URL patterns map to which handler functions
// - what middleware runs on which routes
// - how the server starts and stops gracefully
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/sakif/code-reviewer/internal/auth"
	"github.com/sakif/code-reviewer/internal/config"
	"github.com/sakif/code-reviewer/internal/handler"
	"github.com/sakif/code-reviewer/internal/llm"
	"github.com/sakif/code-reviewer/internal/metrics"
	"github.com/sakif/code-reviewer/internal/middleware"
	"github.com/sakif/code-reviewer/internal/observability"
	"github.com/sakif/code-reviewer/internal/quota"
	"github.com/sakif/code-reviewer/internal/repository"
	sqliteRepo "github.com/sakif/code-reviewer/internal/repository/sqlite"
	"github.com/sakif/code-reviewer/internal/review"
	"github.com/sakif/code-reviewer/internal/service"
)

const (
	shutdownTimeout   = 30 * time.Second
	denylistSweepTick = 10 * time.Minute
)

// Option customises a Server. Tests use them to swap out external services.
type Option func(*Server)

// WithProvider replaces the Gemini client.
func WithProvider(p llm.Provider) Option {
	return func(s *Server) { s.provider = p }
}

// WithOAuthExchanger replaces the Google OAuth client.
func WithOAuthExchanger(x auth.OAuthExchanger) Option {
	return func(s *Server) { s.oauth = x }
}

// WithPasswordService replaces the bcrypt service, e.g. with a low-cost one.
func WithPasswordService(p *auth.PasswordService) Option {
	return func(s *Server) { s.passwords = p }
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the throttle's cleanup
// goroutine. Start releases both on shutdown; Close does it for servers that
// were never started.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger

	db       *sqliteRepo.DB
	registry *prometheus.Registry
	throttle *middleware.Throttle
	denylist *auth.Denylist

	provider  llm.Provider
	oauth     auth.OAuthExchanger
	passwords *auth.PasswordService
}

// New creates a Server from cfg.
//
// DEPENDENCY CHAIN:
//
//	sqlite.DB → UserStore, QuotaStore
//	TokenService + PasswordService + Google → AuthService → AuthHandler
//	QuotaStore → quota.Meter ─┐
//	Gemini client ────────────┴→ ReviewService → ReviewHandler
//
// Each layer only receives what it needs: services get repository
// interfaces, handlers get services.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes builds the services and configures all middleware and routes.
//
// ROUTE STRUCTURE:
// GET       /healthz                → DB ping
// GET       /metrics                → Prometheus
// POST      /api/v1/user/register   → local sign-up      (throttled)
// POST      /api/v1/user/login      → local sign-in      (throttled)
// POST      /api/v1/user/google     → popup OAuth        (throttled)
// GET|POST  /api/v1/user/logout     → clear session
// GET       /api/v1/user/me         → profile            (auth)
// GET       /auth/google/login      → redirect OAuth
// GET       /auth/google/callback   → redirect OAuth     (throttled)
// POST      /ai/codeReview          → quota-metered review (auth)
// POST      /ai/fixCode             → extract improved code (auth)
// GET       /ai/quota               → remaining reviews  (auth)
//
// MIDDLEWARE ORDER MATTERS:
// RequestID and RealIP come first so the logger and the throttle see them;
// the logger wraps the recoverer so recovered panics are logged as 500s.
func (s *Server) setupRoutes() error {
	cfg := s.config

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(s.registry)

	// === Auth ===
	tokens, err := auth.NewTokenService(cfg.JWTSecret, auth.WithLifetime(cfg.SessionTTL))
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	if s.passwords == nil {
		s.passwords = auth.NewPasswordService()
	}
	if s.oauth == nil && cfg.Google.ClientID != "" {
		s.oauth = auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL(),
		})
	}
	if s.oauth == nil {
		s.logger.Warn("GOOGLE_CLIENT_ID not set, Google sign-in is disabled")
	}

	authOpts := []service.AuthOption{service.WithAuthMetrics(collector)}
	if s.oauth != nil {
		authOpts = append(authOpts, service.WithOAuth(s.oauth))
	}
	if cfg.SessionRevokeOnLogout {
		s.denylist = auth.NewDenylist(time.Now)
		authOpts = append(authOpts, service.WithDenylist(s.denylist))
	}
	authService := service.NewAuthService(s.db.Users(), tokens, s.passwords, s.logger, authOpts...)

	// === Review ===
	var quotaStore repository.QuotaRepository = s.db.Quotas()
	if cfg.Quota.Backend == config.BackendMemory {
		quotaStore = quota.NewMemoryStore()
	}
	meter := quota.NewMeter(quotaStore,
		quota.WithLimit(cfg.Quota.Limit),
		quota.WithWindow(cfg.Quota.Window),
		quota.WithMetrics(collector),
	)

	prompts, err := review.NewPromptBuilder(cfg.PromptTemplate)
	if err != nil {
		return fmt.Errorf("parsing prompt template: %w", err)
	}

	if s.provider == nil {
		if cfg.Gemini.APIKey == "" {
			s.logger.Warn("GEMINI_API_KEY not set, code reviews will fail")
		}
		s.provider = llm.NewGeminiClient(llm.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
			Model:   cfg.Gemini.Model,
			Timeout: cfg.Gemini.Timeout,
		})
	}

	reviewService := service.NewReviewService(meter, s.provider, s.logger,
		service.WithPromptBuilder(prompts),
		service.WithMaxCodeLength(cfg.MaxCodeLength),
		service.WithReviewMetrics(collector),
	)

	// === Handlers ===
	cookies := auth.CookieWriter{Secure: cfg.CookieSecure()}
	authHandler := handler.NewAuthHandler(authService, cookies, s.logger,
		handler.WithGoogle(s.oauth),
		handler.WithAfterLoginURL(cfg.CORSAllowedOrigin),
	)
	reviewHandler := handler.NewReviewHandler(reviewService, s.logger)

	s.throttle = middleware.NewThrottle(middleware.ThrottleConfig{
		Rate:            rate.Limit(float64(cfg.AuthRatePerMinute) / 60.0),
		Burst:           cfg.AuthRateBurst,
		CleanupInterval: middleware.DefaultThrottleConfig().CleanupInterval,
	})
	throttled := s.throttle.Middleware()
	requireAuth := auth.RequireAuth(authService.Verifier())

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, collector))
	s.router.Use(observability.Recoverer(s.logger))
	s.router.Use(middleware.SecurityHeaders)
	s.router.Use(middleware.CORS(cfg.CORSAllowedOrigin))

	s.router.Get("/healthz", handler.HandleHealth(s.db, s.logger))
	s.router.Handle("/metrics", metrics.Handler(s.registry))

	s.router.Route("/api/v1/user", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(throttled)
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/google", authHandler.HandleGoogle)
		})
		r.Get("/logout", authHandler.HandleLogout)
		r.Post("/logout", authHandler.HandleLogout)
		r.With(requireAuth).Get("/me", authHandler.HandleMe)
	})

	s.router.Route("/auth/google", func(r chi.Router) {
		r.Get("/login", authHandler.HandleGoogleLogin)
		r.With(throttled).Get("/callback", authHandler.HandleGoogleCallback)
	})

	s.router.Route("/ai", func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/codeReview", reviewHandler.HandleReview)
		r.Post("/fixCode", reviewHandler.HandleFixCode)
		r.Get("/quota", reviewHandler.HandleQuota)
	})

	return nil
}

// Handler returns the fully wired router. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops the throttle and closes the database.
func (s *Server) Close() error {
	if s.throttle != nil {
		s.throttle.Stop()
	}
	return s.db.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests (including provider calls) to finish
// 3. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.Close()

	// A review may legitimately take the whole provider timeout.
	writeTimeout := s.config.Gemini.Timeout + 15*time.Second

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if s.denylist != nil {
		go s.sweepDenylist(sweepCtx)
	}

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
			slog.String("database", s.config.DBPath),
			slog.String("quotaBackend", s.config.Quota.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func (s *Server) sweepDenylist(ctx context.Context) {
	ticker := time.NewTicker(denylistSweepTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.denylist.Sweep(); n > 0 {
				s.logger.Debug("denylist swept", slog.Int("removed", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
