// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the wiring layer: it opens the database, builds the
// services and handlers, decides which URL maps to which handler, and stops
// the server gracefully.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB → AuthService, GamificationService → AuthHandler, GamificationHandler
//
// All dependencies are wired here (the "composition root") rather than
// scattered across the codebase.
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

	"github.com/sakif/mentor-app/internal/auth"
	"github.com/sakif/mentor-app/internal/catalog"
	"github.com/sakif/mentor-app/internal/config"
	"github.com/sakif/mentor-app/internal/handler"
	"github.com/sakif/mentor-app/internal/middleware"
	sqliteRepo "github.com/sakif/mentor-app/internal/repository/sqlite"
	"github.com/sakif/mentor-app/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the database connection. Start closes it on shutdown;
// callers that never call Start must call Close.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New opens the database, applies the catalog when one is configured, and
// builds the router.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if cfg.CatalogPath != "" {
		if err := applyCatalog(context.Background(), cfg.CatalogPath, db, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

func applyCatalog(ctx context.Context, path string, db *sqliteRepo.DB, logger *slog.Logger) error {
	c, err := catalog.Load(path)
	if err != nil {
		return err
	}
	sum, err := c.Apply(ctx, db)
	if err != nil {
		return err
	}
	logger.Info("catalog applied",
		slog.String("path", path),
		slog.Int("levels", sum.Levels),
		slog.Int("badges", sum.Badges),
		slog.Int("achievements", sum.Achievements),
	)
	return nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /auth/github/login                          → GitHub consent redirect (when configured)
// GET    /auth/github/callback                       → GitHub OAuth callback (when configured)
// POST   /auth/logout                                → clear the token cookie
// GET    /api/health                                 → liveness
// POST   /api/auth/register                          → password sign-up
// POST   /api/auth/login                             → password sign-in
// GET    /api/me                                     → current user              [auth]
// GET    /api/gamification/profile                   → level, XP, badges, rank   [auth]
// GET    /api/gamification/leaderboard               → paginated XP ranking
// GET    /api/gamification/badges                    → badge catalog
// GET    /api/gamification/achievements              → achievement catalog
// GET    /api/gamification/levels                    → XP ladder
// PUT    /api/gamification/achievements/{id}/progress → report progress         [auth]
// POST   /api/gamification/badges/{id}/award          → grant a badge            [auth, admin]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Logger: logs each request with timing info and the request ID
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	// A nil *GitHubProvider stored in the interface would not compare equal
	// to nil, so the interface is only assigned when GitHub is configured.
	var github handler.GitHubOAuth
	if s.config.GitHubEnabled() {
		github = auth.NewGitHubProvider(
			s.config.GitHubClientID,
			s.config.GitHubClientSecret,
			s.config.GitHubCallbackURL,
		)
	}

	authService := service.NewAuthService(s.db, tokens, auth.NewPasswordService(), s.logger)
	gamificationService := service.NewGamificationService(s.db, s.logger)

	authHandler := handler.NewAuthHandler(authService, github, tokens, s.logger)
	gamificationHandler := handler.NewGamificationHandler(gamificationService, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	s.router.Route("/auth", func(r chi.Router) {
		if github != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}
		r.Post("/logout", authHandler.HandleLogout)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.HandleHealth)
		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/login", authHandler.HandleLogin)

		r.Route("/gamification", func(r chi.Router) {
			r.Get("/leaderboard", gamificationHandler.HandleLeaderboard)
			r.Get("/badges", gamificationHandler.HandleBadges)
			r.Get("/achievements", gamificationHandler.HandleAchievements)
			r.Get("/levels", gamificationHandler.HandleLevels)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(tokens))
				r.Get("/profile", gamificationHandler.HandleProfile)
				r.Put("/achievements/{id}/progress", gamificationHandler.HandleUpdateProgress)
				r.Post("/badges/{id}/award", gamificationHandler.HandleAwardBadge)
			})
		})

		r.With(auth.RequireAuth(tokens)).Get("/me", authHandler.HandleMe)
	})

	if !s.config.GitHubEnabled() {
		s.logger.Info("GitHub sign-in disabled: GITHUB_CLIENT_ID not set")
	}

	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Only needed when Start is never called.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
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

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
