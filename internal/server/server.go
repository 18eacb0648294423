// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer: it connects the store, services,
// handlers and middleware, and runs the background jobs next to the HTTP
// server. main.go only loads config and builds a logger.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → sqlstore.DB → SessionManager, AuthService, NoteService, ImageService
//	                            → AuthHandler, NoteHandler, ImageHandler → chi routes
//
// This is the "composition root" pattern: every dependency is built in one
// place (New/routes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/journal/internal/auth"
	"github.com/sakif/journal/internal/config"
	"github.com/sakif/journal/internal/content"
	"github.com/sakif/journal/internal/handler"
	"github.com/sakif/journal/internal/middleware"
	"github.com/sakif/journal/internal/repository/sqlstore"
	"github.com/sakif/journal/internal/service"
)

const (
	shutdownTimeout = 30 * time.Second
	authBurst       = 5
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the database connection. Run closes it after the HTTP
// server has drained, so in-flight requests never see a closed pool.
type Server struct {
	router   chi.Router
	config   *config.Config
	logger   *slog.Logger
	store    *sqlstore.DB
	sessions *service.SessionManager
	limiter  *middleware.RateLimiter
}

// New opens the database and wires the application.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	var github handler.GitHubExchanger
	if cfg.GitHubEnabled() {
		github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	}

	s, err := newServer(cfg, store, github, auth.NewPasswordService(), logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// newServer builds the services and routes on an already-open store. Tests
// use it to inject a fake GitHub and a cheap bcrypt cost.
func newServer(
	cfg *config.Config,
	store *sqlstore.DB,
	github handler.GitHubExchanger,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) (*Server, error) {
	cookies, err := auth.NewCookieSigner(cfg.Cookie.Secret, cfg.Cookie.Secure)
	if err != nil {
		return nil, fmt.Errorf("creating cookie signer: %w", err)
	}

	sessions := service.NewSessionManager(store, cfg.SessionTTL, logger)
	authService := service.NewAuthService(store, passwords, sessions, logger)
	noteService := service.NewNoteService(store, service.NewReconciler(content.ImageRefs, logger), logger)
	imageService := service.NewImageService(store, cfg.MaxImageBytes, logger)

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		store:    store,
		sessions: sessions,
		limiter:  middleware.NewRateLimiter(cfg.AuthRequestsPerMinute, authBurst, logger),
	}

	s.routes(
		handler.NewAuthHandler(authService, cookies, github, logger),
		handler.NewNoteHandler(noteService, logger),
		handler.NewImageHandler(imageService, cfg.BaseURL, logger),
		handler.NewHealthHandler(store, logger),
		auth.RequireAuth(cookies, sessions, logger),
		github != nil,
	)
	return s, nil
}

// routes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                     → database ping
//	POST   /api/auth/register           → create account   (rate limited)
//	POST   /api/auth/login              → log in           (rate limited)
//	POST   /api/auth/logout             → log out                          [auth]
//	GET    /auth/github/login           → GitHub OAuth     (if configured)
//	GET    /auth/github/callback        → GitHub OAuth     (if configured)
//	GET    /api/me                      → current user                     [auth]
//	DELETE /api/me                      → delete account                   [auth]
//	GET    /api/notes                   → list notes                       [auth]
//	POST   /api/notes                   → create note                      [auth]
//	GET    /api/notes/{id}              → get note                         [auth]
//	GET    /api/notes/{id}/overview     → get note without content         [auth]
//	PATCH  /api/notes/{id}              → update note (PUT too)            [auth]
//	PUT    /api/notes/{id}/favourite    → set favourite                    [auth]
//	DELETE /api/notes/{id}              → delete note                      [auth]
//	POST   /api/images                  → upload image                     [auth]
//	GET    /api/images                  → list images                      [auth]
//	GET    /api/images/{id}             → image bytes                      [auth]
//	DELETE /api/images/{id}             → release image                    [auth]
//
// MIDDLEWARE ORDER MATTERS:
// RequestID and RealIP run first so the logger and the rate limiter see the
// request id and the real client address. Recoverer turns a panic into a 500.
func (s *Server) routes(
	authHandler *handler.AuthHandler,
	noteHandler *handler.NoteHandler,
	imageHandler *handler.ImageHandler,
	healthHandler *handler.HealthHandler,
	requireAuth func(http.Handler) http.Handler,
	githubEnabled bool,
) {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", healthHandler.HandleHealth)

	if githubEnabled {
		r.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		r.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	}

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Post("/auth/register", authHandler.HandleRegister)
			r.Post("/auth/login", authHandler.HandleLogin)
		})

		// Protected
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Post("/auth/logout", authHandler.HandleLogout)
			r.Get("/me", authHandler.HandleMe)
			r.Delete("/me", authHandler.HandleDeleteMe)

			r.Get("/notes", noteHandler.HandleList)
			r.Post("/notes", noteHandler.HandleCreate)
			r.Get("/notes/{id}", noteHandler.HandleGet)
			r.Get("/notes/{id}/overview", noteHandler.HandleGetOverview)
			r.Patch("/notes/{id}", noteHandler.HandleUpdate)
			r.Put("/notes/{id}", noteHandler.HandleUpdate)
			r.Put("/notes/{id}/favourite", noteHandler.HandleSetFavourite)
			r.Delete("/notes/{id}", noteHandler.HandleDelete)

			r.Post("/images", imageHandler.HandleUpload)
			r.Get("/images", imageHandler.HandleList)
			r.Get("/images/{id}", imageHandler.HandleFetch)
			r.Delete("/images/{id}", imageHandler.HandleDelete)
		})
	})
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
//
// Three goroutines share one errgroup:
//  1. the HTTP server
//  2. the expired-session sweeper
//  3. the rate limiter's bucket sweeper
//
// If any of them fails the group's context is cancelled and the rest stop
// too. The database is closed last.
func (s *Server) Run(ctx context.Context) error {
	defer s.store.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second, // image uploads
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
			slog.String("driver", s.config.Database.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.sessions.RunSweeper(ctx, s.config.SweepInterval)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.limiter.Sweep()
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")

		// ctx is already done; in-flight requests get a fresh deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
