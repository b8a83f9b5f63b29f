package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/challenge-engine/internal/catalog"
	"github.com/terra-clan/challenge-engine/internal/config"
	"github.com/terra-clan/challenge-engine/internal/engine"
	"github.com/terra-clan/challenge-engine/internal/models"
	"github.com/terra-clan/challenge-engine/internal/services"
	"github.com/terra-clan/challenge-engine/internal/storage"
)

// ReloadNotifier tells other nodes that a world's definitions changed
type ReloadNotifier interface {
	NotifyReload(ctx context.Context, channel, world string) error
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	engine         *engine.Engine
	catalog        *catalog.Loader
	state          services.StateProvider
	repo           storage.Repository
	notifier       ReloadNotifier
	reloadChannel  string
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server. state may be nil, in which case
// completion requests must carry a snapshot.
func NewServer(
	cfg config.ServerConfig,
	eng *engine.Engine,
	loader *catalog.Loader,
	state services.StateProvider,
	repo storage.Repository,
) *Server {
	s := &Server{
		config:         cfg,
		engine:         eng,
		catalog:        loader,
		state:          state,
		repo:           repo,
		authMiddleware: NewAuthMiddleware(repo),
	}
	s.setupRouter()
	return s
}

// SetReloadNotifier enables cluster-wide reload broadcasts on channel
func (s *Server) SetReloadNotifier(n ReloadNotifier, channel string) {
	s.notifier = n
	s.reloadChannel = channel
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	auth := s.authMiddleware
	read := auth.RequirePermission(models.PermissionRead)
	complete := auth.RequirePermission(models.PermissionComplete)
	admin := auth.RequirePermission(models.PermissionAdmin)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Authenticate)

		// long-lived, no request timeout
		r.With(read).Get("/events/ws", s.handleEventStream)

		r.Group(func(r chi.Router) {
			timeout := s.config.RequestTimeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			r.Use(middleware.Timeout(timeout))

			r.Route("/worlds/{world}", func(r chi.Router) {
				r.With(read).Get("/challenges", s.handleListChallenges)
				r.With(read).Get("/challenges/{name}", s.handleGetChallenge)
				r.With(read).Get("/levels", s.handleListLevels)
				r.With(admin).Post("/reload", s.handleReload)

				r.Route("/participants/{participant}", func(r chi.Router) {
					r.With(read).Get("/progress", s.handleProgress)
					r.With(read).Get("/levels", s.handleLevelStatus)
					r.With(admin).Get("/audit", s.handleAudit)
					r.With(complete).Post("/challenges/{name}/complete", s.handleComplete)
					r.With(admin).Post("/challenges/{name}/reset", s.handleResetOne)
					r.With(admin).Post("/reset", s.handleResetAll)
				})
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
