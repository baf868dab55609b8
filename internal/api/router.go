package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/tracklab/podium/internal/api/handlers"
	"github.com/tracklab/podium/internal/api/middleware"
)

type Router struct {
	chi.Router
}

// RouterConfig wires the read-only inspection surface. Tasks, rooms and
// matches are authored elsewhere; this API only reports on them.
type RouterConfig struct {
	DB             *gorm.DB
	Logger         *slog.Logger
	APIToken       string   // optional static bearer token; empty leaves routes open
	AllowedOrigins []string // CORS allowed origins
	RateLimitReqs  int      // Rate limit requests per window
	RateLimitSecs  int      // Rate limit window in seconds
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	// Rate limiting - applied globally to prevent abuse
	if cfg.RateLimitReqs > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimitReqs, cfg.RateLimitSecs))
	}

	// CORS - restrict to configured origins, or allow all in development
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		// Default to localhost for development - configure in production
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cfg.DB)
	taskHandler := handlers.NewTaskHandler(cfg.DB)
	roomHandler := handlers.NewRoomHandler(cfg.DB)
	matchHandler := handlers.NewMatchHandler(cfg.DB)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Token(cfg.APIToken))

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.List)
			r.Get("/{id}", taskHandler.Get)
		})

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", roomHandler.List)
			// Slugs are "category/room-name", two path segments.
			r.Get("/{category}/{room}", roomHandler.Get)
		})

		r.Route("/matches", func(r chi.Router) {
			r.Get("/{id}", matchHandler.Get)
		})
	})

	return &Router{r}
}
