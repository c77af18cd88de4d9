package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hugh/dashtenant/internal/api/handlers"
	"github.com/hugh/dashtenant/internal/api/middleware"
	"github.com/hugh/dashtenant/internal/auth"
	"github.com/hugh/dashtenant/internal/tenancy"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
}

type RouterConfig struct {
	DB             *gorm.DB
	Redis          *redis.Client
	Logger         *slog.Logger
	JWTService     *auth.JWTService
	AuthService    *auth.Service
	SessionManager *tenancy.Manager
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.DeviceHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis)
	authHandler := handlers.NewAuthHandler(cfg.AuthService)
	sessionHandler := handlers.NewSessionHandler(cfg.SessionManager)
	orgHandler := handlers.NewOrganizationHandler(cfg.SessionManager, cfg.AuthService)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTService))

			// Tenant session endpoints
			r.Route("/session", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Post("/refresh", sessionHandler.Refresh)
				r.Put("/organization", sessionHandler.SelectOrganization)
				r.Put("/impersonation", sessionHandler.Impersonate)
				r.Delete("/impersonation", sessionHandler.StopImpersonating)
			})

			// Organization endpoints
			r.Route("/organizations", func(r chi.Router) {
				r.Get("/", orgHandler.List)
				r.Get("/directory", orgHandler.Directory)
				r.Put("/{id}/config", orgHandler.UpdateConfig)
				r.Post("/{id}/invitations", orgHandler.Invite)
			})

			r.Post("/invitations/accept", orgHandler.AcceptInvitation)
		})
	})

	return &Router{r}
}
