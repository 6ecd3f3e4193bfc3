package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sembalun/guard/internal/auth"
	"github.com/sembalun/guard/internal/handlers"
	"github.com/sembalun/guard/internal/middleware"
)

// Handlers bundles the HTTP handlers mounted by RegisterRoutes
type Handlers struct {
	Auth      *handlers.AuthHandler
	Sessions  *handlers.SessionHandler
	Audit     *handlers.AuditHandler
	RateLimit *handlers.RateLimitHandler
	Health    *handlers.HealthHandler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	sessionMiddleware func(http.Handler) http.Handler,
	rateLimitConfig middleware.RateLimitConfig,
) {
	router.Get("/health", h.Health.Health)

	// Public routes - no session required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))
		r.Post("/auth/login", h.Auth.Login)
		r.Post("/auth/register", h.Auth.Register)
	})

	// Session routes
	router.Group(func(r chi.Router) {
		r.Use(sessionMiddleware)
		r.Use(middleware.RateLimitByUser(rateLimitConfig))

		r.Post("/auth/logout", h.Auth.Logout)
		r.Post("/auth/logout-all", h.Auth.LogoutAll)

		r.Get("/sessions", h.Sessions.ListMine)
		r.Delete("/sessions/{id}", h.Sessions.RevokeMine)

		r.Post("/audit/events", h.Audit.ReportEvent)

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole("admin"))

			r.Get("/audit/recent", h.Audit.GetRecent)
			r.Get("/audit/alerts", h.Audit.GetAlerts)
			r.Get("/audit/users/{id}", h.Audit.GetUserLogs)

			r.Get("/users/{id}/sessions", h.Sessions.ListForUser)
			r.Delete("/users/{id}/sessions", h.Sessions.RevokeAllForUser)

			r.Delete("/rate-limits/{key}", h.RateLimit.Reset)
		})
	})
}
