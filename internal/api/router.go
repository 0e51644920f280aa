package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/api/response"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	PingHandler   http.HandlerFunc

	CreateJobHandler http.HandlerFunc
	ListJobsHandler  http.HandlerFunc
	ActiveJobHandler http.HandlerFunc
	GetJobHandler    http.HandlerFunc

	RegisterUserHandler http.HandlerFunc
	CurrentUserHandler  http.HandlerFunc
	GetUserHandler      http.HandlerFunc
	UpdateUserHandler   http.HandlerFunc
	ListUsersHandler    http.HandlerFunc

	AdminListJobsHandler http.HandlerFunc
	UpdateStatusHandler  http.HandlerFunc
	QueueStatusHandler   http.HandlerFunc

	WebSocketHandler http.HandlerFunc

	// MetricsHandler defaults to the Prometheus default registry.
	MetricsHandler http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:         300,
	}))

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Get("/api/v1/ping", orNotImplemented(deps.PingHandler))

	// The WebSocket authenticates with a token query parameter.
	r.Get("/ws/{userID}", orNotImplemented(deps.WebSocketHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJobHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/active", orNotImplemented(deps.ActiveJobHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))

		r.Post("/api/v1/users", orNotImplemented(deps.RegisterUserHandler))
		r.Get("/api/v1/users/me", orNotImplemented(deps.CurrentUserHandler))
		r.Get("/api/v1/users/{userID}", orNotImplemented(deps.GetUserHandler))
		r.Put("/api/v1/users/{userID}", orNotImplemented(deps.UpdateUserHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Get("/api/v1/admin/jobs", orNotImplemented(deps.AdminListJobsHandler))
			r.Patch("/api/v1/admin/jobs/{jobID}/status", orNotImplemented(deps.UpdateStatusHandler))
			r.Get("/api/v1/admin/queue", orNotImplemented(deps.QueueStatusHandler))
			r.Get("/api/v1/users", orNotImplemented(deps.ListUsersHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
