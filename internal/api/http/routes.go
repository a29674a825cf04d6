package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers bundles the route handlers served by NewRouter.
type Handlers struct {
	Task   *TaskHandler
	Digest *DigestHandler
	Models *ModelHandler
	Events *EventsHandler
}

// NewRouter creates a new HTTP router with configured routes, middleware, and handlers.
// It sets up task, digest, model and event routes, health check, and the Prometheus metrics endpoint.
func NewRouter(h Handlers, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Route("/task", func(r chi.Router) {
		r.Get("/", h.Task.Status)
		r.Post("/start", h.Task.Start)
		r.Post("/stop", h.Task.Stop)
		r.Post("/progress", h.Task.ReportProgress)
	})
	r.Get("/notifications", h.Task.Notifications)

	r.Get("/events", h.Events.Stream)

	r.Post("/digest", h.Digest.Compute)

	r.Route("/models", func(r chi.Router) {
		r.Post("/", h.Models.CreateFetch)
		r.Get("/", h.Models.ListFetches)
		r.Get("/{jobID}", h.Models.GetFetch)
		r.Delete("/{jobID}", h.Models.DeleteFetch)
		r.Post("/{jobID}/cancel", h.Models.CancelFetch)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	logger.Debug("router configured")
	return r
}
