package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes возвращает роутер API с middleware.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(recoverer(h.logger))
	if h.metrics != nil {
		r.Use(h.metrics.middleware)
	}
	if len(h.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.corsOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         300,
		}))
	}

	r.NotFound(h.handle(func(http.ResponseWriter, *http.Request) error {
		return notFound("route not found")
	}))
	r.MethodNotAllowed(h.handle(func(http.ResponseWriter, *http.Request) error {
		return &Error{Status: http.StatusMethodNotAllowed, Code: ErrCodeMethodNotAllowed, Message: "method not allowed"}
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/flows", func(r chi.Router) {
			r.Get("/", h.handle(h.listFlows))
			r.Post("/", h.handle(h.createFlow))
			r.Post("/validate", h.handle(h.validateFlow))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handle(h.getFlow))
				r.Put("/", h.handle(h.updateFlow))
				r.Delete("/", h.handle(h.deleteFlow))

				r.Get("/versions", h.handle(h.listFlowVersions))
				r.Post("/versions", h.handle(h.createFlowVersion))
				r.Get("/versions/{version}", h.handle(h.getFlowVersion))

				r.Post("/runs", h.handle(h.createRun))
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.handle(h.listRuns))
			r.Get("/{id}", h.handle(h.getRun))
			r.Post("/{id}/cancel", h.handle(h.cancelRun))
		})

		r.Post("/execute", h.handle(h.executeFlow))
	})

	return r
}

// RegisterRoutes монтирует API в mux сервиса под /api/.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/", h.Routes())
}
