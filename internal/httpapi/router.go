package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the REST surface, the live channel endpoint, health and
// metrics.
func NewRouter(h *Handler, live http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observe(h.logger))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.handleHealth)

	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)

	r.Get("/messages", h.handleListMessages)
	r.Post("/messages", h.handleCreateMessage)

	if live != nil {
		r.Get("/ws", live)
	}

	return r
}
