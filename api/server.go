/*
server.go - HTTP router for the job trigger surface

PURPOSE:
  A thin operational surface over the scheduler and the Redis view:
  trigger jobs, inspect queue status, read cached inventory/discounts,
  and push tabular GL exports directly. No authentication here; the
  deployment fronts this with the admin gateway.

ROUTER: chi (lightweight, context-based, middleware support).
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires all routes.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/status", h.JobStatus)
			r.Post("/{queue}", h.AddJob)
		})

		r.Get("/locations", h.Locations)
		r.Get("/inventory/{locationID}", h.Inventory)
		r.Get("/discounts/{locationID}", h.Discounts)

		r.Post("/gl/export", h.GLExportUpload)
	})

	return r
}
