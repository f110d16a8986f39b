package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the optimizer routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimize", func(r chi.Router) {
		r.Get("/", h.HandleListMethods)
		r.Post("/", h.HandleOptimize)
	})
}
