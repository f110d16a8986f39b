package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the report routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
		r.Get("/{id}/payload", h.HandleGetPayload) // msgpack
	})
}
