package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the backtest routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/backtests", func(r chi.Router) {
		r.Get("/", h.HandleListDrivers)
		r.Post("/{driver}", h.HandleRunBacktest) // simple, walk_forward, monte_carlo, ...
	})
}
