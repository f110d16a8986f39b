// Package handlers provides HTTP handlers for stored reports.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/modules/report"
)

const defaultListLimit = 50

// ReportReader is the read side of report.Repository
type ReportReader interface {
	List(ctx context.Context, limit int) ([]report.Record, error)
	Get(ctx context.Context, id string) (*report.Report, error)
	Payload(ctx context.Context, id string) ([]byte, error)
}

// Handler handles report HTTP requests
type Handler struct {
	reports ReportReader
	log     zerolog.Logger
}

// NewHandler creates a new report handler
func NewHandler(reports ReportReader, log zerolog.Logger) *Handler {
	return &Handler{
		reports: reports,
		log:     log.With().Str("handler", "reports").Logger(),
	}
}

// HandleList returns report summaries, newest first. ?limit=N caps the list.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.reports.List(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list reports")
		h.writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": records,
		"count":   len(records),
	})
}

// HandleGet returns one full report
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rep, err := h.reports.Get(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}

// HandleGetPayload returns the stored msgpack encoding of a report
func (h *Handler) HandleGetPayload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := h.reports.Payload(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-msgpack")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Warn().Err(err).Str("report_id", id).Msg("Failed to write payload")
	}
}

func (h *Handler) writeLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, report.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.log.Error().Err(err).Str("report_id", id).Msg("Failed to load report")
	h.writeError(w, http.StatusInternalServerError, "failed to load report")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
