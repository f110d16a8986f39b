// Package handlers provides HTTP handlers for portfolio optimization.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/optimization"
)

// highCorrelation flags strategy pairs worth reporting next to the weights
const highCorrelation = 0.8

// Recorder counts optimizer calls
type Recorder interface {
	OptimizationFinished(method string, err error)
}

// ReturnsInput is one column of a posted return panel
type ReturnsInput struct {
	Name    string    `json:"name"`
	Returns []float64 `json:"returns"`
}

// OptimizeRequest is the body of POST /optimize. Exactly one of Problem and
// Panel must be set; a panel is turned into annualized μ and Σ first.
type OptimizeRequest struct {
	Method optimization.Method `json:"method"`
	// Params is merged over optimization.DefaultParams
	Params  json.RawMessage       `json:"params,omitempty"`
	Problem *optimization.Problem `json:"problem,omitempty"`

	Panel       []ReturnsInput         `json:"panel,omitempty"`
	TradingDays int                    `json:"trading_days,omitempty"`
	Shrinkage   optimization.Shrinkage `json:"shrinkage,omitempty"`
}

// OptimizeResponse carries the solution and the estimated problem
type OptimizeResponse struct {
	Result           *optimization.Result           `json:"result"`
	Problem          optimization.Problem           `json:"problem"`
	HighCorrelations []optimization.CorrelationPair `json:"high_correlations,omitempty"`
}

// Handler handles optimization HTTP requests
type Handler struct {
	riskBuilder *optimization.RiskModelBuilder
	recorder    Recorder
	log         zerolog.Logger
}

// NewHandler creates a new optimization handler. recorder may be nil.
func NewHandler(recorder Recorder, log zerolog.Logger) *Handler {
	return &Handler{
		riskBuilder: optimization.NewRiskModelBuilder(log),
		recorder:    recorder,
		log:         log.With().Str("handler", "optimization").Logger(),
	}
}

// HandleListMethods returns the registered optimizer methods
func (h *Handler) HandleListMethods(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"methods":  optimization.Methods(),
		"defaults": optimization.DefaultParams(),
	})
}

// HandleOptimize runs one optimizer
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	problem, err := h.problem(&req)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	params := optimization.DefaultParams()
	if len(req.Params) > 0 {
		dec := json.NewDecoder(bytes.NewReader(req.Params))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&params); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid params: "+err.Error())
			return
		}
	}
	optimizer, err := optimization.New(req.Method, params, h.log)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	start := time.Now()
	result, err := optimizer.Optimize(problem)
	if h.recorder != nil {
		h.recorder.OptimizationFinished(string(req.Method), err)
	}
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	h.log.Info().
		Str("method", string(req.Method)).
		Int("assets", len(result.Weights)).
		Str("solver", result.Solver).
		Dur("elapsed", time.Since(start)).
		Msg("Optimization finished")

	h.writeJSON(w, http.StatusOK, OptimizeResponse{
		Result:           result,
		Problem:          problem,
		HighCorrelations: h.riskBuilder.HighCorrelations(problem, highCorrelation),
	})
}

func (h *Handler) problem(req *OptimizeRequest) (optimization.Problem, error) {
	switch {
	case req.Problem != nil && len(req.Panel) > 0:
		return optimization.Problem{}, domain.Invalid("send either a problem or a panel, not both")
	case req.Problem != nil:
		return *req.Problem, nil
	case len(req.Panel) == 0:
		return optimization.Problem{}, domain.Invalid("a problem or a panel is required")
	}

	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	series := make([]*domain.ReturnSeries, len(req.Panel))
	for i, in := range req.Panel {
		if in.Name == "" {
			return optimization.Problem{}, domain.Invalid("panel column %d has no name", i)
		}
		series[i] = domain.NewDailySeries(in.Name, start, in.Returns)
	}
	panel, err := domain.NewPanel(series...)
	if err != nil {
		return optimization.Problem{}, err
	}
	shrinkage := req.Shrinkage
	if shrinkage == "" {
		shrinkage = optimization.ShrinkageLedoitWolf
	}
	return h.riskBuilder.EstimateProblem(panel, optimization.RiskOptions{
		TradingDays: req.TradingDays,
		Shrinkage:   shrinkage,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientData), errors.Is(err, domain.ErrOptimization):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Optimization failed")
	}
	h.writeError(w, status, err.Error())
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
