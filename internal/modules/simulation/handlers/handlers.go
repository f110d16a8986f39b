// Package handlers provides HTTP handlers for running backtests.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/modules/regime"
	"github.com/aristath/quantlab/internal/modules/report"
	"github.com/aristath/quantlab/internal/modules/simulation"
	"github.com/aristath/quantlab/internal/modules/strategies"
)

// maxBodyBytes bounds a posted backtest request
const maxBodyBytes = 32 << 20

// ReportSaver persists finished reports
type ReportSaver interface {
	Save(ctx context.Context, rep *report.Report) error
}

// SeriesInput is a posted return series. Timestamps are optional; without
// them the series is daily from Start.
type SeriesInput struct {
	Name       string      `json:"name"`
	Start      time.Time   `json:"start"`
	Timestamps []time.Time `json:"timestamps,omitempty"`
	Returns    []float64   `json:"returns"`
}

// StrategyInput is one component of a model-driven portfolio
type StrategyInput struct {
	Name     string            `json:"name"`
	Strategy strategies.Name   `json:"strategy"`
	Params   strategies.Params `json:"params"`
}

// BacktestRequest is the body of POST /backtests/{driver}
type BacktestRequest struct {
	// Series feeds the single-series drivers, and the portfolio drivers when
	// Strategies is set
	Series *SeriesInput `json:"series,omitempty"`
	// Strategies are fitted on Series by the portfolio drivers
	Strategies []StrategyInput `json:"strategies,omitempty"`
	// Panel feeds the portfolio drivers precomputed strategy return streams
	Panel []SeriesInput `json:"panel,omitempty"`

	Strategy strategies.Name   `json:"strategy"`
	Params   strategies.Params `json:"params"`

	// Detector picks the regime detector: "volatility" (default) or "trend"
	Detector  string                `json:"detector,omitempty"`
	Scenarios []domain.ScenarioSpec `json:"scenarios,omitempty"`
	Weights   []float64             `json:"weights,omitempty"`

	// Config is merged over the server's engine configuration
	Config json.RawMessage `json:"config,omitempty"`
}

// Handler runs backtests and stores their reports
type Handler struct {
	base     simulation.Config
	saver    ReportSaver
	bus      *events.Bus
	recorder simulation.Recorder
	log      zerolog.Logger
}

// NewHandler creates a backtest handler. bus and recorder may be nil.
func NewHandler(base simulation.Config, saver ReportSaver, bus *events.Bus, recorder simulation.Recorder, log zerolog.Logger) *Handler {
	return &Handler{
		base:     base,
		saver:    saver,
		bus:      bus,
		recorder: recorder,
		log:      log.With().Str("handler", "backtests").Logger(),
	}
}

// HandleListDrivers returns the available drivers and reference strategies
func (h *Handler) HandleListDrivers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"drivers":    simulation.Drivers(),
		"strategies": strategies.Names(),
	})
}

// HandleRunBacktest runs one driver and returns the persisted report
func (h *Handler) HandleRunBacktest(w http.ResponseWriter, r *http.Request) {
	driver := simulation.Driver(chi.URLParam(r, "driver"))
	if !knownDriver(driver) {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown driver %q", driver))
		return
	}

	var req BacktestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg, err := h.config(req.Config)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	opts := []simulation.Option{simulation.WithEvents(h.bus)}
	if h.recorder != nil {
		opts = append(opts, simulation.WithRecorder(h.recorder))
	}
	engine, err := simulation.NewEngine(cfg, h.log, opts...)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	run, err := h.run(r.Context(), engine, driver, &req)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	aggregator, err := report.NewAggregator(cfg.ConfidenceLevel, h.log)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	rep, err := aggregator.Build(run)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if err := h.saver.Save(r.Context(), rep); err != nil {
		h.log.Error().Err(err).Str("report_id", rep.ID).Msg("Failed to save report")
		h.writeError(w, http.StatusInternalServerError, "failed to save report")
		return
	}

	h.log.Info().
		Str("driver", string(driver)).
		Str("report_id", rep.ID).
		Int("results", len(run.Results)).
		Int("failures", len(run.Failures)).
		Msg("Backtest finished")

	h.writeJSON(w, http.StatusCreated, rep)
}

func (h *Handler) run(ctx context.Context, engine *simulation.Engine, driver simulation.Driver, req *BacktestRequest) (*simulation.Run, error) {
	switch driver {
	case simulation.DriverPortfolio, simulation.DriverDynamicPortfolio:
		var weights domain.WeightVector
		if len(req.Weights) > 0 {
			weights = domain.WeightVector(req.Weights)
		}
		if len(req.Strategies) > 0 {
			if req.Series == nil {
				return nil, domain.Invalid("driver %s needs a series to fit its strategies on", driver)
			}
			series, err := req.Series.build()
			if err != nil {
				return nil, err
			}
			components, err := buildComponents(req.Strategies)
			if err != nil {
				return nil, err
			}
			if driver == simulation.DriverPortfolio {
				return engine.Portfolio(ctx, series, components, weights)
			}
			return engine.DynamicPortfolio(ctx, series, components, weights)
		}
		panel, err := buildPanel(req.Panel)
		if err != nil {
			return nil, err
		}
		if driver == simulation.DriverPortfolio {
			return engine.PanelPortfolio(ctx, panel, weights)
		}
		return engine.PanelDynamicPortfolio(ctx, panel, weights)
	}

	if req.Series == nil {
		return nil, domain.Invalid("driver %s needs a series", driver)
	}
	series, err := req.Series.build()
	if err != nil {
		return nil, err
	}
	name := req.Strategy
	if name == "" {
		name = strategies.BuyAndHold
	}
	factory, err := strategies.New(name, req.Params)
	if err != nil {
		return nil, err
	}

	switch driver {
	case simulation.DriverSimple:
		return engine.Simple(ctx, series, factory)
	case simulation.DriverWalkForward:
		return engine.WalkForward(ctx, series, factory)
	case simulation.DriverMonteCarlo:
		return engine.MonteCarlo(ctx, series, factory)
	case simulation.DriverBootstrap:
		return engine.Bootstrap(ctx, series, factory)
	case simulation.DriverStress:
		return engine.Stress(ctx, series, factory, req.Scenarios)
	case simulation.DriverRegime:
		detector, err := h.detector(req.Detector)
		if err != nil {
			return nil, err
		}
		return engine.Regime(ctx, series, factory, detector)
	}
	return nil, domain.Invalid("unknown driver %q", driver)
}

// config overlays raw onto a copy of the base configuration
func (h *Handler) config(raw json.RawMessage) (simulation.Config, error) {
	cfg := h.base
	if len(raw) == 0 {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, domain.Invalid("config: %v", err)
	}
	return cfg, cfg.Validate()
}

func (h *Handler) detector(name string) (domain.RegimeDetector, error) {
	switch name {
	case "", "volatility":
		return regime.NewVolatilityDetector(h.log), nil
	case "trend":
		return regime.NewTrendDetector(h.log), nil
	}
	return nil, domain.Invalid("unknown regime detector %q", name)
}

func (s SeriesInput) build() (*domain.ReturnSeries, error) {
	if s.Name == "" {
		return nil, domain.Invalid("series needs a name")
	}
	if len(s.Timestamps) > 0 {
		return domain.NewReturnSeries(s.Name, s.Timestamps, s.Returns)
	}
	start := s.Start
	if start.IsZero() {
		start = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return domain.NewDailySeries(s.Name, start, s.Returns), nil
}

func buildComponents(inputs []StrategyInput) ([]simulation.Component, error) {
	components := make([]simulation.Component, len(inputs))
	for i, in := range inputs {
		name := in.Name
		if name == "" {
			name = string(in.Strategy)
		}
		factory, err := strategies.New(in.Strategy, in.Params)
		if err != nil {
			return nil, err
		}
		components[i] = simulation.Component{Name: name, Factory: factory}
	}
	return components, nil
}

func buildPanel(inputs []SeriesInput) (*domain.Panel, error) {
	if len(inputs) == 0 {
		return nil, domain.Invalid("portfolio drivers need a panel")
	}
	series := make([]*domain.ReturnSeries, len(inputs))
	for i, in := range inputs {
		s, err := in.build()
		if err != nil {
			return nil, err
		}
		series[i] = s
	}
	return domain.NewPanel(series...)
}

func knownDriver(d simulation.Driver) bool {
	for _, known := range simulation.Drivers() {
		if d == known {
			return true
		}
	}
	return false
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientData), errors.Is(err, domain.ErrOptimization):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Backtest failed")
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
