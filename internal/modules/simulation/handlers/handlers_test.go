package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/modules/report"
	"github.com/aristath/quantlab/internal/modules/simulation"
	testingpkg "github.com/aristath/quantlab/internal/testing"
)

type memorySaver struct {
	mu      sync.Mutex
	reports []*report.Report
}

func (m *memorySaver) Save(_ context.Context, rep *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, rep)
	return nil
}

func newTestRouter(t *testing.T, bus *events.Bus) (*chi.Mux, *memorySaver) {
	t.Helper()
	cfg := simulation.DefaultConfig()
	cfg.NJobs = 2
	cfg.MonteCarlo.Simulations = 20
	cfg.MonteCarlo.BatchSize = 10

	saver := &memorySaver{}
	router := chi.NewRouter()
	NewHandler(cfg, saver, bus, nil, zerolog.Nop()).RegisterRoutes(router)
	return router, saver
}

func post(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seriesInput(name string, n int, seed uint64) *SeriesInput {
	return &SeriesInput{
		Name:    name,
		Start:   testingpkg.FixtureStart,
		Returns: testingpkg.NewReturnsFixture(n, 0.0005, 0.01, seed),
	}
}

func TestHandleRunBacktest_Simple(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	var started int
	bus.Subscribe(events.RunStarted, func(*events.Event) { started++ })

	router, saver := newTestRouter(t, bus)
	w := post(t, router, "/backtests/simple", BacktestRequest{
		Series:   seriesInput("spy", 300, 1),
		Strategy: "momentum",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rep report.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, "spy", rep.Series)
	assert.Equal(t, []string{"simple"}, rep.Drivers)
	require.Contains(t, rep.Summary, "simple")
	assert.Equal(t, 1, rep.Summary["simple"].Iterations)

	require.Len(t, saver.reports, 1)
	assert.Equal(t, rep.ID, saver.reports[0].ID)
	assert.Equal(t, 1, started)
}

func TestHandleRunBacktest_ConfigOverride(t *testing.T) {
	router, saver := newTestRouter(t, nil)
	w := post(t, router, "/backtests/simple", map[string]interface{}{
		"series": seriesInput("spy", 300, 2),
		"config": map[string]interface{}{
			"split": map[string]interface{}{"train_fraction": 0.5, "test_fraction": 0.5},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, saver.reports, 1)

	run := saver.reports[0].Runs[0]
	require.Len(t, run.Results, 1)
	assert.Equal(t, 150, run.Results[0].TrainSize)
	assert.Equal(t, 30, run.Config.Split.MinTrainSize)
}

func TestHandleRunBacktest_RejectsUnknownKeys(t *testing.T) {
	router, saver := newTestRouter(t, nil)

	bodies := map[string]interface{}{
		"top-level config key": map[string]interface{}{
			"series": seriesInput("spy", 300, 2),
			"config": map[string]interface{}{"monte_carlo": map[string]interface{}{"simulations": 5}, "typo_field": true},
		},
		"nested config key": map[string]interface{}{
			"series": seriesInput("spy", 300, 2),
			"config": map[string]interface{}{"monte_carlo": map[string]interface{}{"n_simulations": 5}},
		},
		"request key": map[string]interface{}{
			"series":    seriesInput("spy", 300, 2),
			"strategie": "momentum",
		},
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			w := post(t, router, "/backtests/simple", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, saver.reports)
}

func TestHandleRunBacktest_ConstantSeriesReportEncodes(t *testing.T) {
	router, saver := newTestRouter(t, nil)
	returns := make([]float64, 300)
	for i := range returns {
		returns[i] = 0.001
		if i >= 210 {
			returns[i] = 0.002
		}
	}

	w := post(t, router, "/backtests/simple", BacktestRequest{
		Series:   &SeriesInput{Name: "flat", Start: testingpkg.FixtureStart, Returns: returns},
		Strategy: "buy_and_hold",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotEmpty(t, w.Body.Bytes())

	var rep report.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	require.Len(t, saver.reports, 1)
	assert.Equal(t, saver.reports[0].ID, rep.ID)
}

func TestHandleRunBacktest_ResamplingAndStress(t *testing.T) {
	router, saver := newTestRouter(t, nil)

	for _, driver := range []string{"walk_forward", "monte_carlo", "bootstrap", "stress", "regime"} {
		t.Run(driver, func(t *testing.T) {
			w := post(t, router, "/backtests/"+driver, BacktestRequest{
				Series:   seriesInput("qqq", 600, 3),
				Strategy: "buy_and_hold",
			})
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		})
	}
	assert.Len(t, saver.reports, 5)
}

func TestHandleRunBacktest_Portfolio(t *testing.T) {
	router, saver := newTestRouter(t, nil)
	panel := []SeriesInput{*seriesInput("a", 300, 4), *seriesInput("b", 300, 5), *seriesInput("c", 300, 6)}

	w := post(t, router, "/backtests/portfolio", BacktestRequest{Panel: panel, Weights: []float64{0.5, 0.3, 0.2}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, saver.reports, 1)
	po := saver.reports[0].Runs[0].Portfolio
	require.NotNil(t, po)

	w = post(t, router, "/backtests/portfolio", BacktestRequest{Panel: panel, Weights: []float64{0.5, 0.5}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRunBacktest_ModelDrivenPortfolio(t *testing.T) {
	router, saver := newTestRouter(t, nil)
	components := []StrategyInput{
		{Name: "hold", Strategy: "buy_and_hold"},
		{Name: "trend", Strategy: "momentum"},
	}

	for _, driver := range []string{"portfolio", "dynamic_portfolio"} {
		t.Run(driver, func(t *testing.T) {
			w := post(t, router, "/backtests/"+driver, BacktestRequest{
				Series:     seriesInput("spy", 600, 7),
				Strategies: components,
			})
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		})
	}
	require.Len(t, saver.reports, 2)
	for _, rep := range saver.reports {
		po := rep.Runs[0].Portfolio
		require.NotNil(t, po)
		require.Len(t, po.Strategies, 2)
		assert.Equal(t, "hold", po.Strategies[0].Name)
		assert.Equal(t, "trend", po.Strategies[1].Name)
	}

	w := post(t, router, "/backtests/portfolio", BacktestRequest{Strategies: components})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRunBacktest_Errors(t *testing.T) {
	router, saver := newTestRouter(t, nil)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"unknown driver", "/backtests/astrology", BacktestRequest{Series: seriesInput("x", 300, 1)}, http.StatusNotFound},
		{"missing series", "/backtests/simple", BacktestRequest{}, http.StatusBadRequest},
		{"unknown strategy", "/backtests/simple", BacktestRequest{Series: seriesInput("x", 300, 1), Strategy: "tea_leaves"}, http.StatusBadRequest},
		{"too short", "/backtests/simple", BacktestRequest{Series: seriesInput("x", 20, 1)}, http.StatusUnprocessableEntity},
		{"bad config", "/backtests/simple", map[string]interface{}{"series": seriesInput("x", 300, 1), "config": map[string]interface{}{"version": 7}}, http.StatusBadRequest},
		{"unknown detector", "/backtests/regime", BacktestRequest{Series: seriesInput("x", 300, 1), Detector: "moon"}, http.StatusBadRequest},
		{"missing panel", "/backtests/dynamic_portfolio", BacktestRequest{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, router, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/backtests/simple", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, saver.reports)
}

func TestHandleListDrivers(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/backtests/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["drivers"], "dynamic_portfolio")
	assert.Contains(t, body["strategies"], "mean_reversion")
}
