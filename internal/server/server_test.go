package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/di"
	"github.com/aristath/quantlab/internal/events"
	testingpkg "github.com/aristath/quantlab/internal/testing"
)

func newTestServer(t *testing.T) (*Server, *di.Container) {
	t.Helper()
	cfg := &config.Config{
		DataDir:  t.TempDir(),
		Port:     8080,
		LogLevel: "info",
		DevMode:  true,
		Engine: config.EngineConfig{
			TradingDays: 252,
			MinPeriods:  20,
			NJobs:       2,
			Seed:        42,
		},
		RetentionDays:     30,
		RetentionSchedule: "0 0 3 * * *",
		ArchiveSchedule:   "0 */30 * * * *",
	}
	container, jobs, err := di.Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	return New(Config{Log: zerolog.Nop(), Config: cfg, Container: container, Jobs: jobs}), container
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "quantlab", body["service"])
}

func TestBacktestRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/backtests/walk_forward", map[string]interface{}{
		"series": map[string]interface{}{
			"name":    "spy",
			"start":   testingpkg.FixtureStart,
			"returns": testingpkg.NewReturnsFixture(600, 0.0005, 0.01, 9),
		},
		"strategy": "mean_reversion",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = do(t, s, http.MethodGet, "/api/reports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.ID)

	w = do(t, s, http.MethodGet, "/api/reports/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	metrics := w.Body.String()
	assert.Contains(t, metrics, `quantlab_runs_total{driver="walk_forward",status="completed"} 1`)
	assert.Contains(t, metrics, `quantlab_http_requests_total{method="POST",route="/api/backtests/{driver}",status="201"} 1`)
}

func TestOptimizeRoute(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodPost, "/api/optimize", map[string]interface{}{
		"method": "hrp",
		"problem": map[string]interface{}{
			"covariance": [][]float64{{0.04, 0.01, 0}, {0.01, 0.09, 0.02}, {0, 0.02, 0.01}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/metrics", nil)
	assert.Contains(t, w.Body.String(), `quantlab_optimizations_total{method="hrp",status="success"} 1`)
}

func TestSystemStatus(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, 2, status.Workers)
	assert.Positive(t, status.NumCPU)
	assert.False(t, status.ArchiveEnabled)
	require.NotNil(t, status.Database)
	require.Len(t, status.Jobs, 1)
	assert.Equal(t, "report_retention", status.Jobs[0].Name)
}

func TestRunJob(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/system/jobs/report_retention", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"completed"`)

	w = do(t, s, http.MethodPost, "/api/system/jobs/report_archive", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventsStream(t *testing.T) {
	s, container := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/stream?types=RUN_STARTED"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() streamMessage {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg streamMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	assert.Equal(t, "connected", read().Type)

	container.EventBus.Emit("simulation", &events.RunFinishedData{RunID: "r0", Status: "completed"})
	container.EventBus.Emit("simulation", &events.RunStartedData{RunID: "r1", Driver: "simple", Iterations: 1})

	msg := read()
	assert.Equal(t, string(events.RunStarted), msg.Type)
	assert.Equal(t, "simulation", msg.Module)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "r1", data["run_id"])
}
