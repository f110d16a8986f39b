package telemetry

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsRuns(t *testing.T) {
	m := NewMetrics()

	m.RunStarted("walk_forward")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsActive))
	m.IterationFinished("walk_forward", "success", 10*time.Millisecond)
	m.IterationFinished("walk_forward", "success", 10*time.Millisecond)
	m.IterationFinished("walk_forward", "failure", time.Millisecond)
	m.RunFinished("walk_forward", "completed", time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IterationsTotal.WithLabelValues("walk_forward", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IterationsTotal.WithLabelValues("walk_forward", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("walk_forward", "completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RunDuration))
}

func TestMetrics_Optimizations(t *testing.T) {
	m := NewMetrics()
	m.OptimizationFinished("hrp", nil)
	m.OptimizationFinished("hrp", errors.New("singular"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimizationsTotal.WithLabelValues("hrp", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimizationsTotal.WithLabelValues("hrp", "failure")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RunFinished("simple", "failed", time.Millisecond)
	m.ObserveHTTP("GET", "/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `quantlab_runs_total{driver="simple",status="failed"} 1`)
	assert.Contains(t, string(body), `quantlab_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
