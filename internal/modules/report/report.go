// Package report aggregates simulation runs into read-only reports and
// persists them.
package report

import (
	"time"

	"github.com/aristath/quantlab/internal/modules/simulation"
	"github.com/aristath/quantlab/internal/modules/validation"
)

// Percentiles of a metric across iterations
type Percentiles struct {
	P5  float64 `json:"p5" msgpack:"p5"`
	P25 float64 `json:"p25" msgpack:"p25"`
	P50 float64 `json:"p50" msgpack:"p50"`
	P75 float64 `json:"p75" msgpack:"p75"`
	P95 float64 `json:"p95" msgpack:"p95"`
}

// ConfidenceInterval is a Student-t interval around a mean
type ConfidenceInterval struct {
	Level float64 `json:"level" msgpack:"level"`
	Lower float64 `json:"lower" msgpack:"lower"`
	Upper float64 `json:"upper" msgpack:"upper"`
}

// Summary describes the iterations of one driver
type Summary struct {
	Driver     string `json:"driver" msgpack:"driver"`
	Iterations int    `json:"iterations" msgpack:"iterations"`
	Succeeded  int    `json:"succeeded" msgpack:"succeeded"`
	Failed     int    `json:"failed" msgpack:"failed"`

	MeanSharpe       float64 `json:"mean_sharpe" msgpack:"mean_sharpe"`
	StdSharpe        float64 `json:"std_sharpe" msgpack:"std_sharpe"`
	MinSharpe        float64 `json:"min_sharpe" msgpack:"min_sharpe"`
	MaxSharpe        float64 `json:"max_sharpe" msgpack:"max_sharpe"`
	MeanMaxDrawdown  float64 `json:"mean_max_drawdown" msgpack:"mean_max_drawdown"`
	MeanTotalReturn  float64 `json:"mean_total_return" msgpack:"mean_total_return"`
	MeanAnnualReturn float64 `json:"mean_annual_return" msgpack:"mean_annual_return"`
	MeanVolatility   float64 `json:"mean_volatility" msgpack:"mean_volatility"`
	MeanSortino      float64 `json:"mean_sortino" msgpack:"mean_sortino"`
	SuccessRate      float64 `json:"success_rate" msgpack:"success_rate"`
	ProfitableRate   float64 `json:"profitable_rate" msgpack:"profitable_rate"`

	SharpePercentiles Percentiles        `json:"sharpe_percentiles" msgpack:"sharpe_percentiles"`
	SharpeCI          ConfidenceInterval `json:"sharpe_ci" msgpack:"sharpe_ci"`
}

// Ranking places one iteration among all iterations of the report
type Ranking struct {
	Rank        int     `json:"rank" msgpack:"rank"`
	Driver      string  `json:"driver" msgpack:"driver"`
	Iteration   int     `json:"iteration" msgpack:"iteration"`
	Label       string  `json:"label,omitempty" msgpack:"label,omitempty"`
	Sharpe      float64 `json:"sharpe" msgpack:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown" msgpack:"max_drawdown"`
	TotalReturn float64 `json:"total_return" msgpack:"total_return"`
}

// Failure is a skipped iteration
type Failure struct {
	Driver     string `json:"driver" msgpack:"driver"`
	Iteration  int    `json:"iteration" msgpack:"iteration"`
	Label      string `json:"label,omitempty" msgpack:"label,omitempty"`
	Stage      string `json:"stage" msgpack:"stage"`
	Reason     string `json:"reason" msgpack:"reason"`
	TrainStart int    `json:"train_start" msgpack:"train_start"`
	TrainEnd   int    `json:"train_end" msgpack:"train_end"`
	TestStart  int    `json:"test_start" msgpack:"test_start"`
	TestEnd    int    `json:"test_end" msgpack:"test_end"`
}

// Report is the aggregated outcome of one or more runs on the same series
type Report struct {
	ID        string    `json:"id" msgpack:"id"`
	Series    string    `json:"series" msgpack:"series"`
	Drivers   []string  `json:"drivers" msgpack:"drivers"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	Duration  float64   `json:"duration" msgpack:"duration"`

	Summary         map[string]*Summary `json:"summary" msgpack:"summary"`
	Rankings        []Ranking           `json:"rankings" msgpack:"rankings"`
	Failures        []Failure           `json:"failures" msgpack:"failures"`
	FailuresByStage map[string]int      `json:"failures_by_stage" msgpack:"failures_by_stage"`
	Validation      *validation.Summary `json:"validation,omitempty" msgpack:"validation,omitempty"`

	Runs []*simulation.Run `json:"runs" msgpack:"runs"`
}

// MeanSharpe is the mean Sharpe of the first driver, 0 for an empty report
func (r *Report) MeanSharpe() float64 {
	if len(r.Drivers) == 0 {
		return 0
	}
	if s, ok := r.Summary[r.Drivers[0]]; ok {
		return s.MeanSharpe
	}
	return 0
}
