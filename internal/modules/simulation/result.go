package simulation

import (
	"fmt"
	"time"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/metrics"
	"github.com/aristath/quantlab/internal/modules/optimization"
	"github.com/aristath/quantlab/internal/modules/partition"
	"github.com/aristath/quantlab/internal/modules/regime"
	"github.com/aristath/quantlab/internal/modules/validation"
)

// Driver names a simulation methodology
type Driver string

const (
	DriverSimple           Driver = "simple"
	DriverWalkForward      Driver = "walk_forward"
	DriverMonteCarlo       Driver = "monte_carlo"
	DriverBootstrap        Driver = "bootstrap"
	DriverStress           Driver = "stress"
	DriverRegime           Driver = "regime"
	DriverPortfolio        Driver = "portfolio"
	DriverDynamicPortfolio Driver = "dynamic_portfolio"
)

// Drivers lists every driver
func Drivers() []Driver {
	return []Driver{
		DriverSimple, DriverWalkForward, DriverMonteCarlo, DriverBootstrap,
		DriverStress, DriverRegime, DriverPortfolio, DriverDynamicPortfolio,
	}
}

// Stage is the cycle step an iteration was in when it failed
type Stage string

const (
	StagePartition Stage = "partition"
	StageFit       Stage = "fit"
	StagePredict   Stage = "predict"
	StageScore     Stage = "score"
	StageOptimize  Stage = "optimize"
	StageRebalance Stage = "rebalance"
)

// IterationError is the diagnostic payload of a failed iteration
type IterationError struct {
	Driver     Driver
	Iteration  int
	Label      string
	TrainStart int
	TrainEnd   int
	TestStart  int
	TestEnd    int
	Stage      Stage
	Err        error
}

func (e *IterationError) Error() string {
	return fmt.Sprintf("%s iteration %d (%s) failed at %s [train %d:%d, test %d:%d]: %v",
		e.Driver, e.Iteration, e.Label, e.Stage, e.TrainStart, e.TrainEnd, e.TestStart, e.TestEnd, e.Err)
}

func (e *IterationError) Unwrap() error {
	return e.Err
}

// BacktestResult is the score of one successful iteration
type BacktestResult struct {
	Iteration int              `json:"iteration" msgpack:"iteration"`
	Label     string           `json:"label" msgpack:"label"`
	Window    partition.Window `json:"window" msgpack:"window"`
	TestFrom  time.Time        `json:"test_from" msgpack:"test_from"`
	TestTo    time.Time        `json:"test_to" msgpack:"test_to"`
	Regime    *int             `json:"regime,omitempty" msgpack:"regime,omitempty"`
	Scenario  string           `json:"scenario,omitempty" msgpack:"scenario,omitempty"`

	Sharpe       float64 `json:"sharpe" msgpack:"sharpe"`
	MaxDrawdown  float64 `json:"max_drawdown" msgpack:"max_drawdown"`
	TotalReturn  float64 `json:"total_return" msgpack:"total_return"`
	AnnualReturn float64 `json:"annual_return" msgpack:"annual_return"`
	Volatility   float64 `json:"volatility" msgpack:"volatility"`
	Sortino      float64 `json:"sortino" msgpack:"sortino"`
	Calmar       float64 `json:"calmar" msgpack:"calmar"`
	TrainSize    int     `json:"train_size" msgpack:"train_size"`
	TestSize     int     `json:"test_size" msgpack:"test_size"`

	Metrics     *metrics.Summary        `json:"metrics" msgpack:"metrics"`
	Predictions domain.PredictionSeries `json:"predictions,omitempty" msgpack:"predictions,omitempty"`

	// Returns are the out-of-sample strategy returns, InSample the fitted-window ones
	Returns  []float64 `json:"-" msgpack:"-"`
	InSample []float64 `json:"-" msgpack:"-"`
}

func newBacktestResult(j job, split partition.Split, s *metrics.Summary) BacktestResult {
	r := BacktestResult{
		Iteration:    j.index,
		Label:        j.label,
		Window:       split.Window,
		Regime:       j.regime,
		Scenario:     j.scenario,
		Sharpe:       s.Sharpe,
		MaxDrawdown:  s.MaxDrawdown,
		TotalReturn:  s.TotalReturn,
		AnnualReturn: s.AnnualReturn,
		Volatility:   s.Volatility,
		Sortino:      s.Sortino,
		Calmar:       s.Calmar,
		TrainSize:    split.Train.Len(),
		TestSize:     split.Test.Len(),
		Metrics:      s,
	}
	if split.Test.Len() > 0 {
		r.TestFrom = split.Test.Start()
		r.TestTo = split.Test.End()
	}
	return r
}

// Convergence describes how a resampled run ended
type Convergence struct {
	Requested int     `json:"requested" msgpack:"requested"`
	Scheduled int     `json:"scheduled" msgpack:"scheduled"`
	Converged bool    `json:"converged" msgpack:"converged"`
	Spread    float64 `json:"spread" msgpack:"spread"`
	// RunningMeans is the Sharpe mean after each successful iteration
	RunningMeans []float64 `json:"running_means" msgpack:"running_means"`
}

// ScenarioOutcome compares one stressed history against the baseline
type ScenarioOutcome struct {
	Scenario        domain.ScenarioSpec `json:"scenario" msgpack:"scenario"`
	Sharpe          float64             `json:"sharpe" msgpack:"sharpe"`
	MaxDrawdown     float64             `json:"max_drawdown" msgpack:"max_drawdown"`
	Volatility      float64             `json:"volatility" msgpack:"volatility"`
	SharpeDelta     float64             `json:"sharpe_delta" msgpack:"sharpe_delta"`
	DrawdownDelta   float64             `json:"drawdown_delta" msgpack:"drawdown_delta"`
	VolatilityDelta float64             `json:"volatility_delta" msgpack:"volatility_delta"`
	Failed          bool                `json:"failed,omitempty" msgpack:"failed,omitempty"`
}

// StressOutcome is the stress driver's scenario table
type StressOutcome struct {
	Baseline       *BacktestResult   `json:"baseline,omitempty" msgpack:"baseline,omitempty"`
	Scenarios      []ScenarioOutcome `json:"scenarios" msgpack:"scenarios"`
	Ranking        []string          `json:"ranking" msgpack:"ranking"`
	IsRobust       bool              `json:"is_robust" msgpack:"is_robust"`
	WeightedSharpe float64           `json:"weighted_sharpe" msgpack:"weighted_sharpe"`
	WorstScenario  string            `json:"worst_scenario,omitempty" msgpack:"worst_scenario,omitempty"`
}

// RegimeOutcome holds the regime driver's labeling statistics
type RegimeOutcome struct {
	Transitions *regime.Transitions        `json:"transitions" msgpack:"transitions"`
	Samples     map[int]int                `json:"samples" msgpack:"samples"`
	Excluded    []partition.ExcludedRegime `json:"excluded,omitempty" msgpack:"excluded,omitempty"`
}

// StrategyOutcome scores one component of a portfolio
type StrategyOutcome struct {
	Name    string           `json:"name" msgpack:"name"`
	Weight  float64          `json:"weight" msgpack:"weight"`
	Metrics *metrics.Summary `json:"metrics,omitempty" msgpack:"metrics,omitempty"`
	Error   string           `json:"error,omitempty" msgpack:"error,omitempty"`
}

// WeightSnapshot records the weights held after one rebalancing window
type WeightSnapshot struct {
	Window     int                 `json:"window" msgpack:"window"`
	Time       time.Time           `json:"time" msgpack:"time"`
	Drifted    domain.WeightVector `json:"drifted" msgpack:"drifted"`
	Weights    domain.WeightVector `json:"weights" msgpack:"weights"`
	Rebalanced bool                `json:"rebalanced" msgpack:"rebalanced"`
	Turnover   float64             `json:"turnover" msgpack:"turnover"`
	Cost       float64             `json:"cost" msgpack:"cost"`
	Reason     string              `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// PortfolioOutcome is the multi-strategy section of a run
type PortfolioOutcome struct {
	Strategies      []StrategyOutcome      `json:"strategies" msgpack:"strategies"`
	Weights         domain.WeightVector    `json:"weights" msgpack:"weights"`
	Portfolio       *metrics.Summary       `json:"portfolio" msgpack:"portfolio"`
	Diversification domain.Diversification `json:"diversification" msgpack:"diversification"`
	Drag            float64                `json:"drag" msgpack:"drag"`
	Optimization    *optimization.Result   `json:"optimization,omitempty" msgpack:"optimization,omitempty"`
	Policy          string                 `json:"policy,omitempty" msgpack:"policy,omitempty"`
	History         []WeightSnapshot       `json:"history,omitempty" msgpack:"history,omitempty"`
	TotalCost       float64                `json:"total_cost,omitempty" msgpack:"total_cost,omitempty"`
	TotalTurnover   float64                `json:"total_turnover,omitempty" msgpack:"total_turnover,omitempty"`
	Rebalances      int                    `json:"rebalances,omitempty" msgpack:"rebalances,omitempty"`
}

// Run is everything a driver invocation produced. Results are in iteration
// order; Failures lists the skipped iterations.
type Run struct {
	ID         string    `json:"id" msgpack:"id"`
	Driver     Driver    `json:"driver" msgpack:"driver"`
	Series     string    `json:"series" msgpack:"series"`
	Seed       uint64    `json:"seed" msgpack:"seed"`
	Config     Config    `json:"config" msgpack:"config"`
	StartedAt  time.Time `json:"started_at" msgpack:"started_at"`
	FinishedAt time.Time `json:"finished_at" msgpack:"finished_at"`
	Attempted  int       `json:"attempted" msgpack:"attempted"`
	Cancelled  bool      `json:"cancelled,omitempty" msgpack:"cancelled,omitempty"`

	Results    []BacktestResult    `json:"results" msgpack:"results"`
	Failures   []*IterationError   `json:"-" msgpack:"-"`
	Validation *validation.Summary `json:"validation,omitempty" msgpack:"validation,omitempty"`

	Convergence *Convergence      `json:"convergence,omitempty" msgpack:"convergence,omitempty"`
	Stress      *StressOutcome    `json:"stress,omitempty" msgpack:"stress,omitempty"`
	Regime      *RegimeOutcome    `json:"regime,omitempty" msgpack:"regime,omitempty"`
	Portfolio   *PortfolioOutcome `json:"portfolio,omitempty" msgpack:"portfolio,omitempty"`
}

// Sharpes returns the Sharpe ratio of every successful iteration
func (r *Run) Sharpes() []float64 {
	out := make([]float64, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Sharpe
	}
	return out
}

// OutOfSample concatenates the out-of-sample returns of every result
func (r *Run) OutOfSample() []float64 {
	var out []float64
	for _, res := range r.Results {
		out = append(out, res.Returns...)
	}
	return out
}

// InSample concatenates the in-sample returns of every result
func (r *Run) InSample() []float64 {
	var out []float64
	for _, res := range r.Results {
		out = append(out, res.InSample...)
	}
	return out
}
