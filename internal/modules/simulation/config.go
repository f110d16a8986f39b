// Package simulation runs StrategyModels through the backtesting drivers:
// simple split, walk-forward, Monte Carlo, block bootstrap, stress scenarios,
// regime-conditioned evaluation and static or dynamically rebalanced
// multi-strategy portfolios.
//
// Every driver follows the same cycle: partition the history, fit a fresh
// model on the train window, predict the test window, score the resulting
// strategy returns, then aggregate. Iterations run on a bounded worker pool
// and results are always reported in iteration order.
package simulation

import (
	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/metrics"
	"github.com/aristath/quantlab/internal/modules/optimization"
	"github.com/aristath/quantlab/internal/modules/partition"
	"github.com/aristath/quantlab/internal/modules/rebalancing"
	"github.com/aristath/quantlab/internal/modules/validation"
)

// ConfigVersion is the only configuration layout this package accepts
const ConfigVersion = 1

// MonteCarloConfig controls resampled runs (Monte Carlo and bootstrap)
type MonteCarloConfig struct {
	Simulations int `json:"simulations" yaml:"simulations"`
	// BatchSize iterations are scheduled between convergence checks
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// ConvergenceWindow is the number of trailing running-mean Sharpe values compared
	ConvergenceWindow int `json:"convergence_window" yaml:"convergence_window"`
	// ConvergenceThreshold stops the run once max-min of that window falls below it; 0 disables
	ConvergenceThreshold float64 `json:"convergence_threshold" yaml:"convergence_threshold"`
}

// BootstrapConfig controls block resampling
type BootstrapConfig struct {
	BlockSize int `json:"block_size" yaml:"block_size"`
}

// StressConfig controls stress testing
type StressConfig struct {
	// Scenarios defaults to PredefinedScenarios when empty
	Scenarios []domain.ScenarioSpec `json:"scenarios,omitempty" yaml:"scenarios"`
	// RobustSharpe is the Sharpe every scenario must beat for the strategy to count as robust
	RobustSharpe float64 `json:"robust_sharpe" yaml:"robust_sharpe"`
}

// RegimeConfig controls regime-conditioned runs
type RegimeConfig struct {
	MinSamplesPerRegime int `json:"min_samples_per_regime" yaml:"min_samples_per_regime"`
}

// PortfolioConfig controls multi-strategy portfolios
type PortfolioConfig struct {
	// TransactionCost and Slippage are charged on every period of the combined stream
	TransactionCost float64 `json:"transaction_cost" yaml:"transaction_cost"`
	Slippage        float64 `json:"slippage" yaml:"slippage"`
	// Optimizer estimates static weights from in-sample returns when no weights are given
	Optimizer       optimization.Method    `json:"optimizer,omitempty" yaml:"optimizer"`
	OptimizerParams optimization.Params    `json:"optimizer_params" yaml:"optimizer_params"`
	Shrinkage       optimization.Shrinkage `json:"shrinkage" yaml:"shrinkage"`
}

// Config is the versioned engine configuration
type Config struct {
	Version int `json:"version" yaml:"version"`

	Metrics     metrics.Config          `json:"metrics" yaml:"metrics"`
	Validation  validation.Config       `json:"validation" yaml:"validation"`
	Split       partition.TimeConfig    `json:"split" yaml:"split"`
	WalkForward partition.RollingConfig `json:"walk_forward" yaml:"walk_forward"`
	MonteCarlo  MonteCarloConfig        `json:"monte_carlo" yaml:"monte_carlo"`
	Bootstrap   BootstrapConfig         `json:"bootstrap" yaml:"bootstrap"`
	Stress      StressConfig            `json:"stress" yaml:"stress"`
	Regime      RegimeConfig            `json:"regime" yaml:"regime"`
	Portfolio   PortfolioConfig         `json:"portfolio" yaml:"portfolio"`
	Rebalancing rebalancing.Config      `json:"rebalancing" yaml:"rebalancing"`

	// ConfidenceLevel of the report's confidence intervals
	ConfidenceLevel float64 `json:"confidence_level" yaml:"confidence_level"`
	// NJobs bounds the worker pool; <= 0 uses one worker per CPU
	NJobs            int    `json:"n_jobs" yaml:"n_jobs"`
	Seed             uint64 `json:"seed" yaml:"seed"`
	FailOnModelError bool   `json:"fail_on_model_error" yaml:"fail_on_model_error"`
	KeepPredictions  bool   `json:"keep_predictions" yaml:"keep_predictions"`
	Verbose          bool   `json:"verbose" yaml:"verbose"`
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		Version:     ConfigVersion,
		Metrics:     metrics.DefaultConfig(),
		Validation:  validation.DefaultConfig(),
		Split:       partition.DefaultTimeConfig(),
		WalkForward: partition.RollingConfig{Lookback: 252, Step: 63, TestSize: 63},
		MonteCarlo: MonteCarloConfig{
			Simulations:          1000,
			BatchSize:            50,
			ConvergenceWindow:    10,
			ConvergenceThreshold: 0.01,
		},
		Bootstrap: BootstrapConfig{BlockSize: 20},
		Stress:    StressConfig{RobustSharpe: 0.5},
		Regime:    RegimeConfig{MinSamplesPerRegime: 60},
		Portfolio: PortfolioConfig{
			OptimizerParams: optimization.DefaultParams(),
			Shrinkage:       optimization.ShrinkageLedoitWolf,
		},
		Rebalancing:     rebalancing.DefaultConfig(),
		ConfidenceLevel: 0.95,
		NJobs:           0,
		Seed:            42,
	}
}

// Validate checks every section. It runs before any computation.
func (c Config) Validate() error {
	if c.Version != ConfigVersion {
		return domain.Invalid("unsupported config version %d, want %d", c.Version, ConfigVersion)
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if err := c.Validation.Validate(); err != nil {
		return err
	}
	if err := c.Split.Validate(); err != nil {
		return err
	}
	if err := c.WalkForward.Validate(); err != nil {
		return err
	}
	if err := c.Rebalancing.Validate(); err != nil {
		return err
	}

	mc := c.MonteCarlo
	if mc.Simulations < 1 {
		return domain.Invalid("monte_carlo.simulations must be >= 1, got %d", mc.Simulations)
	}
	if mc.BatchSize < 1 {
		return domain.Invalid("monte_carlo.batch_size must be >= 1, got %d", mc.BatchSize)
	}
	if mc.ConvergenceThreshold < 0 {
		return domain.Invalid("monte_carlo.convergence_threshold must be >= 0")
	}
	if mc.ConvergenceThreshold > 0 && mc.ConvergenceWindow < 2 {
		return domain.Invalid("monte_carlo.convergence_window must be >= 2, got %d", mc.ConvergenceWindow)
	}
	if c.Bootstrap.BlockSize < 1 {
		return domain.Invalid("bootstrap.block_size must be >= 1, got %d", c.Bootstrap.BlockSize)
	}
	for _, s := range c.Stress.Scenarios {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	if c.Regime.MinSamplesPerRegime < 1 {
		return domain.Invalid("regime.min_samples_per_regime must be >= 1")
	}
	if c.Portfolio.TransactionCost < 0 || c.Portfolio.Slippage < 0 {
		return domain.Invalid("portfolio costs must be >= 0")
	}
	switch c.Portfolio.Shrinkage {
	case optimization.ShrinkageNone, optimization.ShrinkageLedoitWolf, optimization.ShrinkageDecay:
	default:
		return domain.Invalid("unknown shrinkage %q", c.Portfolio.Shrinkage)
	}
	if c.Portfolio.Optimizer != "" && !knownMethod(c.Portfolio.Optimizer) {
		return domain.Invalid("unknown portfolio optimizer %q", c.Portfolio.Optimizer)
	}
	if c.ConfidenceLevel <= 0 || c.ConfidenceLevel >= 1 {
		return domain.Invalid("confidence_level must be in (0,1), got %g", c.ConfidenceLevel)
	}
	return nil
}

func knownMethod(m optimization.Method) bool {
	for _, known := range optimization.Methods() {
		if known == m {
			return true
		}
	}
	return false
}
