// Package rebalancing decides when and how a multi-strategy portfolio moves its
// weights between rolling windows.
package rebalancing

import (
	"github.com/aristath/quantlab/internal/domain"
)

// Kind names a rebalancing policy
type Kind string

const (
	// KindFixed rebalances back to the target weights every Frequency windows
	KindFixed Kind = "fixed"
	// KindThreshold rebalances to target once any weight drifts more than Threshold
	KindThreshold Kind = "threshold"
	// KindVolatility rebalances to target once trailing portfolio volatility
	// exceeds VolatilityThreshold
	KindVolatility Kind = "volatility"
	// KindMomentum rebalances to target once the trailing portfolio mean return
	// exceeds MomentumThreshold in magnitude
	KindMomentum Kind = "momentum"
	// KindInverseVolatility re-sizes strategies by inverse trailing volatility every window
	KindInverseVolatility Kind = "inverse_volatility"
	// KindPerformance sizes strategies by their positive trailing Sharpe ratio
	KindPerformance Kind = "performance"
)

// Config selects and tunes the policy
type Config struct {
	Policy    Kind    `json:"policy" yaml:"policy"`
	Frequency int     `json:"frequency" yaml:"frequency"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	// VolatilityThreshold is annualized
	VolatilityThreshold float64 `json:"volatility_threshold" yaml:"volatility_threshold"`
	// MomentumThreshold bounds the annualized trailing mean return
	MomentumThreshold float64 `json:"momentum_threshold" yaml:"momentum_threshold"`
	// Lookback is the number of trailing observations the adaptive policies use
	Lookback  int     `json:"lookback" yaml:"lookback"`
	MinWeight float64 `json:"min_weight" yaml:"min_weight"`
	MaxWeight float64 `json:"max_weight" yaml:"max_weight"`
	// Smoothing α: w_new = (1-α)·w_computed + α·w_previous
	Smoothing float64 `json:"smoothing" yaml:"smoothing"`
	// CostRate is charged per unit of L1 weight change
	CostRate    float64 `json:"cost_rate" yaml:"cost_rate"`
	TradingDays int     `json:"trading_days" yaml:"trading_days"`
}

// DefaultConfig rebalances to target every window without smoothing
func DefaultConfig() Config {
	return Config{
		Policy:              KindFixed,
		Frequency:           1,
		Threshold:           0.05,
		VolatilityThreshold: 0.25,
		MomentumThreshold:   0.30,
		Lookback:            60,
		MinWeight:           0,
		MaxWeight:           1,
		Smoothing:           0,
		CostRate:            0.001,
		TradingDays:         252,
	}
}

// Validate checks ranges
func (c Config) Validate() error {
	switch c.Policy {
	case KindFixed, KindThreshold, KindVolatility, KindMomentum, KindInverseVolatility, KindPerformance:
	default:
		return domain.Invalid("unknown rebalancing policy %q", c.Policy)
	}
	if c.Policy == KindFixed && c.Frequency < 1 {
		return domain.Invalid("frequency must be >= 1, got %d", c.Frequency)
	}
	if c.Policy == KindThreshold && c.Threshold <= 0 {
		return domain.Invalid("threshold must be > 0, got %g", c.Threshold)
	}
	if c.Policy == KindVolatility && c.VolatilityThreshold <= 0 {
		return domain.Invalid("volatility_threshold must be > 0, got %g", c.VolatilityThreshold)
	}
	if c.Policy == KindMomentum && c.MomentumThreshold <= 0 {
		return domain.Invalid("momentum_threshold must be > 0, got %g", c.MomentumThreshold)
	}
	if c.Lookback < 2 {
		return domain.Invalid("lookback must be >= 2, got %d", c.Lookback)
	}
	if c.MinWeight < 0 || c.MaxWeight > 1 || c.MinWeight > c.MaxWeight {
		return domain.Invalid("weight bounds [%g, %g] are malformed", c.MinWeight, c.MaxWeight)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return domain.Invalid("smoothing must be in [0,1), got %g", c.Smoothing)
	}
	if c.CostRate < 0 {
		return domain.Invalid("cost_rate must be >= 0")
	}
	if c.TradingDays <= 0 {
		return domain.Invalid("trading_days must be > 0")
	}
	return nil
}
