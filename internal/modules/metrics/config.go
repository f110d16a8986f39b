// Package metrics computes return and risk statistics for strategy return streams.
//
// Every driver scores its iterations through a Calculator so formulas stay in
// one place. All functions are pure: the same input yields bit-identical output.
package metrics

import (
	"github.com/aristath/quantlab/internal/domain"
)

// Config holds the annualization and cleaning parameters
type Config struct {
	TradingDays   int     `json:"trading_days"`
	RiskFreeRate  float64 `json:"risk_free_rate"` // annual, as decimal
	MinPeriods    int     `json:"min_periods"`
	VaRConfidence float64 `json:"var_confidence"`
}

// DefaultConfig returns daily-data defaults
func DefaultConfig() Config {
	return Config{
		TradingDays:   252,
		RiskFreeRate:  0,
		MinPeriods:    30,
		VaRConfidence: 0.95,
	}
}

// Validate checks ranges
func (c Config) Validate() error {
	if c.TradingDays <= 0 {
		return domain.Invalid("trading_days must be > 0, got %d", c.TradingDays)
	}
	if c.MinPeriods < 2 {
		return domain.Invalid("min_periods must be >= 2, got %d", c.MinPeriods)
	}
	if c.VaRConfidence <= 0 || c.VaRConfidence >= 1 {
		return domain.Invalid("var_confidence must be in (0,1), got %g", c.VaRConfidence)
	}
	return nil
}
