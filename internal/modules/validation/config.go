// Package validation runs the statistical checks applied to out-of-sample
// strategy returns: stationarity, autocorrelation, economic significance and
// overfitting.
package validation

import (
	"github.com/aristath/quantlab/internal/domain"
)

// Config holds the test thresholds. Zero values are not defaults; start from
// DefaultConfig.
type Config struct {
	Significance         float64 `json:"significance" yaml:"significance"`
	LjungBoxLags         []int   `json:"ljung_box_lags" yaml:"ljung_box_lags"`
	DurbinWatsonLower    float64 `json:"durbin_watson_lower" yaml:"durbin_watson_lower"`
	DurbinWatsonUpper    float64 `json:"durbin_watson_upper" yaml:"durbin_watson_upper"`
	TransactionCosts     float64 `json:"transaction_costs" yaml:"transaction_costs"` // per period
	MinSharpe            float64 `json:"min_sharpe" yaml:"min_sharpe"`
	MaxDrawdownThreshold float64 `json:"max_drawdown_threshold" yaml:"max_drawdown_threshold"`
	OverfitRatio         float64 `json:"overfit_ratio" yaml:"overfit_ratio"`
	// ADFMaxLag < 0 selects 12·(n/100)^¼ with AIC lag search
	ADFMaxLag int `json:"adf_max_lag" yaml:"adf_max_lag"`
	// KPSSLags < 0 selects ceil(12·(n/100)^¼)
	KPSSLags        int     `json:"kpss_lags" yaml:"kpss_lags"`
	MinObservations int     `json:"min_observations" yaml:"min_observations"`
	TradingDays     int     `json:"trading_days" yaml:"trading_days"`
	RiskFreeRate    float64 `json:"risk_free_rate" yaml:"risk_free_rate"`
}

// DefaultConfig returns the documented thresholds
func DefaultConfig() Config {
	return Config{
		Significance:         0.05,
		LjungBoxLags:         []int{5, 10, 20},
		DurbinWatsonLower:    1.5,
		DurbinWatsonUpper:    2.5,
		TransactionCosts:     0,
		MinSharpe:            1.0,
		MaxDrawdownThreshold: 0.2,
		OverfitRatio:         1.5,
		ADFMaxLag:            -1,
		KPSSLags:             -1,
		MinObservations:      20,
		TradingDays:          252,
		RiskFreeRate:         0,
	}
}

// Validate checks ranges
func (c Config) Validate() error {
	if c.Significance <= 0 || c.Significance >= 1 {
		return domain.Invalid("significance must be in (0,1), got %g", c.Significance)
	}
	if len(c.LjungBoxLags) == 0 {
		return domain.Invalid("at least one Ljung-Box lag is required")
	}
	for _, l := range c.LjungBoxLags {
		if l < 1 {
			return domain.Invalid("Ljung-Box lags must be >= 1, got %d", l)
		}
	}
	if c.DurbinWatsonLower >= c.DurbinWatsonUpper {
		return domain.Invalid("Durbin-Watson band [%g, %g] is empty", c.DurbinWatsonLower, c.DurbinWatsonUpper)
	}
	if c.TransactionCosts < 0 {
		return domain.Invalid("transaction_costs must be >= 0")
	}
	if c.MaxDrawdownThreshold <= 0 {
		return domain.Invalid("max_drawdown_threshold must be > 0")
	}
	if c.OverfitRatio <= 0 {
		return domain.Invalid("overfit_ratio must be > 0")
	}
	if c.MinObservations < 10 {
		return domain.Invalid("min_observations must be >= 10, got %d", c.MinObservations)
	}
	if c.TradingDays <= 0 {
		return domain.Invalid("trading_days must be > 0")
	}
	return nil
}
