package metrics

import (
	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/pkg/formulas"
)

// Summary is the full metric set for one return stream
type Summary struct {
	Periods      int     `json:"periods" msgpack:"periods"`
	TotalReturn  float64 `json:"total_return" msgpack:"total_return"`
	AnnualReturn float64 `json:"annual_return" msgpack:"annual_return"`
	Volatility   float64 `json:"volatility" msgpack:"volatility"`
	Sharpe       float64 `json:"sharpe" msgpack:"sharpe"`
	Sortino      float64 `json:"sortino" msgpack:"sortino"`
	Calmar       float64 `json:"calmar" msgpack:"calmar"`
	Sterling     float64 `json:"sterling" msgpack:"sterling"`
	MaxDrawdown  float64 `json:"max_drawdown" msgpack:"max_drawdown"`
	VaR          float64 `json:"var" msgpack:"var"`
	CVaR         float64 `json:"cvar" msgpack:"cvar"`
	Stability    float64 `json:"stability" msgpack:"stability"`
	WinRate      float64 `json:"win_rate" msgpack:"win_rate"`
	ProfitFactor float64 `json:"profit_factor" msgpack:"profit_factor"`
	TailRatio    float64 `json:"tail_ratio" msgpack:"tail_ratio"`
	Skewness     float64 `json:"skewness" msgpack:"skewness"`
	Kurtosis     float64 `json:"kurtosis" msgpack:"kurtosis"`
}

// Calculator applies one Config to every metric
type Calculator struct {
	cfg Config
}

// NewCalculator validates cfg
func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{cfg: cfg}, nil
}

// Config returns the calculator configuration
func (c *Calculator) Config() Config {
	return c.cfg
}

// Clean drops NaN/Inf values and enforces MinPeriods
func (c *Calculator) Clean(returns []float64) ([]float64, error) {
	cleaned := formulas.DropNaN(returns)
	if len(cleaned) < c.cfg.MinPeriods {
		return nil, domain.Insufficient("%d usable periods, need at least %d", len(cleaned), c.cfg.MinPeriods)
	}
	return cleaned, nil
}

// Sharpe computes the annualized Sharpe ratio of a cleaned series
func (c *Calculator) Sharpe(returns []float64) (float64, error) {
	cleaned, err := c.Clean(returns)
	if err != nil {
		return 0, err
	}
	return Sharpe(cleaned, c.cfg.RiskFreeRate, c.cfg.TradingDays), nil
}

// Compute cleans the series and evaluates every metric
func (c *Calculator) Compute(returns []float64) (*Summary, error) {
	r, err := c.Clean(returns)
	if err != nil {
		return nil, err
	}

	days := c.cfg.TradingDays
	s := &Summary{
		Periods:      len(r),
		TotalReturn:  TotalReturn(r),
		AnnualReturn: AnnualReturn(r, days),
		Volatility:   Volatility(r, days),
		Sharpe:       Sharpe(r, c.cfg.RiskFreeRate, days),
		Sortino:      Sortino(r, c.cfg.RiskFreeRate, days),
		Calmar:       Calmar(r, days),
		Sterling:     Sterling(r, days),
		MaxDrawdown:  MaxDrawdown(r),
		Stability:    Stability(r),
		WinRate:      WinRate(r),
		ProfitFactor: ProfitFactor(r),
		TailRatio:    TailRatio(r),
		Skewness:     formulas.Skewness(r),
		Kurtosis:     formulas.ExcessKurtosis(r),
	}

	if s.VaR, err = ValueAtRisk(r, c.cfg.VaRConfidence, VaRHistorical); err != nil {
		return nil, err
	}
	if s.CVaR, err = ConditionalVaR(r, c.cfg.VaRConfidence, VaRHistorical); err != nil {
		return nil, err
	}
	return s, nil
}
