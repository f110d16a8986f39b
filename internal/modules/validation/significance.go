package validation

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/metrics"
	"github.com/aristath/quantlab/pkg/formulas"
)

// EconomicResult reports net-of-cost performance
type EconomicResult struct {
	NetSharpe      float64 `json:"net_sharpe" msgpack:"net_sharpe"`
	NetMaxDrawdown float64 `json:"net_max_drawdown" msgpack:"net_max_drawdown"`
	Costs          float64 `json:"costs" msgpack:"costs"`
	Significant    bool    `json:"significant" msgpack:"significant"`
}

// EconomicSignificance subtracts TransactionCosts from every return and
// requires Sharpe >= MinSharpe and |max drawdown| <= MaxDrawdownThreshold.
func EconomicSignificance(r []float64, cfg Config) (*EconomicResult, error) {
	if len(r) < 2 {
		return nil, domain.Insufficient("economic significance needs at least 2 observations")
	}
	net := make([]float64, len(r))
	for i, v := range r {
		net[i] = v - cfg.TransactionCosts
	}
	res := &EconomicResult{
		NetSharpe:      metrics.Sharpe(net, cfg.RiskFreeRate, cfg.TradingDays),
		NetMaxDrawdown: metrics.MaxDrawdown(net),
		Costs:          cfg.TransactionCosts,
	}
	res.Significant = res.NetSharpe >= cfg.MinSharpe && math.Abs(res.NetMaxDrawdown) <= cfg.MaxDrawdownThreshold
	return res, nil
}

// OverfittingResult compares in-sample and out-of-sample performance
type OverfittingResult struct {
	TrainSharpe float64 `json:"train_sharpe" msgpack:"train_sharpe"`
	TestSharpe  float64 `json:"test_sharpe" msgpack:"test_sharpe"`
	TStatistic  float64 `json:"t_statistic" msgpack:"t_statistic"`
	PValue      float64 `json:"p_value" msgpack:"p_value"`
	// Degenerate is set when both samples are constant and t is undefined
	Degenerate  bool `json:"degenerate,omitempty" msgpack:"degenerate,omitempty"`
	Overfitting bool `json:"overfitting" msgpack:"overfitting"`
}

// Overfitting runs a Welch two-sample t-test on train vs test returns and flags
// train_sharpe > OverfitRatio × test_sharpe with p < Significance.
func Overfitting(train, test []float64, cfg Config) (*OverfittingResult, error) {
	if len(train) < 2 || len(test) < 2 {
		return nil, domain.Insufficient("overfitting test needs at least 2 train and 2 test observations")
	}
	t, p, degenerate := WelchTTest(train, test)
	res := &OverfittingResult{
		TrainSharpe: metrics.Sharpe(train, cfg.RiskFreeRate, cfg.TradingDays),
		TestSharpe:  metrics.Sharpe(test, cfg.RiskFreeRate, cfg.TradingDays),
		TStatistic:  t,
		PValue:      p,
		Degenerate:  degenerate,
	}
	res.Overfitting = res.TrainSharpe > cfg.OverfitRatio*res.TestSharpe && p < cfg.Significance
	return res, nil
}

// WelchTTest returns the two-sided unequal-variance t statistic and p-value.
// Two constant samples have no t statistic: t is 0 with degenerate set, and
// p is 1 when the means match and 0 otherwise.
func WelchTTest(a, b []float64) (t, p float64, degenerate bool) {
	na, nb := float64(len(a)), float64(len(b))
	ma, mb := formulas.Mean(a), formulas.Mean(b)
	va, vb := formulas.Variance(a)/na, formulas.Variance(b)/nb
	se := math.Sqrt(va + vb)
	if se == 0 {
		if ma == mb {
			return 0, 1, true
		}
		return 0, 0, true
	}
	t = (ma - mb) / se

	df := (va + vb) * (va + vb) / (va*va/(na-1) + vb*vb/(nb-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p = 2 * (1 - dist.CDF(math.Abs(t)))
	return t, math.Min(1, math.Max(0, p)), false
}
