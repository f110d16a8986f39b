// Package optimization turns expected returns and covariances into portfolio
// weights. Every optimizer returns weights that are non-negative, sum to 1 and
// respect the configured bounds, or fails with domain.ErrOptimization.
package optimization

import (
	"math"

	"github.com/aristath/quantlab/internal/domain"
)

// Method names an optimizer family
type Method string

const (
	MethodMeanVariance   Method = "mean_variance"
	MethodBlackLitterman Method = "black_litterman"
	MethodRiskParity     Method = "risk_parity"
	MethodMinVariance    Method = "min_variance"
	MethodMaxSharpe      Method = "max_sharpe"
	MethodCluster        Method = "cluster"
	MethodHRP            Method = "hrp"
)

// Problem is the optimizer input. ExpectedReturns may be nil for methods that
// only use the covariance matrix.
type Problem struct {
	Assets          []string    `json:"assets"`
	ExpectedReturns []float64   `json:"expected_returns,omitempty"`
	Covariance      [][]float64 `json:"covariance"`
}

// Result is an optimizer solution
type Result struct {
	Method         Method              `json:"method" msgpack:"method"`
	Assets         []string            `json:"assets" msgpack:"assets"`
	Weights        domain.WeightVector `json:"weights" msgpack:"weights"`
	ExpectedReturn float64             `json:"expected_return" msgpack:"expected_return"`
	Volatility     float64             `json:"volatility" msgpack:"volatility"`
	Sharpe         float64             `json:"sharpe" msgpack:"sharpe"`
	Leverage       float64             `json:"leverage" msgpack:"leverage"` // exposure multiplier for volatility targeting, 1 otherwise
	Solver         string              `json:"solver" msgpack:"solver"`
	Iterations     int                 `json:"iterations" msgpack:"iterations"`
}

// Optimizer produces a weight vector for a Problem
type Optimizer interface {
	Optimize(p Problem) (*Result, error)
}

// Validate checks dimensions, symmetry and finiteness. needReturns requires μ.
func (p Problem) Validate(needReturns bool) error {
	n := len(p.Covariance)
	if n == 0 {
		return domain.Invalid("empty covariance matrix")
	}
	if len(p.Assets) != 0 && len(p.Assets) != n {
		return domain.Invalid("%d asset names for a %dx%d covariance matrix", len(p.Assets), n, n)
	}
	for i, row := range p.Covariance {
		if len(row) != n {
			return domain.Invalid("covariance row %d has %d entries, want %d", i, len(row), n)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return domain.Invalid("covariance[%d][%d] is not finite", i, j)
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := p.Covariance[i][j], p.Covariance[j][i]
			if math.Abs(a-b) > 1e-10*math.Max(1, math.Max(math.Abs(a), math.Abs(b))) {
				return domain.Invalid("covariance matrix is not symmetric at (%d,%d)", i, j)
			}
		}
	}
	if needReturns {
		if len(p.ExpectedReturns) != n {
			return domain.Invalid("%d expected returns for %d assets", len(p.ExpectedReturns), n)
		}
		for i, v := range p.ExpectedReturns {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return domain.Invalid("expected return %d is not finite", i)
			}
		}
	}
	return nil
}

// degenerate reports a non-positive variance, which no solver can price
func (p Problem) degenerate() error {
	for i := range p.Covariance {
		if p.Covariance[i][i] <= 0 {
			return optimizationErr("asset %d has non-positive variance %g", i, p.Covariance[i][i])
		}
	}
	return nil
}

func (p Problem) size() int { return len(p.Covariance) }

func (p Problem) assetNames() []string {
	if len(p.Assets) > 0 {
		return append([]string(nil), p.Assets...)
	}
	return nil
}

// newResult fills the portfolio statistics for w
func newResult(method Method, p Problem, w domain.WeightVector, solver string, iterations int) *Result {
	r := &Result{
		Method:     method,
		Assets:     p.assetNames(),
		Weights:    w,
		Leverage:   1,
		Solver:     solver,
		Iterations: iterations,
	}
	r.Volatility = math.Sqrt(math.Max(quadForm(p.Covariance, w), 0))
	if len(p.ExpectedReturns) == len(w) {
		for i, v := range w {
			r.ExpectedReturn += v * p.ExpectedReturns[i]
		}
		if r.Volatility > 0 {
			r.Sharpe = r.ExpectedReturn / r.Volatility
		}
	}
	return r
}

func quadForm(cov [][]float64, w []float64) float64 {
	v := 0.0
	for i := range w {
		for j := range w {
			v += w[i] * cov[i][j] * w[j]
		}
	}
	return v
}

func matVec(cov [][]float64, w []float64) []float64 {
	out := make([]float64, len(w))
	for i := range cov {
		for j, v := range w {
			out[i] += cov[i][j] * v
		}
	}
	return out
}

func meanDiagonal(cov [][]float64) float64 {
	s := 0.0
	for i := range cov {
		s += cov[i][i]
	}
	return s / float64(len(cov))
}
