package optimization

import (
	"math"

	"github.com/aristath/quantlab/internal/domain"
)

// RiskMeasure selects how an asset's risk contribution is measured
type RiskMeasure string

const (
	// RiskMeasureVolatility equalizes w_i σ_i
	RiskMeasureVolatility RiskMeasure = "volatility"
	// RiskMeasureCovariance equalizes w_i (Σw)_i, the full marginal contribution
	RiskMeasureCovariance RiskMeasure = "covariance"
)

// RiskParityOptimizer minimizes Σ_i Σ_j (RC_i - RC_j)².
//
// TargetVolatility does not rescale the returned weights: they stay fully
// invested and sum to 1. The rescaling that would hit the target is reported
// as Result.Leverage = target / σ_p, for the caller to apply as exposure.
type RiskParityOptimizer struct {
	Measure RiskMeasure
	// TargetVolatility sets Result.Leverage; the weights are left unscaled
	TargetVolatility *float64
	Constraints      Constraints
}

// NewRiskParityOptimizer creates a volatility-based risk parity optimizer
func NewRiskParityOptimizer(c Constraints) *RiskParityOptimizer {
	return &RiskParityOptimizer{Measure: RiskMeasureVolatility, Constraints: c}
}

// Optimize implements Optimizer
func (o *RiskParityOptimizer) Optimize(p Problem) (*Result, error) {
	if err := p.Validate(false); err != nil {
		return nil, err
	}
	n := p.size()
	if err := o.Constraints.check(n); err != nil {
		return nil, err
	}
	if err := p.degenerate(); err != nil {
		return nil, err
	}
	if o.TargetVolatility != nil && *o.TargetVolatility <= 0 {
		return nil, domain.Invalid("target volatility must be > 0")
	}

	var obj objective
	switch o.Measure {
	case RiskMeasureVolatility, "":
		obj = volatilityParity(p.Covariance)
	case RiskMeasureCovariance:
		obj = covarianceParity(p.Covariance)
	default:
		return nil, domain.Invalid("unknown risk measure %q", o.Measure)
	}

	sol, err := solvePenalized(n, obj, o.Constraints, nil)
	if err != nil {
		return nil, err
	}
	w, err := o.Constraints.finalize(sol.x)
	if err != nil {
		return nil, err
	}
	r := newResult(MethodRiskParity, p, w, sol.solver, sol.iterations)
	if o.TargetVolatility != nil && r.Volatility > 0 {
		r.Leverage = *o.TargetVolatility / r.Volatility
	}
	return r, nil
}

// volatilityParity: f = 2n Σ(w_i σ_i)² - 2(Σ w_i σ_i)²
func volatilityParity(cov [][]float64) objective {
	n := len(cov)
	sigma := make([]float64, n)
	for i := range sigma {
		sigma[i] = math.Sqrt(cov[i][i])
	}
	nf := float64(n)
	return objective{
		f: func(w []float64) float64 {
			sumSq, sum := 0.0, 0.0
			for i, v := range w {
				rc := v * sigma[i]
				sumSq += rc * rc
				sum += rc
			}
			return 2*nf*sumSq - 2*sum*sum
		},
		grad: func(g, w []float64) {
			sum := 0.0
			for i, v := range w {
				sum += v * sigma[i]
			}
			for k := range g {
				g[k] = 4*nf*w[k]*sigma[k]*sigma[k] - 4*sigma[k]*sum
			}
		},
		scale: meanDiagonal(cov) / nf,
	}
}

// covarianceParity: RC_i = w_i (Σw)_i, f = 2n Σ RC² - 2(Σ RC)²
func covarianceParity(cov [][]float64) objective {
	n := len(cov)
	nf := float64(n)
	contributions := func(w []float64) ([]float64, []float64) {
		sw := matVec(cov, w)
		rc := make([]float64, n)
		for i := range w {
			rc[i] = w[i] * sw[i]
		}
		return rc, sw
	}
	d := meanDiagonal(cov)
	return objective{
		f: func(w []float64) float64 {
			rc, _ := contributions(w)
			sumSq, sum := 0.0, 0.0
			for _, v := range rc {
				sumSq += v * v
				sum += v
			}
			return 2*nf*sumSq - 2*sum*sum
		},
		grad: func(g, w []float64) {
			rc, sw := contributions(w)
			s := 0.0
			for _, v := range rc {
				s += v
			}
			coef := make([]float64, n)
			for i := range rc {
				coef[i] = 4*nf*rc[i] - 4*s
			}
			for k := range g {
				g[k] = coef[k] * sw[k]
				for i := range w {
					g[k] += coef[i] * w[i] * cov[i][k]
				}
			}
		},
		scale: d * d / (nf * nf * nf),
	}
}
