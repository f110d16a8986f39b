package optimization

import (
	"math"

	"github.com/aristath/quantlab/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// MeanVarianceOptimizer maximizes w'μ - (λ/2) w'Σw.
// Constraints may pin a target return or a target volatility.
type MeanVarianceOptimizer struct {
	RiskAversion float64
	Constraints  Constraints
}

// NewMeanVarianceOptimizer creates a Markowitz optimizer with risk aversion λ
func NewMeanVarianceOptimizer(riskAversion float64, c Constraints) *MeanVarianceOptimizer {
	return &MeanVarianceOptimizer{RiskAversion: riskAversion, Constraints: c}
}

// Optimize implements Optimizer
func (o *MeanVarianceOptimizer) Optimize(p Problem) (*Result, error) {
	if err := p.Validate(true); err != nil {
		return nil, err
	}
	if o.RiskAversion <= 0 || math.IsNaN(o.RiskAversion) {
		return nil, domain.Invalid("risk aversion must be > 0, got %g", o.RiskAversion)
	}
	n := p.size()
	if err := o.Constraints.check(n); err != nil {
		return nil, err
	}
	if err := p.degenerate(); err != nil {
		return nil, err
	}

	mu, cov, lambda := p.ExpectedReturns, p.Covariance, o.RiskAversion
	scale := math.Max(meanAbs(mu), lambda/2*meanDiagonal(cov))

	obj := objective{
		f: func(w []float64) float64 {
			return -(floats.Dot(mu, w) - lambda/2*quadForm(cov, w))
		},
		grad: func(g, w []float64) {
			sw := matVec(cov, w)
			for i := range g {
				g[i] = -mu[i] + lambda*sw[i]
			}
		},
		scale: scale,
	}

	sol, err := solvePenalized(n, obj, o.Constraints, targetPenalties(mu, cov, o.Constraints))
	if err != nil {
		return nil, err
	}
	w, err := o.Constraints.finalize(sol.x)
	if err != nil {
		return nil, err
	}
	r := newResult(MethodMeanVariance, p, w, sol.solver, sol.iterations)
	if err := checkTargets(r, o.Constraints); err != nil {
		return nil, err
	}
	return r, nil
}

// MaxSharpeOptimizer maximizes (w'μ - rf) / sqrt(w'Σw)
type MaxSharpeOptimizer struct {
	RiskFreeRate float64
	Constraints  Constraints
}

// NewMaxSharpeOptimizer creates a tangency-portfolio optimizer
func NewMaxSharpeOptimizer(riskFreeRate float64, c Constraints) *MaxSharpeOptimizer {
	return &MaxSharpeOptimizer{RiskFreeRate: riskFreeRate, Constraints: c}
}

// Optimize implements Optimizer
func (o *MaxSharpeOptimizer) Optimize(p Problem) (*Result, error) {
	if err := p.Validate(true); err != nil {
		return nil, err
	}
	n := p.size()
	if err := o.Constraints.check(n); err != nil {
		return nil, err
	}
	if err := p.degenerate(); err != nil {
		return nil, err
	}

	mu, cov, rf := p.ExpectedReturns, p.Covariance, o.RiskFreeRate
	obj := objective{
		f: func(w []float64) float64 {
			sd := math.Sqrt(math.Max(quadForm(cov, w), 1e-18))
			return -(floats.Dot(mu, w) - rf) / sd
		},
		grad: func(g, w []float64) {
			variance := math.Max(quadForm(cov, w), 1e-18)
			sd := math.Sqrt(variance)
			excess := floats.Dot(mu, w) - rf
			sw := matVec(cov, w)
			for i := range g {
				g[i] = -mu[i]/sd + excess*sw[i]/(variance*sd)
			}
		},
		scale: 1,
	}

	sol, err := solvePenalized(n, obj, o.Constraints, nil)
	if err != nil {
		return nil, err
	}
	w, err := o.Constraints.finalize(sol.x)
	if err != nil {
		return nil, err
	}
	r := newResult(MethodMaxSharpe, p, w, sol.solver, sol.iterations)
	if r.Volatility > 0 {
		r.Sharpe = (r.ExpectedReturn - rf) / r.Volatility
	}
	return r, nil
}

func meanAbs(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += math.Abs(x)
	}
	return s / float64(len(v))
}
