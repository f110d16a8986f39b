package optimization

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

const (
	penaltyWeight = 1e4
	// gradient norm accepted when the line search stalls at machine precision
	looseGradTol = 1e-7
)

// objective is a smooth function of the weights with its gradient
type objective struct {
	f     func(w []float64) float64
	grad  func(g, w []float64)
	scale float64 // typical magnitude of f, used to normalize the problem
}

type solution struct {
	x          []float64
	solver     string
	iterations int
}

// solvePenalized minimizes obj subject to sum(w)=1 and the bounds using
// quadratic penalties. BFGS runs first; Nelder-Mead is the fallback.
func solvePenalized(n int, obj objective, c Constraints, extra *objective) (*solution, error) {
	c = c.normalized()
	scale := obj.scale
	if scale <= 0 || math.IsNaN(scale) {
		scale = 1
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			v := obj.f(x) / scale
			if extra != nil {
				v += extra.f(x)
			}
			return v + penaltyWeight*constraintPenalty(x, c)
		},
		Grad: func(grad, x []float64) {
			obj.grad(grad, x)
			floats.Scale(1/scale, grad)
			if extra != nil {
				g := make([]float64, n)
				extra.grad(g, x)
				floats.Add(grad, g)
			}
			addConstraintGradient(grad, x, c)
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	settings := &optimize.Settings{
		MajorIterations: 10000,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-15, Relative: 1e-15, Iterations: 200},
	}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if converged(result, err, problem, n) {
		return &solution{x: result.X, solver: "bfgs", iterations: result.Stats.MajorIterations}, nil
	}

	result, err = optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
	if converged(result, err, problem, n) {
		return &solution{x: result.X, solver: "nelder_mead", iterations: result.Stats.MajorIterations}, nil
	}
	if err != nil {
		return nil, optimizationErr("solver failed: %v", err)
	}
	return nil, optimizationErr("solver did not converge: status=%v", result.Status)
}

func converged(result *optimize.Result, err error, p optimize.Problem, n int) bool {
	if result == nil || len(result.X) != n {
		return false
	}
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if err == nil && !result.Status.Early() {
		return true
	}
	// BFGS line searches can stall once f stops changing in the last bits;
	// accept the point if it is stationary anyway.
	g := make([]float64, n)
	p.Grad(g, result.X)
	return floats.Norm(g, math.Inf(1)) < looseGradTol
}

func constraintPenalty(x []float64, c Constraints) float64 {
	sum := floats.Sum(x)
	p := (sum - 1) * (sum - 1)
	for _, v := range x {
		if v < c.MinWeight {
			p += (c.MinWeight - v) * (c.MinWeight - v)
		}
		if v > c.MaxWeight {
			p += (v - c.MaxWeight) * (v - c.MaxWeight)
		}
	}
	return p
}

func addConstraintGradient(grad, x []float64, c Constraints) {
	sum := floats.Sum(x)
	for i, v := range x {
		grad[i] += 2 * penaltyWeight * (sum - 1)
		if v < c.MinWeight {
			grad[i] -= 2 * penaltyWeight * (c.MinWeight - v)
		}
		if v > c.MaxWeight {
			grad[i] += 2 * penaltyWeight * (v - c.MaxWeight)
		}
	}
}

// targetPenalties turns the optional return / volatility targets into an
// extra penalty term. Returns nil when no target is set.
func targetPenalties(mu []float64, cov [][]float64, c Constraints) *objective {
	switch {
	case c.TargetReturn != nil:
		target := *c.TargetReturn
		norm := math.Max(math.Abs(target), 1e-8)
		return &objective{
			f: func(w []float64) float64 {
				d := (floats.Dot(mu, w) - target) / norm
				return penaltyWeight * d * d
			},
			grad: func(g, w []float64) {
				d := (floats.Dot(mu, w) - target) / norm
				for i := range g {
					g[i] = 2 * penaltyWeight * d * mu[i] / norm
				}
			},
		}
	case c.TargetVolatility != nil:
		target := *c.TargetVolatility
		return &objective{
			f: func(w []float64) float64 {
				d := (math.Sqrt(math.Max(quadForm(cov, w), 0)) - target) / target
				return penaltyWeight * d * d
			},
			grad: func(g, w []float64) {
				vol := math.Sqrt(math.Max(quadForm(cov, w), 1e-18))
				d := (vol - target) / target
				sw := matVec(cov, w)
				for i := range g {
					g[i] = 2 * penaltyWeight * d / target * sw[i] / vol
				}
			},
		}
	}
	return nil
}

// checkTargets verifies that the penalized solution met the equality targets
func checkTargets(r *Result, c Constraints) error {
	if c.TargetReturn != nil {
		target := *c.TargetReturn
		if math.Abs(r.ExpectedReturn-target) > 1e-3*math.Max(1, math.Abs(target)) {
			return optimizationErr("target return %g is infeasible (reached %g)", target, r.ExpectedReturn)
		}
	}
	if c.TargetVolatility != nil {
		target := *c.TargetVolatility
		if math.Abs(r.Volatility-target) > 1e-3*math.Max(1, target) {
			return optimizationErr("target volatility %g is infeasible (reached %g)", target, r.Volatility)
		}
	}
	return nil
}
