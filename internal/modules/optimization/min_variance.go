package optimization

import (
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quantlab/internal/domain"
)

// MinVarianceMethod picks between the closed form and the iterative solver
type MinVarianceMethod string

const (
	// MinVarianceAuto uses the closed form when Σ is well-conditioned and the
	// solution satisfies the bounds, the iterative solver otherwise
	MinVarianceAuto       MinVarianceMethod = "auto"
	MinVarianceClosedForm MinVarianceMethod = "closed_form"
	MinVarianceIterative  MinVarianceMethod = "iterative"
)

// DefaultConditionLimit is the largest condition number for which the closed form is trusted
const DefaultConditionLimit = 1e10

// MinVarianceOptimizer minimizes w'Σw
type MinVarianceOptimizer struct {
	Method         MinVarianceMethod
	ConditionLimit float64
	Constraints    Constraints
}

// NewMinVarianceOptimizer creates a minimum-variance optimizer in auto mode
func NewMinVarianceOptimizer(c Constraints) *MinVarianceOptimizer {
	return &MinVarianceOptimizer{Method: MinVarianceAuto, ConditionLimit: DefaultConditionLimit, Constraints: c}
}

// Optimize implements Optimizer
func (o *MinVarianceOptimizer) Optimize(p Problem) (*Result, error) {
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

	switch o.Method {
	case MinVarianceClosedForm:
		w, err := o.closedForm(p)
		if err != nil {
			return nil, err
		}
		return newResult(MethodMinVariance, p, w, "closed_form", 0), nil
	case MinVarianceIterative:
		return o.iterative(p)
	case MinVarianceAuto, "":
		if w, err := o.closedForm(p); err == nil {
			return newResult(MethodMinVariance, p, w, "closed_form", 0), nil
		}
		return o.iterative(p)
	default:
		return nil, domain.Invalid("unknown minimum variance method %q", o.Method)
	}
}

// closedForm solves Σx = 1 through a Cholesky factorization and normalizes x
func (o *MinVarianceOptimizer) closedForm(p Problem) (domain.WeightVector, error) {
	n := p.size()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, p.Covariance[i][j])
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, optimizationErr("covariance matrix is not positive definite")
	}
	limit := o.ConditionLimit
	if limit <= 0 {
		limit = DefaultConditionLimit
	}
	if cond := chol.Cond(); cond > limit {
		return nil, optimizationErr("covariance condition number %.3g exceeds %.3g", cond, limit)
	}

	ones := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		ones.SetVec(i, 1)
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, ones); err != nil {
		return nil, optimizationErr("closed-form solve failed: %v", err)
	}

	raw := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		raw[i] = x.AtVec(i)
		sum += raw[i]
	}
	if sum <= 0 {
		return nil, optimizationErr("closed-form solution has non-positive total weight")
	}
	for i := range raw {
		raw[i] /= sum
	}

	c := o.Constraints.normalized()
	w := domain.WeightVector(raw)
	if err := w.ValidateBounds(c.MinWeight, c.MaxWeight); err != nil {
		return nil, optimizationErr("closed-form solution violates bounds: %v", err)
	}
	return w, nil
}

func (o *MinVarianceOptimizer) iterative(p Problem) (*Result, error) {
	cov := p.Covariance
	obj := objective{
		f: func(w []float64) float64 { return quadForm(cov, w) },
		grad: func(g, w []float64) {
			sw := matVec(cov, w)
			for i := range g {
				g[i] = 2 * sw[i]
			}
		},
		scale: meanDiagonal(cov),
	}
	sol, err := solvePenalized(p.size(), obj, o.Constraints, nil)
	if err != nil {
		return nil, err
	}
	w, err := o.Constraints.finalize(sol.x)
	if err != nil {
		return nil, err
	}
	return newResult(MethodMinVariance, p, w, sol.solver, sol.iterations), nil
}
