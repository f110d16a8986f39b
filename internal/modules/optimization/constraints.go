package optimization

import (
	"fmt"

	"github.com/aristath/quantlab/internal/domain"
)

// Constraints are the long-only bounds shared by every optimizer plus the
// optional mean-variance equality targets.
type Constraints struct {
	MinWeight        float64  `json:"min_weight"`
	MaxWeight        float64  `json:"max_weight"`
	TargetReturn     *float64 `json:"target_return,omitempty"`
	TargetVolatility *float64 `json:"target_volatility,omitempty"`
}

// DefaultConstraints allows any long-only allocation
func DefaultConstraints() Constraints {
	return Constraints{MinWeight: 0, MaxWeight: 1}
}

func (c Constraints) normalized() Constraints {
	if c.MaxWeight == 0 && c.MinWeight == 0 {
		c.MaxWeight = 1
	}
	return c
}

// check validates the bounds for n assets. Malformed bounds are a
// configuration error, bounds no weight vector can meet are infeasible.
func (c Constraints) check(n int) error {
	c = c.normalized()
	if c.MinWeight < 0 || c.MaxWeight > 1 || c.MinWeight > c.MaxWeight {
		return domain.Invalid("weight bounds [%g, %g] are malformed", c.MinWeight, c.MaxWeight)
	}
	if float64(n)*c.MinWeight > 1+domain.WeightTolerance || float64(n)*c.MaxWeight < 1-domain.WeightTolerance {
		return optimizationErr("weight bounds [%g, %g] are infeasible for %d assets", c.MinWeight, c.MaxWeight, n)
	}
	if c.TargetReturn != nil && c.TargetVolatility != nil {
		return domain.Invalid("target return and target volatility are mutually exclusive")
	}
	if c.TargetVolatility != nil && *c.TargetVolatility <= 0 {
		return domain.Invalid("target volatility must be > 0")
	}
	return nil
}

// finalize clamps a raw solution into the bounds and renormalizes
func (c Constraints) finalize(x []float64) (domain.WeightVector, error) {
	c = c.normalized()
	w, err := domain.ApplyBounds(x, c.MinWeight, c.MaxWeight)
	if err != nil {
		return nil, optimizationErr("cannot map solution onto bounds: %v", err)
	}
	return w, nil
}

func optimizationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrOptimization, fmt.Sprintf(format, args...))
}
