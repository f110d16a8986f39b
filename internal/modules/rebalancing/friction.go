package rebalancing

import (
	"github.com/aristath/quantlab/internal/domain"
)

// Drift moves weights through one period of strategy returns:
// w_i ← w_i(1+r_i) / Σ w_j(1+r_j). A wiped-out portfolio keeps its weights.
func Drift(w domain.WeightVector, periodReturns []float64) domain.WeightVector {
	out := make([]float64, len(w))
	total := 0.0
	for i, v := range w {
		out[i] = v * (1 + periodReturns[i])
		if out[i] < 0 {
			out[i] = 0
		}
		total += out[i]
	}
	if total <= 0 {
		return w.Clone()
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// Smooth blends the computed weights with the previous ones and re-applies the bounds
func Smooth(computed, previous domain.WeightVector, alpha, minWeight, maxWeight float64) (domain.WeightVector, error) {
	if alpha == 0 {
		return computed.Clone(), nil
	}
	out := make([]float64, len(computed))
	for i := range computed {
		out[i] = (1-alpha)*computed[i] + alpha*previous[i]
	}
	return domain.ApplyBounds(out, minWeight, maxWeight)
}

// TurnoverCost charges rate per unit of L1 weight change
func TurnoverCost(from, to domain.WeightVector, rate float64) float64 {
	return rate * from.L1Distance(to)
}
