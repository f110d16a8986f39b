package domain

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// WeightTolerance is the allowed deviation of a weight vector's sum from 1
const WeightTolerance = 1e-6

// WeightVector holds non-negative weights summing to 1, one per asset or strategy
type WeightVector []float64

// NewWeightVector copies and validates values
func NewWeightVector(values []float64) (WeightVector, error) {
	w := WeightVector(append([]float64(nil), values...))
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// EqualWeights returns 1/n for each of n entries
func EqualWeights(n int) WeightVector {
	w := make(WeightVector, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// Validate checks non-negativity and the unit sum
func (w WeightVector) Validate() error {
	if len(w) == 0 {
		return Invalid("empty weight vector")
	}
	for i, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Invalid("weight %d is not finite", i)
		}
		if v < -WeightTolerance {
			return Invalid("weight %d is negative (%g)", i, v)
		}
	}
	if sum := floats.Sum(w); math.Abs(sum-1) > WeightTolerance {
		return Invalid("weights sum to %.8f, want 1", sum)
	}
	return nil
}

// ValidateBounds additionally checks minWeight <= w[i] <= maxWeight
func (w WeightVector) ValidateBounds(minWeight, maxWeight float64) error {
	if err := w.Validate(); err != nil {
		return err
	}
	for i, v := range w {
		if v < minWeight-WeightTolerance || v > maxWeight+WeightTolerance {
			return Invalid("weight %d = %g outside [%g, %g]", i, v, minWeight, maxWeight)
		}
	}
	return nil
}

// Clone returns an independent copy
func (w WeightVector) Clone() WeightVector {
	return append(WeightVector(nil), w...)
}

// L1Distance returns sum |w[i] - other[i]|
func (w WeightVector) L1Distance(other WeightVector) float64 {
	return floats.Distance(w, other, 1)
}

// Diversification summarizes how concentrated a weight vector is
type Diversification struct {
	EffectiveN float64 `json:"effective_n" msgpack:"effective_n"`
	Herfindahl float64 `json:"herfindahl" msgpack:"herfindahl"`
	Entropy    float64 `json:"entropy" msgpack:"entropy"`
}

// Diversification returns effective N = 1/sum(w^2), the Herfindahl index and Shannon entropy
func (w WeightVector) Diversification() Diversification {
	hhi := floats.Dot(w, w)
	entropy := 0.0
	for _, v := range w {
		if v > 0 {
			entropy -= v * math.Log(v)
		}
	}
	d := Diversification{Herfindahl: hhi, Entropy: entropy}
	if hhi > 0 {
		d.EffectiveN = 1 / hhi
	}
	return d
}

// Normalize scales non-negative values to sum to 1
func Normalize(values []float64) (WeightVector, error) {
	w := make(WeightVector, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, Invalid("weight %d is not finite", i)
		}
		if v > 0 {
			w[i] = v
		}
	}
	sum := floats.Sum(w)
	if sum <= 0 {
		return nil, Invalid("weights have no positive mass")
	}
	floats.Scale(1/sum, w)
	return w, nil
}

// ApplyBounds clamps values into [minWeight, maxWeight] and renormalizes,
// repeating until every entry satisfies the bounds. Entries pinned at a bound
// stay there while the free entries are rescaled proportionally. Input with no
// positive mass is rejected; callers that want an equal split ask for it.
func ApplyBounds(values []float64, minWeight, maxWeight float64) (WeightVector, error) {
	n := len(values)
	if n == 0 {
		return nil, Invalid("empty weight vector")
	}
	if minWeight < 0 || maxWeight <= 0 || minWeight > maxWeight {
		return nil, Invalid("weight bounds [%g, %g] are malformed", minWeight, maxWeight)
	}
	if float64(n)*minWeight > 1+WeightTolerance || float64(n)*maxWeight < 1-WeightTolerance {
		return nil, Invalid("weight bounds [%g, %g] infeasible for %d entries", minWeight, maxWeight, n)
	}

	w, err := Normalize(values)
	if err != nil {
		return nil, err
	}

	pinned := make([]bool, n)
	for iter := 0; iter < 4*n+10; iter++ {
		changed := false
		for i, v := range w {
			if pinned[i] {
				continue
			}
			if v < minWeight {
				w[i], pinned[i], changed = minWeight, true, true
			} else if v > maxWeight {
				w[i], pinned[i], changed = maxWeight, true, true
			}
		}

		pinnedSum, freeSum, free := 0.0, 0.0, 0
		for i, v := range w {
			if pinned[i] {
				pinnedSum += v
			} else {
				freeSum += v
				free++
			}
		}
		if free == 0 {
			break
		}
		remaining := 1 - pinnedSum
		if freeSum > 0 {
			scale := remaining / freeSum
			for i := range w {
				if !pinned[i] {
					w[i] *= scale
				}
			}
		} else {
			for i := range w {
				if !pinned[i] {
					w[i] = remaining / float64(free)
				}
			}
		}
		if !changed && w.ValidateBounds(minWeight, maxWeight) == nil {
			return w, nil
		}
	}

	if w.ValidateBounds(minWeight, maxWeight) == nil {
		return w, nil
	}
	return ProjectCappedSimplex(values, minWeight, maxWeight)
}

// ProjectCappedSimplex returns the Euclidean projection of values onto
// {w : sum(w) = 1, minWeight <= w[i] <= maxWeight}.
func ProjectCappedSimplex(values []float64, minWeight, maxWeight float64) (WeightVector, error) {
	n := len(values)
	if n == 0 {
		return nil, Invalid("empty weight vector")
	}
	if float64(n)*minWeight > 1+WeightTolerance || float64(n)*maxWeight < 1-WeightTolerance {
		return nil, Invalid("weight bounds [%g, %g] infeasible for %d entries", minWeight, maxWeight, n)
	}

	clipped := func(tau float64) (WeightVector, float64) {
		w := make(WeightVector, n)
		sum := 0.0
		for i, v := range values {
			x := v - tau
			if math.IsNaN(x) {
				x = minWeight
			}
			w[i] = math.Min(maxWeight, math.Max(minWeight, x))
			sum += w[i]
		}
		return w, sum
	}

	lo := floats.Min(values) - maxWeight - 1
	hi := floats.Max(values) - minWeight + 1
	for iter := 0; iter < 200; iter++ {
		mid := (lo + hi) / 2
		if _, sum := clipped(mid); sum > 1 {
			lo = mid
		} else {
			hi = mid
		}
	}
	w, sum := clipped((lo + hi) / 2)
	if math.Abs(sum-1) > WeightTolerance {
		return nil, Invalid("projection onto bounds did not reach unit sum (%.8f)", sum)
	}
	return w, nil
}
