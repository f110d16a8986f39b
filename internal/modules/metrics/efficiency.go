package metrics

import (
	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/pkg/formulas"
)

// Efficiency holds benchmark-relative statistics. Alpha and Jensen are per period.
type Efficiency struct {
	Beta             float64 `json:"beta"`
	Alpha            float64 `json:"alpha"`
	InformationRatio float64 `json:"information_ratio"`
	TrackingError    float64 `json:"tracking_error"`
	Treynor          float64 `json:"treynor"`
	Jensen           float64 `json:"jensen"`
}

// EfficiencyAgainst compares returns with an equally long benchmark
func EfficiencyAgainst(returns, benchmark []float64) (*Efficiency, error) {
	if len(returns) != len(benchmark) {
		return nil, domain.Invalid("benchmark has %d observations, returns have %d", len(benchmark), len(returns))
	}
	if len(returns) < 2 {
		return nil, domain.Insufficient("efficiency needs at least 2 observations, got %d", len(returns))
	}

	e := &Efficiency{}
	if varB := formulas.Variance(benchmark); varB > 0 {
		e.Beta = formulas.Covariance(returns, benchmark) / varB
	}
	meanR := formulas.Mean(returns)
	e.Alpha = meanR - e.Beta*formulas.Mean(benchmark)
	e.Jensen = e.Alpha

	active := make([]float64, len(returns))
	for i := range returns {
		active[i] = returns[i] - benchmark[i]
	}
	e.TrackingError = formulas.StdDev(active)
	if e.TrackingError > 0 {
		e.InformationRatio = formulas.Mean(active) / e.TrackingError
	}
	if e.Beta != 0 {
		e.Treynor = meanR / e.Beta
	}
	return e, nil
}
