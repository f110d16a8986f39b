package metrics

import (
	"fmt"

	"github.com/aristath/quantlab/pkg/formulas"
	"gonum.org/v1/gonum/stat/distuv"
)

// VaRMethod selects how the loss quantile is estimated
type VaRMethod string

const (
	VaRHistorical VaRMethod = "historical"
	VaRParametric VaRMethod = "parametric"
)

// ValueAtRisk returns the (1 - confidence) quantile of the return distribution.
// Losses are negative numbers.
func ValueAtRisk(returns []float64, confidence float64, method VaRMethod) (float64, error) {
	if len(returns) == 0 {
		return 0, fmt.Errorf("value at risk of empty series")
	}
	if confidence <= 0 || confidence >= 1 {
		return 0, fmt.Errorf("confidence must be in (0,1), got %g", confidence)
	}

	switch method {
	case VaRHistorical, "":
		return formulas.Quantile(returns, 1-confidence), nil
	case VaRParametric:
		z := distuv.UnitNormal.Quantile(1 - confidence)
		return formulas.Mean(returns) + z*formulas.StdDev(returns), nil
	default:
		return 0, fmt.Errorf("unknown VaR method %q", method)
	}
}

// ConditionalVaR is the mean of the returns at or below VaR.
// Falls back to VaR itself when no observation reaches it.
func ConditionalVaR(returns []float64, confidence float64, method VaRMethod) (float64, error) {
	v, err := ValueAtRisk(returns, confidence, method)
	if err != nil {
		return 0, err
	}
	sum, n := 0.0, 0
	for _, r := range returns {
		if r <= v {
			sum += r
			n++
		}
	}
	if n == 0 {
		return v, nil
	}
	return sum / float64(n), nil
}

// ExpectedShortfall is an alias of ConditionalVaR
func ExpectedShortfall(returns []float64, confidence float64, method VaRMethod) (float64, error) {
	return ConditionalVaR(returns, confidence, method)
}
