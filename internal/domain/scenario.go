package domain

import (
	"math"

	"github.com/aristath/quantlab/pkg/formulas"
)

// ScenarioSpec is a named perturbation applied to a ReturnSeries
type ScenarioSpec struct {
	Name                  string  `json:"name" yaml:"name"`
	VolatilityMultiplier  float64 `json:"volatility_multiplier" yaml:"volatility_multiplier"`
	ReturnShift           float64 `json:"return_shift" yaml:"return_shift"`
	CorrelationMultiplier float64 `json:"correlation_multiplier" yaml:"correlation_multiplier"`
	Weight                float64 `json:"weight" yaml:"weight"`
}

// Validate checks the multipliers
func (s ScenarioSpec) Validate() error {
	if s.Name == "" {
		return Invalid("scenario name is required")
	}
	if s.VolatilityMultiplier <= 0 || math.IsNaN(s.VolatilityMultiplier) {
		return Invalid("scenario %q: volatility_multiplier must be > 0", s.Name)
	}
	if s.CorrelationMultiplier < 0 || math.IsNaN(s.CorrelationMultiplier) {
		return Invalid("scenario %q: correlation_multiplier must be >= 0", s.Name)
	}
	if s.Weight < 0 {
		return Invalid("scenario %q: weight must be >= 0", s.Name)
	}
	return nil
}

// Apply builds the stressed series. Deviations from the mean are first
// reshaped so the lag-1 autocorrelation scales with CorrelationMultiplier
// (dispersion preserved), then scaled by VolatilityMultiplier, and finally
// ReturnShift is added to every period. The input is never modified.
func (s ScenarioSpec) Apply(series *ReturnSeries) (*ReturnSeries, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	returns := series.Returns()
	mu := formulas.Mean(returns)
	dev := make([]float64, len(returns))
	for i, r := range returns {
		dev[i] = r - mu
	}

	if s.CorrelationMultiplier != 1 && len(dev) > 2 {
		dev = scaleAutocorrelation(dev, s.CorrelationMultiplier)
	}

	stressed := make([]float64, len(returns))
	for i, d := range dev {
		stressed[i] = mu + d*s.VolatilityMultiplier + s.ReturnShift
	}
	return series.WithReturns(series.Name()+"@"+s.Name, stressed)
}

func scaleAutocorrelation(dev []float64, multiplier float64) []float64 {
	rho := formulas.Correlation(dev[1:], dev[:len(dev)-1])
	target := formulas.StdDev(dev)

	out := make([]float64, len(dev))
	out[0] = dev[0]
	for t := 1; t < len(dev); t++ {
		out[t] = dev[t] + (multiplier-1)*rho*dev[t-1]
	}
	if sd := formulas.StdDev(out); sd > 0 && target > 0 {
		mean := formulas.Mean(out)
		for i := range out {
			out[i] = (out[i]-mean)*target/sd
		}
	}
	return out
}
