package domain

// PredictionSeries holds one signal per observation of the window it was
// produced from. Signals are position sizes or directional weights.
type PredictionSeries []float64

// StrategyModel is the external predictive model. Implementations are not
// assumed to be safe for concurrent use; the engine gives every worker its
// own instance.
type StrategyModel interface {
	// Fit trains on the given window
	Fit(train *ReturnSeries) error
	// Predict returns one signal per observation of test
	Predict(test *ReturnSeries) (PredictionSeries, error)
}

// ModelFactory builds a fresh StrategyModel instance
type ModelFactory func() StrategyModel

// RegimeLabeling maps each observation of a series (by position) to a regime id
type RegimeLabeling []int

// RegimeDetector labels a series with discrete regime ids
type RegimeDetector interface {
	DetectRegimes(series *ReturnSeries) (RegimeLabeling, error)
}

// RegimeDetectorFunc adapts a function to RegimeDetector
type RegimeDetectorFunc func(series *ReturnSeries) (RegimeLabeling, error)

// DetectRegimes implements RegimeDetector
func (f RegimeDetectorFunc) DetectRegimes(series *ReturnSeries) (RegimeLabeling, error) {
	return f(series)
}

// StrategyReturns converts signals into per-period strategy returns: signal[i] * return[i].
// Fails with ErrPrediction when the lengths differ.
func StrategyReturns(signals PredictionSeries, window *ReturnSeries) ([]float64, error) {
	if len(signals) != window.Len() {
		return nil, &ModelError{Op: OpPredict, Err: Invalid("%d predictions for %d observations", len(signals), window.Len())}
	}
	out := make([]float64, len(signals))
	for i, s := range signals {
		out[i] = s * window.Return(i)
	}
	return out, nil
}
