package strategies

import (
	"github.com/markcheno/go-talib"

	"github.com/aristath/quantlab/internal/domain"
)

// meanReversion fades z-scores of wealth against its moving average beyond ±entry
type meanReversion struct {
	window     int
	entry      float64
	allowShort bool
	history
}

func (m *meanReversion) Fit(train *domain.ReturnSeries) error {
	return m.fit(train, m.window)
}

func (m *meanReversion) Predict(test *domain.ReturnSeries) (domain.PredictionSeries, error) {
	prices, offset, err := m.prices(test)
	if err != nil {
		return nil, err
	}
	means := talib.Sma(prices, m.window)
	devs := talib.StdDev(prices, m.window, 1)

	out := make(domain.PredictionSeries, test.Len())
	for i := range out {
		k := offset + i - 1
		if devs[k] == 0 {
			continue
		}
		z := (prices[k] - means[k]) / devs[k]
		switch {
		case z < -m.entry:
			out[i] = 1
		case z > m.entry && m.allowShort:
			out[i] = -1
		}
	}
	return out, nil
}
