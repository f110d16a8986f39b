package strategies

import (
	"github.com/markcheno/go-talib"

	"github.com/aristath/quantlab/internal/domain"
)

// momentum is long while the fast SMA of wealth is above the slow one
type momentum struct {
	fast, slow int
	allowShort bool
	history
}

func (m *momentum) Fit(train *domain.ReturnSeries) error {
	return m.fit(train, m.slow)
}

func (m *momentum) Predict(test *domain.ReturnSeries) (domain.PredictionSeries, error) {
	prices, offset, err := m.prices(test)
	if err != nil {
		return nil, err
	}
	fast := talib.Sma(prices, m.fast)
	slow := talib.Sma(prices, m.slow)

	out := make(domain.PredictionSeries, test.Len())
	for i := range out {
		// wealth known before observation i
		k := offset + i - 1
		switch {
		case fast[k] > slow[k]:
			out[i] = 1
		case fast[k] < slow[k] && m.allowShort:
			out[i] = -1
		}
	}
	return out, nil
}
