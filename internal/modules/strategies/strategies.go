// Package strategies holds reference StrategyModels so backtests can run
// without an external model. Every model only looks at returns strictly
// before the observation it sizes.
package strategies

import (
	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/pkg/formulas"
)

// Name identifies a reference strategy
type Name string

const (
	BuyAndHold    Name = "buy_and_hold"
	Momentum      Name = "momentum"
	MeanReversion Name = "mean_reversion"
)

// Names lists the reference strategies
func Names() []Name {
	return []Name{BuyAndHold, Momentum, MeanReversion}
}

// Params tunes the reference strategies; zero values take the defaults
type Params struct {
	// Exposure is the buy-and-hold position size
	Exposure float64 `json:"exposure,omitempty"`
	// Fast and Slow are the momentum moving-average periods
	Fast int `json:"fast,omitempty"`
	Slow int `json:"slow,omitempty"`
	// Window and Entry configure the mean-reversion z-score
	Window int     `json:"window,omitempty"`
	Entry  float64 `json:"entry,omitempty"`
	// AllowShort lets momentum and mean reversion take -1 positions
	AllowShort bool `json:"allow_short,omitempty"`
}

// DefaultParams returns a 20/50 crossover and a 20-period z-score entering at ±1
func DefaultParams() Params {
	return Params{Exposure: 1, Fast: 20, Slow: 50, Window: 20, Entry: 1}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Exposure == 0 {
		p.Exposure = d.Exposure
	}
	if p.Fast == 0 {
		p.Fast = d.Fast
	}
	if p.Slow == 0 {
		p.Slow = d.Slow
	}
	if p.Window == 0 {
		p.Window = d.Window
	}
	if p.Entry == 0 {
		p.Entry = d.Entry
	}
	return p
}

// Validate checks the periods
func (p Params) Validate() error {
	p = p.withDefaults()
	if p.Exposure < 0 {
		return domain.Invalid("exposure must be >= 0, got %g", p.Exposure)
	}
	if p.Fast < 1 || p.Slow <= p.Fast {
		return domain.Invalid("momentum needs 1 <= fast < slow, got %d/%d", p.Fast, p.Slow)
	}
	if p.Window < 2 {
		return domain.Invalid("mean reversion window must be >= 2, got %d", p.Window)
	}
	if p.Entry <= 0 {
		return domain.Invalid("entry must be > 0, got %g", p.Entry)
	}
	return nil
}

// New returns a factory for the named strategy
func New(name Name, params Params) (domain.ModelFactory, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	p := params.withDefaults()
	switch name {
	case BuyAndHold:
		return func() domain.StrategyModel { return &buyAndHold{exposure: p.Exposure} }, nil
	case Momentum:
		return func() domain.StrategyModel {
			return &momentum{fast: p.Fast, slow: p.Slow, allowShort: p.AllowShort}
		}, nil
	case MeanReversion:
		return func() domain.StrategyModel {
			return &meanReversion{window: p.Window, entry: p.Entry, allowShort: p.AllowShort}
		}, nil
	default:
		return nil, domain.Invalid("unknown strategy %q", name)
	}
}

type buyAndHold struct {
	exposure float64
}

func (m *buyAndHold) Fit(train *domain.ReturnSeries) error {
	if train.Len() == 0 {
		return domain.Insufficient("empty training window")
	}
	return nil
}

func (m *buyAndHold) Predict(test *domain.ReturnSeries) (domain.PredictionSeries, error) {
	out := make(domain.PredictionSeries, test.Len())
	for i := range out {
		out[i] = m.exposure
	}
	return out, nil
}

// history keeps the last returns seen during Fit so indicators are warm at
// the first test observation
type history struct {
	tail   []float64
	fitted bool
}

func (h *history) fit(train *domain.ReturnSeries, need int) error {
	if train.Len() < need {
		return domain.Insufficient("training window has %d observations, need %d", train.Len(), need)
	}
	r := train.Returns()
	h.tail = append([]float64(nil), r[len(r)-need:]...)
	h.fitted = true
	return nil
}

// prices returns the wealth path over tail+test and the offset of the first test observation
func (h *history) prices(test *domain.ReturnSeries) ([]float64, int, error) {
	if !h.fitted {
		return nil, 0, domain.Invalid("predict called before fit")
	}
	joined := make([]float64, 0, len(h.tail)+test.Len())
	joined = append(joined, h.tail...)
	joined = append(joined, test.Returns()...)
	return formulas.CumulativeWealth(joined), len(h.tail), nil
}
