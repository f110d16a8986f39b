// Package regime labels return series with discrete market regimes and
// summarizes how a labeling moves between them.
package regime

import (
	"math"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/pkg/formulas"
)

// Trend regimes
const (
	Bear     = 0
	Sideways = 1
	Bull     = 2
)

// Volatility regimes
const (
	LowVolatility    = 0
	MediumVolatility = 1
	HighVolatility   = 2
)

// TrendNames maps trend regime ids to labels
var TrendNames = map[int]string{Bear: "bear", Sideways: "sideways", Bull: "bull"}

// VolatilityNames maps volatility regime ids to labels
var VolatilityNames = map[int]string{LowVolatility: "low_volatility", MediumVolatility: "medium_volatility", HighVolatility: "high_volatility"}

// TrendDetector classifies every observation from the trailing Window of
// daily returns. Thresholds are in daily units.
type TrendDetector struct {
	Window int
	// Bull requires mean > BullReturn, drawdown above BullDrawdown and vol below BullVolatility
	BullReturn     float64
	BullDrawdown   float64
	BullVolatility float64
	// Bear requires mean < BearReturn, drawdown below BearDrawdown or vol above BearVolatility
	BearReturn     float64
	BearDrawdown   float64
	BearVolatility float64

	log zerolog.Logger
}

// NewTrendDetector returns a detector with a 60-day window
func NewTrendDetector(log zerolog.Logger) *TrendDetector {
	return &TrendDetector{
		Window:         60,
		BullReturn:     0.0005,
		BullDrawdown:   -0.10,
		BullVolatility: 0.04,
		BearReturn:     -0.0005,
		BearDrawdown:   -0.12,
		BearVolatility: 0.03,
		log:            log.With().Str("component", "trend_regime_detector").Logger(),
	}
}

// DetectRegimes implements domain.RegimeDetector. Observations before the
// first full window take the label of the first full window.
func (d *TrendDetector) DetectRegimes(series *domain.ReturnSeries) (domain.RegimeLabeling, error) {
	r := series.Returns()
	if d.Window < 2 {
		return nil, domain.Invalid("trend window must be >= 2, got %d", d.Window)
	}
	if len(r) < d.Window {
		return nil, domain.Insufficient("%d observations for a %d-day trend window", len(r), d.Window)
	}

	means := talib.Sma(r, d.Window)
	vols := talib.StdDev(r, d.Window, 1)

	labels := make(domain.RegimeLabeling, len(r))
	for i := d.Window - 1; i < len(r); i++ {
		dd := drawdown(r[i-d.Window+1 : i+1])
		labels[i] = d.classify(means[i], vols[i], dd)
	}
	backfill(labels, d.Window-1)

	d.log.Debug().
		Str("series", series.Name()).
		Int("observations", len(r)).
		Interface("counts", counts(labels)).
		Msg("Trend regimes detected")
	return labels, nil
}

func (d *TrendDetector) classify(mean, vol, dd float64) int {
	if mean > d.BullReturn && dd > d.BullDrawdown && vol < d.BullVolatility {
		return Bull
	}
	if mean < d.BearReturn || dd < d.BearDrawdown || vol > d.BearVolatility {
		return Bear
	}
	return Sideways
}

// VolatilityDetector splits observations into terciles of trailing volatility
type VolatilityDetector struct {
	Window int
	log    zerolog.Logger
}

// NewVolatilityDetector returns a detector with a 20-day window
func NewVolatilityDetector(log zerolog.Logger) *VolatilityDetector {
	return &VolatilityDetector{
		Window: 20,
		log:    log.With().Str("component", "volatility_regime_detector").Logger(),
	}
}

// DetectRegimes implements domain.RegimeDetector
func (d *VolatilityDetector) DetectRegimes(series *domain.ReturnSeries) (domain.RegimeLabeling, error) {
	r := series.Returns()
	if d.Window < 2 {
		return nil, domain.Invalid("volatility window must be >= 2, got %d", d.Window)
	}
	if len(r) < d.Window {
		return nil, domain.Insufficient("%d observations for a %d-day volatility window", len(r), d.Window)
	}

	vols := talib.StdDev(r, d.Window, 1)[d.Window-1:]
	low := formulas.Quantile(vols, 1.0/3)
	high := formulas.Quantile(vols, 2.0/3)

	labels := make(domain.RegimeLabeling, len(r))
	for k, v := range vols {
		i := k + d.Window - 1
		switch {
		case v <= low:
			labels[i] = LowVolatility
		case v <= high:
			labels[i] = MediumVolatility
		default:
			labels[i] = HighVolatility
		}
	}
	backfill(labels, d.Window-1)

	d.log.Debug().
		Str("series", series.Name()).
		Float64("low_cutoff", low).
		Float64("high_cutoff", high).
		Msg("Volatility regimes detected")
	return labels, nil
}

func backfill(labels domain.RegimeLabeling, first int) {
	for i := 0; i < first; i++ {
		labels[i] = labels[first]
	}
}

func drawdown(r []float64) float64 {
	peak, worst := 1.0, 0.0
	for _, c := range formulas.CumulativeWealth(r) {
		peak = math.Max(peak, c)
		worst = math.Min(worst, (c-peak)/peak)
	}
	return worst
}

func counts(labels domain.RegimeLabeling) map[int]int {
	out := make(map[int]int)
	for _, l := range labels {
		out[l]++
	}
	return out
}
