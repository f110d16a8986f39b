package simulation

import (
	"context"
	"fmt"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/partition"
	"github.com/aristath/quantlab/internal/modules/regime"
)

// Regime labels the history with detector and runs the simple cycle on the
// observations of each regime. Regimes with fewer than MinSamplesPerRegime
// observations are skipped and listed in the outcome.
func (e *Engine) Regime(ctx context.Context, series *domain.ReturnSeries, factory domain.ModelFactory, detector domain.RegimeDetector) (*Run, error) {
	if err := checkSeries(series, factory); err != nil {
		return nil, err
	}
	if detector == nil {
		return nil, domain.Invalid("a regime detector is required")
	}

	labels, err := detector.DetectRegimes(series)
	if err != nil {
		return nil, fmt.Errorf("detect regimes: %w", err)
	}
	groups, err := partition.RegimeSplit(series, labels, e.cfg.Regime.MinSamplesPerRegime)
	if err != nil {
		return nil, err
	}

	rs := e.begin(DriverRegime, series.Name(), len(groups.Groups))
	outcome := &RegimeOutcome{
		Transitions: regime.ComputeTransitions(labels),
		Samples:     make(map[int]int),
		Excluded:    groups.Excluded,
	}
	for _, l := range labels {
		outcome.Samples[l]++
	}
	rs.run.Regime = outcome
	for _, ex := range groups.Excluded {
		rs.log.Info().
			Int("regime", ex.Regime).
			Int("samples", ex.Samples).
			Int("min_samples", e.cfg.Regime.MinSamplesPerRegime).
			Msg("Regime excluded")
	}
	if len(groups.Groups) == 0 {
		return e.finish(rs, domain.Insufficient("no regime has %d observations", e.cfg.Regime.MinSamplesPerRegime))
	}

	jobs := make([]job, len(groups.Groups))
	for i, g := range groups.Groups {
		id := g.Regime
		jobs[i] = job{
			index:  i,
			label:  fmt.Sprintf("regime %d", id),
			regime: &id,
			split:  func() (partition.Split, error) { return partition.TimeSplit(g.Series, e.cfg.Split) },
		}
	}
	if err := e.execute(ctx, rs, factory, jobs); err != nil {
		return e.finish(rs, err)
	}
	return e.finish(rs, nil)
}
