package simulation

import (
	"context"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/modules/partition"
)

type resampler func(s *domain.ReturnSeries, iteration int, rng *rand.Rand) (*domain.ReturnSeries, error)

// MonteCarlo runs the simple cycle on i.i.d. resampled histories
func (e *Engine) MonteCarlo(ctx context.Context, series *domain.ReturnSeries, factory domain.ModelFactory) (*Run, error) {
	return e.resampled(ctx, DriverMonteCarlo, series, factory, partition.IIDResample)
}

// Bootstrap runs the simple cycle on block-resampled histories
func (e *Engine) Bootstrap(ctx context.Context, series *domain.ReturnSeries, factory domain.ModelFactory) (*Run, error) {
	if series != nil && e.cfg.Bootstrap.BlockSize > series.Len() {
		return nil, domain.Insufficient("block size %d exceeds series length %d", e.cfg.Bootstrap.BlockSize, series.Len())
	}
	block := e.cfg.Bootstrap.BlockSize
	return e.resampled(ctx, DriverBootstrap, series, factory,
		func(s *domain.ReturnSeries, iteration int, rng *rand.Rand) (*domain.ReturnSeries, error) {
			return partition.BlockResample(s, block, iteration, rng)
		})
}

// resampled schedules iterations in batches. Every iteration draws from its
// own RNG seeded from the master stream, so the resampling choices do not
// depend on scheduling. Between batches the running mean of Sharpe is checked
// for convergence; once it settles no further batches are scheduled.
func (e *Engine) resampled(ctx context.Context, driver Driver, series *domain.ReturnSeries, factory domain.ModelFactory, resample resampler) (*Run, error) {
	if err := checkSeries(series, factory); err != nil {
		return nil, err
	}
	mc := e.cfg.MonteCarlo
	rs := e.begin(driver, series.Name(), mc.Simulations)

	if _, err := partition.TimeWindow(series.Len(), e.cfg.Split); err != nil {
		return e.finish(rs, err)
	}

	master := newRand(e.cfg.Seed)
	seeds := make([]uint64, mc.Simulations)
	for i := range seeds {
		seeds[i] = master.Uint64()
	}

	conv := &Convergence{Requested: mc.Simulations}
	rs.run.Convergence = conv
	sum := 0.0

	for start := 0; start < mc.Simulations; start += mc.BatchSize {
		if ctx.Err() != nil {
			rs.run.Cancelled = true
			break
		}
		end := min(start+mc.BatchSize, mc.Simulations)
		jobs := make([]job, 0, end-start)
		for i := start; i < end; i++ {
			jobs = append(jobs, job{
				index: i,
				label: fmt.Sprintf("sample %d", i),
				split: func() (partition.Split, error) {
					history, err := resample(series, i, newRand(seeds[i]))
					if err != nil {
						return partition.Split{}, err
					}
					return partition.TimeSplit(history, e.cfg.Split)
				},
			})
		}

		before := len(rs.run.Results)
		if err := e.execute(ctx, rs, factory, jobs); err != nil {
			return e.finish(rs, err)
		}
		conv.Scheduled = end
		for _, r := range rs.run.Results[before:] {
			sum += r.Sharpe
			conv.RunningMeans = append(conv.RunningMeans, sum/float64(len(conv.RunningMeans)+1))
		}

		spread, ok := converged(conv.RunningMeans, mc)
		conv.Spread = spread
		if ok && end < mc.Simulations {
			conv.Converged = true
			rs.log.Info().
				Int("iterations", end).
				Float64("spread", spread).
				Msg("Sharpe mean converged, stopping early")
			e.bus.Emit(eventModule, &events.RunConvergedData{
				RunID:      rs.run.ID,
				Driver:     string(driver),
				Iterations: end,
				Spread:     spread,
			})
			break
		}
		conv.Converged = ok
	}
	return e.finish(rs, nil)
}

// converged reports whether the last ConvergenceWindow running means lie
// within ConvergenceThreshold of each other
func converged(means []float64, mc MonteCarloConfig) (float64, bool) {
	if mc.ConvergenceThreshold <= 0 || len(means) < mc.ConvergenceWindow {
		return 0, false
	}
	tail := means[len(means)-mc.ConvergenceWindow:]
	spread := floats.Max(tail) - floats.Min(tail)
	return spread, spread < mc.ConvergenceThreshold
}
