package simulation

import (
	"context"
	"math"
	"sort"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/partition"
)

// Stress scores the model on the unstressed history and on every scenario
// applied to the full history. When scenarios is empty the configured ones
// are used, falling back to PredefinedScenarios.
func (e *Engine) Stress(ctx context.Context, series *domain.ReturnSeries, factory domain.ModelFactory, scenarios []domain.ScenarioSpec) (*Run, error) {
	if err := checkSeries(series, factory); err != nil {
		return nil, err
	}
	if len(scenarios) == 0 {
		scenarios = e.cfg.Stress.Scenarios
	}
	if len(scenarios) == 0 {
		scenarios = PredefinedScenarios()
	}

	histories := make([]*domain.ReturnSeries, len(scenarios))
	seen := make(map[string]bool, len(scenarios))
	for i, sc := range scenarios {
		if seen[sc.Name] {
			return nil, domain.Invalid("duplicate scenario %q", sc.Name)
		}
		seen[sc.Name] = true
		stressed, err := sc.Apply(series)
		if err != nil {
			return nil, err
		}
		histories[i] = stressed
	}

	rs := e.begin(DriverStress, series.Name(), len(scenarios)+1)
	if _, err := partition.TimeWindow(series.Len(), e.cfg.Split); err != nil {
		return e.finish(rs, err)
	}

	jobs := make([]job, 0, len(scenarios)+1)
	jobs = append(jobs, job{
		index: 0,
		label: "baseline",
		split: func() (partition.Split, error) { return partition.TimeSplit(series, e.cfg.Split) },
	})
	for i, sc := range scenarios {
		history := histories[i]
		jobs = append(jobs, job{
			index:    i + 1,
			label:    sc.Name,
			scenario: sc.Name,
			split:    func() (partition.Split, error) { return partition.TimeSplit(history, e.cfg.Split) },
		})
	}
	if err := e.execute(ctx, rs, factory, jobs); err != nil {
		return e.finish(rs, err)
	}

	rs.run.Stress = e.stressOutcome(rs.run.Results, scenarios)
	if base := rs.run.Stress.Baseline; base != nil {
		rs.run.Validation = e.validator.Validate(base.InSample, base.Returns)
	}
	rs.log.Info().
		Bool("is_robust", rs.run.Stress.IsRobust).
		Float64("weighted_sharpe", rs.run.Stress.WeightedSharpe).
		Str("worst", rs.run.Stress.WorstScenario).
		Msg("Stress test scored")
	return e.finish(rs, nil)
}

// stressOutcome compares every scenario with the baseline. The strategy is
// robust only if every scenario succeeded with Sharpe above RobustSharpe.
func (e *Engine) stressOutcome(results []BacktestResult, scenarios []domain.ScenarioSpec) *StressOutcome {
	byScenario := make(map[string]*BacktestResult, len(results))
	out := &StressOutcome{IsRobust: true}
	for i := range results {
		r := &results[i]
		if r.Scenario == "" {
			out.Baseline = r
			continue
		}
		byScenario[r.Scenario] = r
	}

	var weighted, totalWeight, plain float64
	worst := math.Inf(1)
	for _, sc := range scenarios {
		so := ScenarioOutcome{Scenario: sc}
		r, ok := byScenario[sc.Name]
		if !ok {
			so.Failed = true
			out.IsRobust = false
			out.Scenarios = append(out.Scenarios, so)
			continue
		}
		so.Sharpe = r.Sharpe
		so.MaxDrawdown = r.MaxDrawdown
		so.Volatility = r.Volatility
		if out.Baseline != nil {
			so.SharpeDelta = r.Sharpe - out.Baseline.Sharpe
			so.DrawdownDelta = r.MaxDrawdown - out.Baseline.MaxDrawdown
			so.VolatilityDelta = r.Volatility - out.Baseline.Volatility
		}
		if r.Sharpe <= e.cfg.Stress.RobustSharpe {
			out.IsRobust = false
		}
		if r.Sharpe < worst {
			worst = r.Sharpe
			out.WorstScenario = sc.Name
		}
		weighted += sc.Weight * r.Sharpe
		totalWeight += sc.Weight
		plain += r.Sharpe
		out.Scenarios = append(out.Scenarios, so)
	}

	switch {
	case totalWeight > 0:
		out.WeightedSharpe = weighted / totalWeight
	case len(byScenario) > 0:
		out.WeightedSharpe = plain / float64(len(byScenario))
	}
	if len(scenarios) == 0 {
		out.IsRobust = false
	}

	ranked := make([]ScenarioOutcome, len(out.Scenarios))
	copy(ranked, out.Scenarios)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Failed != ranked[j].Failed {
			return !ranked[i].Failed
		}
		return ranked[i].Sharpe > ranked[j].Sharpe
	})
	out.Ranking = make([]string, len(ranked))
	for i, so := range ranked {
		out.Ranking[i] = so.Scenario.Name
	}
	return out
}
