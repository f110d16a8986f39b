package rebalancing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/metrics"
	"github.com/aristath/quantlab/pkg/formulas"
)

// State is what a policy sees after a window
type State struct {
	// Step is the zero-based index of the window that just finished
	Step int
	// Current are the weights after drifting through the window
	Current domain.WeightVector
	// Target are the strategic weights the portfolio started from
	Target domain.WeightVector
	// Trailing holds each strategy's most recent returns, oldest first
	Trailing [][]float64
}

// TriggerResult represents the result of a rebalancing check
type TriggerResult struct {
	ShouldRebalance bool
	Reason          string
}

// Policy decides whether to rebalance and to which weights
type Policy interface {
	Name() Kind
	Check(s State) *TriggerResult
	Weights(s State) (domain.WeightVector, error)
}

// NewPolicy builds the policy named by cfg.Policy
func NewPolicy(cfg Config) (Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := bounds{min: cfg.MinWeight, max: cfg.MaxWeight}
	switch cfg.Policy {
	case KindFixed:
		return &fixedPolicy{frequency: cfg.Frequency, bounds: b}, nil
	case KindThreshold:
		return &thresholdPolicy{threshold: cfg.Threshold, bounds: b}, nil
	case KindVolatility:
		return &volatilityPolicy{threshold: cfg.VolatilityThreshold, lookback: cfg.Lookback, tradingDays: cfg.TradingDays, bounds: b}, nil
	case KindMomentum:
		return &momentumPolicy{threshold: cfg.MomentumThreshold, lookback: cfg.Lookback, tradingDays: cfg.TradingDays, bounds: b}, nil
	case KindInverseVolatility:
		return &scoredPolicy{kind: KindInverseVolatility, score: inverseVolatility, lookback: cfg.Lookback, bounds: b}, nil
	default:
		td := cfg.TradingDays
		perf := func(r []float64) float64 { return math.Max(metrics.Sharpe(r, 0, td), 0) }
		return &scoredPolicy{kind: KindPerformance, score: perf, lookback: cfg.Lookback, bounds: b}, nil
	}
}

type bounds struct {
	min, max float64
}

func (b bounds) apply(w []float64) (domain.WeightVector, error) {
	return domain.ApplyBounds(w, b.min, b.max)
}

type fixedPolicy struct {
	frequency int
	bounds
}

func (p *fixedPolicy) Name() Kind { return KindFixed }

func (p *fixedPolicy) Check(s State) *TriggerResult {
	if (s.Step+1)%p.frequency != 0 {
		return &TriggerResult{Reason: "not a scheduled window"}
	}
	return &TriggerResult{
		ShouldRebalance: true,
		Reason:          fmt.Sprintf("scheduled: every %d windows", p.frequency),
	}
}

func (p *fixedPolicy) Weights(s State) (domain.WeightVector, error) {
	return p.apply(s.Target)
}

type thresholdPolicy struct {
	threshold float64
	bounds
}

func (p *thresholdPolicy) Name() Kind { return KindThreshold }

func (p *thresholdPolicy) Check(s State) *TriggerResult {
	for i := range s.Current {
		drift := math.Abs(s.Current[i] - s.Target[i])
		if drift > p.threshold {
			return &TriggerResult{
				ShouldRebalance: true,
				Reason: fmt.Sprintf("weight drift: strategy %d drifted %.1f%% from target (threshold: %.1f%%)",
					i, drift*100, p.threshold*100),
			}
		}
	}
	return &TriggerResult{Reason: "no weight drift detected"}
}

func (p *thresholdPolicy) Weights(s State) (domain.WeightVector, error) {
	return p.apply(s.Target)
}

// volatilityPolicy resets to target once the annualized volatility of the
// trailing portfolio returns, held at the current weights, exceeds threshold
type volatilityPolicy struct {
	threshold   float64
	lookback    int
	tradingDays int
	bounds
}

func (p *volatilityPolicy) Name() Kind { return KindVolatility }

func (p *volatilityPolicy) Check(s State) *TriggerResult {
	r := trailingPortfolio(s, p.lookback)
	if len(r) < 2 {
		return &TriggerResult{Reason: fmt.Sprintf("%d trailing observations, volatility undefined", len(r))}
	}
	vol := formulas.StdDev(r) * math.Sqrt(float64(p.tradingDays))
	if vol > p.threshold {
		return &TriggerResult{
			ShouldRebalance: true,
			Reason:          fmt.Sprintf("trailing volatility %.1f%% above threshold %.1f%%", vol*100, p.threshold*100),
		}
	}
	return &TriggerResult{Reason: fmt.Sprintf("trailing volatility %.1f%% within threshold", vol*100)}
}

func (p *volatilityPolicy) Weights(s State) (domain.WeightVector, error) {
	return p.apply(s.Target)
}

// momentumPolicy resets to target once the annualized trailing mean return of
// the portfolio moves further than threshold from zero in either direction
type momentumPolicy struct {
	threshold   float64
	lookback    int
	tradingDays int
	bounds
}

func (p *momentumPolicy) Name() Kind { return KindMomentum }

func (p *momentumPolicy) Check(s State) *TriggerResult {
	r := trailingPortfolio(s, p.lookback)
	if len(r) == 0 {
		return &TriggerResult{Reason: "no trailing observations"}
	}
	drift := formulas.Mean(r) * float64(p.tradingDays)
	if math.Abs(drift) > p.threshold {
		return &TriggerResult{
			ShouldRebalance: true,
			Reason:          fmt.Sprintf("trailing momentum %+.1f%% beyond threshold %.1f%%", drift*100, p.threshold*100),
		}
	}
	return &TriggerResult{Reason: fmt.Sprintf("trailing momentum %+.1f%% within threshold", drift*100)}
}

func (p *momentumPolicy) Weights(s State) (domain.WeightVector, error) {
	return p.apply(s.Target)
}

// trailingPortfolio combines the last lookback trailing returns at the current weights
func trailingPortfolio(s State, lookback int) []float64 {
	if len(s.Trailing) == 0 || len(s.Trailing) != len(s.Current) {
		return nil
	}
	n := len(s.Trailing[0])
	for _, r := range s.Trailing[1:] {
		if len(r) < n {
			n = len(r)
		}
	}
	if n > lookback {
		n = lookback
	}
	out := make([]float64, n)
	for i, r := range s.Trailing {
		r = r[len(r)-n:]
		floats.AddScaled(out, s.Current[i], r)
	}
	return out
}

// scoredPolicy rebalances every window to weights proportional to a
// non-negative score of each strategy's trailing returns. When every score is
// zero the weights fall back to equal.
type scoredPolicy struct {
	kind     Kind
	score    func(r []float64) float64
	lookback int
	bounds
}

func (p *scoredPolicy) Name() Kind { return p.kind }

func (p *scoredPolicy) Check(State) *TriggerResult {
	return &TriggerResult{ShouldRebalance: true, Reason: fmt.Sprintf("adaptive: %s weights recomputed every window", p.kind)}
}

func (p *scoredPolicy) Weights(s State) (domain.WeightVector, error) {
	if len(s.Trailing) != len(s.Current) {
		return nil, domain.Invalid("%d trailing series for %d weights", len(s.Trailing), len(s.Current))
	}
	scores := make([]float64, len(s.Trailing))
	for i, r := range s.Trailing {
		if len(r) > p.lookback {
			r = r[len(r)-p.lookback:]
		}
		if len(r) < 2 {
			return nil, domain.Insufficient("strategy %d has %d trailing observations", i, len(r))
		}
		scores[i] = p.score(r)
	}
	if p.kind == KindInverseVolatility {
		fillZeroVolatility(scores)
	}
	if floats.Sum(scores) <= 0 {
		return p.apply(domain.EqualWeights(len(scores)))
	}
	return p.apply(scores)
}

func inverseVolatility(r []float64) float64 {
	sd := formulas.StdDev(r)
	if sd == 0 {
		return math.Inf(1)
	}
	return 1 / sd
}

// fillZeroVolatility gives riskless strategies the score of the least
// volatile risky one, or equal scores when every strategy is riskless.
func fillZeroVolatility(scores []float64) {
	best := 0.0
	for _, v := range scores {
		if !math.IsInf(v, 1) && v > best {
			best = v
		}
	}
	if best == 0 {
		best = 1
	}
	for i, v := range scores {
		if math.IsInf(v, 1) {
			scores[i] = best
		}
	}
}
