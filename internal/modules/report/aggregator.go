package report

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/simulation"
	"github.com/aristath/quantlab/pkg/formulas"
)

// DefaultTopN is how many iterations Build ranks
const DefaultTopN = 20

// Aggregator turns runs into reports
type Aggregator struct {
	confidence float64
	topN       int
	now        func() time.Time
	log        zerolog.Logger
}

// NewAggregator creates an aggregator producing confidence intervals at the given level
func NewAggregator(confidence float64, log zerolog.Logger) (*Aggregator, error) {
	if confidence <= 0 || confidence >= 1 {
		return nil, domain.Invalid("confidence level must be in (0,1), got %g", confidence)
	}
	return &Aggregator{
		confidence: confidence,
		topN:       DefaultTopN,
		now:        time.Now,
		log:        log.With().Str("component", "report_aggregator").Logger(),
	}, nil
}

// SetTopN changes the ranking length; n <= 0 ranks every iteration
func (a *Aggregator) SetTopN(n int) {
	a.topN = n
}

// Build aggregates runs into one report. Runs of the same driver share a summary.
func (a *Aggregator) Build(runs ...*simulation.Run) (*Report, error) {
	if len(runs) == 0 {
		return nil, domain.Invalid("a report needs at least one run")
	}

	r := &Report{
		ID:              uuid.New().String(),
		Series:          runs[0].Series,
		CreatedAt:       a.now().UTC(),
		Summary:         make(map[string]*Summary),
		FailuresByStage: make(map[string]int),
		Runs:            runs,
	}

	byDriver := make(map[string][]*simulation.Run)
	for _, run := range runs {
		if run == nil {
			return nil, domain.Invalid("nil run")
		}
		name := string(run.Driver)
		if _, seen := byDriver[name]; !seen {
			r.Drivers = append(r.Drivers, name)
		}
		byDriver[name] = append(byDriver[name], run)
		r.Duration += run.FinishedAt.Sub(run.StartedAt).Seconds()

		if r.Validation == nil && run.Validation != nil {
			r.Validation = run.Validation
		}
		for _, f := range run.Failures {
			r.Failures = append(r.Failures, newFailure(f))
			r.FailuresByStage[string(f.Stage)]++
		}
	}

	for _, name := range r.Drivers {
		r.Summary[name] = a.summarize(name, byDriver[name])
	}
	r.Rankings = a.rank(runs)

	a.log.Debug().
		Str("report_id", r.ID).
		Strs("drivers", r.Drivers).
		Int("failures", len(r.Failures)).
		Msg("Report built")
	return r, nil
}

func (a *Aggregator) summarize(driver string, runs []*simulation.Run) *Summary {
	s := &Summary{Driver: driver}
	var sharpes, drawdowns, totals, annuals, vols, sortinos []float64
	profitable := 0
	for _, run := range runs {
		s.Iterations += run.Attempted
		s.Failed += len(run.Failures)
		for _, res := range run.Results {
			sharpes = append(sharpes, res.Sharpe)
			drawdowns = append(drawdowns, res.MaxDrawdown)
			totals = append(totals, res.TotalReturn)
			annuals = append(annuals, res.AnnualReturn)
			vols = append(vols, res.Volatility)
			sortinos = append(sortinos, res.Sortino)
			if res.TotalReturn > 0 {
				profitable++
			}
		}
	}
	s.Succeeded = len(sharpes)
	if s.Iterations > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Iterations)
	}
	if s.Succeeded == 0 {
		return s
	}

	s.MeanSharpe = formulas.Mean(sharpes)
	s.StdSharpe = formulas.StdDev(sharpes)
	s.MeanMaxDrawdown = formulas.Mean(drawdowns)
	s.MeanTotalReturn = formulas.Mean(totals)
	s.MeanAnnualReturn = formulas.Mean(annuals)
	s.MeanVolatility = formulas.Mean(vols)
	s.MeanSortino = formulas.Mean(sortinos)
	s.ProfitableRate = float64(profitable) / float64(s.Succeeded)

	sorted := formulas.Sorted(sharpes)
	s.MinSharpe = sorted[0]
	s.MaxSharpe = sorted[len(sorted)-1]
	s.SharpePercentiles = Percentiles{
		P5:  formulas.Quantile(sorted, 0.05),
		P25: formulas.Quantile(sorted, 0.25),
		P50: formulas.Quantile(sorted, 0.50),
		P75: formulas.Quantile(sorted, 0.75),
		P95: formulas.Quantile(sorted, 0.95),
	}
	s.SharpeCI = MeanInterval(sharpes, a.confidence)
	return s
}

// MeanInterval is the two-sided Student-t confidence interval of the mean.
// With fewer than two values, or no dispersion, it collapses to the mean.
func MeanInterval(values []float64, level float64) ConfidenceInterval {
	mean := formulas.Mean(values)
	ci := ConfidenceInterval{Level: level, Lower: mean, Upper: mean}
	n := len(values)
	sd := formulas.StdDev(values)
	if n < 2 || sd == 0 {
		return ci
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}.Quantile(0.5 + level/2)
	half := t * sd / math.Sqrt(float64(n))
	ci.Lower = mean - half
	ci.Upper = mean + half
	return ci
}

// rank orders every successful iteration by Sharpe, best first. Ties keep run order.
func (a *Aggregator) rank(runs []*simulation.Run) []Ranking {
	var all []Ranking
	for _, run := range runs {
		for _, res := range run.Results {
			all = append(all, Ranking{
				Driver:      string(run.Driver),
				Iteration:   res.Iteration,
				Label:       res.Label,
				Sharpe:      res.Sharpe,
				MaxDrawdown: res.MaxDrawdown,
				TotalReturn: res.TotalReturn,
			})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Sharpe > all[j].Sharpe })
	if a.topN > 0 && len(all) > a.topN {
		all = all[:a.topN]
	}
	for i := range all {
		all[i].Rank = i + 1
	}
	return all
}

func newFailure(e *simulation.IterationError) Failure {
	f := Failure{
		Driver:     string(e.Driver),
		Iteration:  e.Iteration,
		Label:      e.Label,
		Stage:      string(e.Stage),
		TrainStart: e.TrainStart,
		TrainEnd:   e.TrainEnd,
		TestStart:  e.TestStart,
		TestEnd:    e.TestEnd,
	}
	if e.Err != nil {
		f.Reason = e.Err.Error()
	}
	return f
}
