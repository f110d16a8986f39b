package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/optimization"
	"github.com/aristath/quantlab/internal/modules/partition"
	"github.com/aristath/quantlab/internal/modules/rebalancing"
)

// Component is one strategy of a model-driven portfolio
type Component struct {
	Name    string
	Factory domain.ModelFactory
}

// CombineReturns blends strategy return columns with fixed weights and
// subtracts drag from every period: r_t = Σ w_i·s_i,t − drag.
func CombineReturns(columns [][]float64, w domain.WeightVector, drag float64) []float64 {
	if len(columns) == 0 {
		return nil
	}
	out := make([]float64, len(columns[0]))
	for t := range out {
		sum := 0.0
		for i, col := range columns {
			sum += w[i] * col[t]
		}
		out[t] = sum - drag
	}
	return out
}

// Portfolio fits every component on the train part of a time split of
// series, predicts the test part and combines the resulting strategy returns
// with fixed weights. When weights is nil the configured optimizer is fitted
// on the components' in-sample returns; without an optimizer the weights are
// equal. Any component failing to fit or predict fails the portfolio.
func (e *Engine) Portfolio(ctx context.Context, series *domain.ReturnSeries, components []Component, weights domain.WeightVector) (*Run, error) {
	if err := checkComponents(series, components); err != nil {
		return nil, err
	}
	if weights != nil {
		if err := checkWeights(weights, len(components)); err != nil {
			return nil, err
		}
	}
	rs := e.begin(DriverPortfolio, series.Name(), 1)

	split, err := partition.TimeSplit(series, e.cfg.Split)
	if err != nil {
		return e.finish(rs, err)
	}
	fits, err := e.fitComponents(ctx, DriverPortfolio, 0, components, split)
	if err != nil {
		var ie *IterationError
		if errors.As(err, &ie) {
			e.recordFailure(rs, ie)
		}
		return e.finish(rs, err)
	}

	train := make([][]float64, len(fits))
	test := make([][]float64, len(fits))
	for i, f := range fits {
		train[i], test[i] = f.inSample, f.returns
	}
	trainPanel, err := componentPanel(split.Train, components, train)
	if err != nil {
		return e.finish(rs, err)
	}
	testPanel, err := componentPanel(split.Test, components, test)
	if err != nil {
		return e.finish(rs, err)
	}
	return e.holdStatic(ctx, rs, trainPanel, testPanel, split.Window, weights)
}

// PanelPortfolio combines already computed strategy return streams with fixed
// weights. When weights is nil and an optimizer is configured, the weights
// are estimated on the train part of a time split and the portfolio is
// scored on the test part; without an optimizer equal weights are used.
func (e *Engine) PanelPortfolio(ctx context.Context, panel *domain.Panel, weights domain.WeightVector) (*Run, error) {
	if err := checkPanel(panel); err != nil {
		return nil, err
	}
	if weights != nil {
		if err := checkWeights(weights, panel.Width()); err != nil {
			return nil, err
		}
	}
	rs := e.begin(DriverPortfolio, panelName(panel), 1)

	if weights != nil || e.cfg.Portfolio.Optimizer == "" {
		return e.holdStatic(ctx, rs, nil, panel, partition.Window{TestEnd: panel.Len()}, weights)
	}
	w, err := partition.TimeWindow(panel.Len(), e.cfg.Split)
	if err != nil {
		return e.finish(rs, err)
	}
	train, err := slicePanel(panel, w.TrainStart, w.TrainEnd)
	if err != nil {
		return e.finish(rs, err)
	}
	test, err := slicePanel(panel, w.TestStart, w.TestEnd)
	if err != nil {
		return e.finish(rs, err)
	}
	return e.holdStatic(ctx, rs, train, test, w, nil)
}

// holdStatic scores the weighted test panel as a single iteration. train may
// be nil when there is no in-sample span.
func (e *Engine) holdStatic(ctx context.Context, rs *runState, train, test *domain.Panel, window partition.Window, weights domain.WeightVector) (*Run, error) {
	po := &PortfolioOutcome{Drag: e.cfg.Portfolio.TransactionCost + e.cfg.Portfolio.Slippage}
	rs.run.Portfolio = po

	if weights == nil && e.cfg.Portfolio.Optimizer != "" && train != nil {
		res, err := e.optimizeWeights(train)
		if err != nil {
			e.recordFailure(rs, &IterationError{
				Driver: rs.run.Driver, Label: "optimize", Stage: StageOptimize,
				TrainStart: window.TrainStart, TrainEnd: window.TrainEnd, TestStart: window.TestStart, TestEnd: window.TestEnd, Err: err,
			})
			return e.finish(rs, err)
		}
		po.Optimization = res
		weights = res.Weights
	}
	if weights == nil {
		weights = domain.EqualWeights(test.Width())
	}
	if ctx.Err() != nil {
		return e.finish(rs, ctx.Err())
	}

	var inSample []float64
	if train != nil {
		inSample = CombineReturns(train.Columns(), weights, po.Drag)
	}
	combined := CombineReturns(test.Columns(), weights, po.Drag)
	po.Weights = weights
	po.Diversification = weights.Diversification()
	po.Strategies = e.strategyOutcomes(test.Names(), test.Columns(), weights)

	summary, err := e.calc.Compute(combined)
	if err != nil {
		e.recordFailure(rs, &IterationError{
			Driver: rs.run.Driver, Label: "portfolio", Stage: StageScore,
			TrainStart: window.TrainStart, TrainEnd: window.TrainEnd, TestStart: window.TestStart, TestEnd: window.TestEnd, Err: err,
		})
		return e.finish(rs, err)
	}
	po.Portfolio = summary

	first := test.Series(0)
	res := BacktestResult{
		Iteration:    0,
		Label:        "portfolio",
		Window:       window,
		TestFrom:     first.Start(),
		TestTo:       first.End(),
		Sharpe:       summary.Sharpe,
		MaxDrawdown:  summary.MaxDrawdown,
		TotalReturn:  summary.TotalReturn,
		AnnualReturn: summary.AnnualReturn,
		Volatility:   summary.Volatility,
		Sortino:      summary.Sortino,
		Calmar:       summary.Calmar,
		TrainSize:    window.TrainSize(),
		TestSize:     window.TestSize(),
		Metrics:      summary,
		Returns:      combined,
		InSample:     inSample,
	}
	rs.run.Attempted++
	e.observe(rs, outcome{index: 0, result: &res})
	rs.run.Results = append(rs.run.Results, res)
	return e.finish(rs, nil)
}

// optimizeWeights estimates μ and Σ on the train panel and runs the configured optimizer
func (e *Engine) optimizeWeights(train *domain.Panel) (*optimization.Result, error) {
	builder := optimization.NewRiskModelBuilder(e.log)
	problem, err := builder.EstimateProblem(train, optimization.RiskOptions{
		TradingDays: e.cfg.Metrics.TradingDays,
		Shrinkage:   e.cfg.Portfolio.Shrinkage,
	})
	if err != nil {
		return nil, err
	}
	opt, err := optimization.New(e.cfg.Portfolio.Optimizer, e.cfg.Portfolio.OptimizerParams, e.log)
	if err != nil {
		return nil, err
	}
	res, err := opt.Optimize(problem)
	if err != nil {
		return nil, fmt.Errorf("estimate portfolio weights: %w", err)
	}
	return res, nil
}

// strategyOutcomes scores every component over the same span as the portfolio
func (e *Engine) strategyOutcomes(names []string, columns [][]float64, weights domain.WeightVector) []StrategyOutcome {
	out := make([]StrategyOutcome, len(columns))
	for i, col := range columns {
		out[i] = StrategyOutcome{Name: names[i], Weight: weights[i]}
		summary, err := e.calc.Compute(col)
		if err != nil {
			out[i].Error = err.Error()
			continue
		}
		out[i].Metrics = summary
	}
	return out
}

// fitComponent is FIT → PREDICT for one portfolio component
func (e *Engine) fitComponent(driver Driver, iteration int, c Component, split partition.Split, j job) (o outcome) {
	start := time.Now()
	o.index = j.index
	stage := StageFit

	fail := func(err error) {
		o.fit = nil
		o.err = &IterationError{
			Driver:     driver,
			Iteration:  iteration,
			Label:      c.Name,
			TrainStart: split.TrainStart,
			TrainEnd:   split.TrainEnd,
			TestStart:  split.TestStart,
			TestEnd:    split.TestEnd,
			Stage:      stage,
			Err:        err,
		}
	}
	defer func() {
		if r := recover(); r != nil {
			fail(recovered(stage, r))
		}
		o.elapsed = time.Since(start)
	}()

	f, err := fitPredict(c.Factory, split, &stage)
	if err != nil {
		fail(err)
		return o
	}
	o.fit = f
	return o
}

// fitComponents fits every component on split in parallel, one fresh model
// each. The first failure in component order comes back as an *IterationError.
func (e *Engine) fitComponents(ctx context.Context, driver Driver, iteration int, components []Component, split partition.Split) ([]*fitted, error) {
	jobs := make([]job, len(components))
	for i, c := range components {
		jobs[i] = job{index: i, label: c.Name}
	}
	outcomes := e.pool.run(ctx, jobs, func(j job) outcome {
		return e.fitComponent(driver, iteration, components[j.index], split, j)
	}, nil)

	out := make([]*fitted, len(outcomes))
	for i, o := range outcomes {
		switch {
		case o.cancelled:
			return nil, ctx.Err()
		case o.err != nil:
			return nil, o.err
		}
		out[i] = o.fit
	}
	return out, nil
}

// windowSource yields each strategy's returns over the test range of rolling
// window w, and its trailing returns up to the end of that range
type windowSource func(ctx context.Context, k int, w partition.Window) (test, trailing [][]float64, err error)

// DynamicPortfolio repeats the model-driven portfolio on rolling windows:
// every component is refitted on each window's train range and predicts its
// test range, then the predictions are held with drifting weights. A window
// whose components cannot all be fitted is recorded as a failure and sat out.
func (e *Engine) DynamicPortfolio(ctx context.Context, series *domain.ReturnSeries, components []Component, initial domain.WeightVector) (*Run, error) {
	if err := checkComponents(series, components); err != nil {
		return nil, err
	}
	if initial == nil {
		initial = domain.EqualWeights(len(components))
	}
	if err := checkWeights(initial, len(components)); err != nil {
		return nil, err
	}
	checker, err := e.triggerChecker()
	if err != nil {
		return nil, err
	}
	windows, err := partition.Rolling(series.Len(), e.cfg.WalkForward)
	if err != nil {
		return nil, err
	}

	lookback := e.cfg.Rebalancing.Lookback
	source := func(ctx context.Context, k int, w partition.Window) ([][]float64, [][]float64, error) {
		fits, err := e.fitComponents(ctx, DriverDynamicPortfolio, k, components, w.Apply(series))
		if err != nil {
			return nil, nil, err
		}
		test := make([][]float64, len(fits))
		trailing := make([][]float64, len(fits))
		for i, f := range fits {
			test[i] = f.returns
			trailing[i] = lastN(append(append([]float64(nil), f.inSample...), f.returns...), lookback)
		}
		return test, trailing, nil
	}

	names := make([]string, len(components))
	for i, c := range components {
		names[i] = c.Name
	}
	rs := e.begin(DriverDynamicPortfolio, series.Name(), len(windows))
	return e.holdDynamic(ctx, rs, series, names, windows, initial, checker, source)
}

// PanelDynamicPortfolio holds already computed strategy return streams
// through consecutive walk-forward test windows.
func (e *Engine) PanelDynamicPortfolio(ctx context.Context, panel *domain.Panel, initial domain.WeightVector) (*Run, error) {
	if err := checkPanel(panel); err != nil {
		return nil, err
	}
	if initial == nil {
		initial = domain.EqualWeights(panel.Width())
	}
	if err := checkWeights(initial, panel.Width()); err != nil {
		return nil, err
	}
	checker, err := e.triggerChecker()
	if err != nil {
		return nil, err
	}
	windows, err := partition.Rolling(panel.Len(), e.cfg.WalkForward)
	if err != nil {
		return nil, err
	}

	columns := panel.Columns()
	lookback := e.cfg.Rebalancing.Lookback
	source := func(_ context.Context, _ int, w partition.Window) ([][]float64, [][]float64, error) {
		return sliceColumns(columns, w.TestStart, w.TestEnd), sliceColumns(columns, max(0, w.TestEnd-lookback), w.TestEnd), nil
	}

	rs := e.begin(DriverDynamicPortfolio, panelName(panel), len(windows))
	return e.holdDynamic(ctx, rs, panel.Series(0), panel.Names(), windows, initial, checker, source)
}

func (e *Engine) triggerChecker() (*rebalancing.TriggerChecker, error) {
	policy, err := rebalancing.NewPolicy(e.cfg.Rebalancing)
	if err != nil {
		return nil, err
	}
	return rebalancing.NewTriggerChecker(policy, e.log), nil
}

// holdDynamic walks the windows in order. Weights drift with returns inside a
// window; after each window the trigger checker may move them, smoothed
// against the drifted weights, and the turnover cost is charged on the
// window's last period. clock supplies the timestamps of window positions.
func (e *Engine) holdDynamic(ctx context.Context, rs *runState, clock *domain.ReturnSeries, names []string, windows []partition.Window,
	initial domain.WeightVector, checker *rebalancing.TriggerChecker, source windowSource) (*Run, error) {
	rb := e.cfg.Rebalancing
	policy := checker.Policy()
	drag := e.cfg.Portfolio.TransactionCost + e.cfg.Portfolio.Slippage
	po := &PortfolioOutcome{Drag: drag, Policy: string(policy.Name())}
	rs.run.Portfolio = po

	current := initial.Clone()
	var combined []float64
	held := make([][]float64, len(names))
	prevEnd := 0
	period := make([]float64, len(names))

	for k, w := range windows {
		if ctx.Err() != nil {
			rs.run.Cancelled = true
			break
		}
		from := max(w.TestStart, prevEnd)
		if from >= w.TestEnd {
			continue
		}

		test, trailing, err := source(ctx, k, w)
		if err != nil {
			var ie *IterationError
			if !errors.As(err, &ie) {
				if ctx.Err() != nil {
					rs.run.Cancelled = true
					break
				}
				return e.finish(rs, err)
			}
			e.recordFailure(rs, ie)
			if e.cfg.FailOnModelError && isModelError(ie) {
				return e.finish(rs, ie)
			}
			continue
		}
		prevEnd = w.TestEnd

		offset := from - w.TestStart
		window := make([]float64, 0, w.TestEnd-from)
		for t := offset; t < len(test[0]); t++ {
			sum := 0.0
			for i, col := range test {
				period[i] = col[t]
				sum += current[i] * col[t]
			}
			window = append(window, sum-drag)
			current = rebalancing.Drift(current, period)
		}
		for i, col := range test {
			held[i] = append(held[i], col[offset:]...)
		}

		snap := WeightSnapshot{Window: k, Time: clock.Time(w.TestEnd - 1), Drifted: current.Clone()}
		state := rebalancing.State{
			Step:     k,
			Current:  current,
			Target:   initial,
			Trailing: trailing,
		}
		trigger := checker.CheckRebalanceTriggers(state)
		snap.Reason = trigger.Reason
		if trigger.ShouldRebalance {
			computed, err := policy.Weights(state)
			if err == nil {
				computed, err = rebalancing.Smooth(computed, current, rb.Smoothing, rb.MinWeight, rb.MaxWeight)
			}
			if err != nil {
				return e.finish(rs, fmt.Errorf("rebalance after window %d: %w", k, err))
			}
			snap.Turnover = current.L1Distance(computed)
			snap.Cost = rebalancing.TurnoverCost(current, computed, rb.CostRate)
			snap.Rebalanced = true
			window[len(window)-1] -= snap.Cost
			current = computed
			po.Rebalances++
			po.TotalCost += snap.Cost
			po.TotalTurnover += snap.Turnover
		}
		snap.Weights = current.Clone()
		po.History = append(po.History, snap)
		combined = append(combined, window...)

		e.scoreWindow(rs, clock, w, from, window)
	}

	if len(combined) == 0 {
		return e.finish(rs, domain.Insufficient("no rebalancing window was held"))
	}
	summary, err := e.calc.Compute(combined)
	if err != nil {
		return e.finish(rs, err)
	}
	po.Portfolio = summary
	po.Weights = current
	po.Diversification = current.Diversification()
	po.Strategies = e.strategyOutcomes(names, held, current)
	rs.run.Validation = e.validator.Validate(nil, combined)

	rs.log.Info().
		Str("policy", po.Policy).
		Int("rebalances", po.Rebalances).
		Float64("total_cost", po.TotalCost).
		Msg("Dynamic portfolio held")
	return e.finish(rs, nil)
}

// scoreWindow records the held returns of one window as an iteration
func (e *Engine) scoreWindow(rs *runState, clock *domain.ReturnSeries, w partition.Window, from int, held []float64) {
	k := w.Index
	held = append([]float64(nil), held...)
	window := partition.Window{Index: k, TrainStart: w.TrainStart, TrainEnd: w.TrainEnd, TestStart: from, TestEnd: w.TestEnd}
	label := windowLabel(clock, window)
	summary, err := e.calc.Compute(held)
	if err != nil {
		e.recordFailure(rs, &IterationError{
			Driver: DriverDynamicPortfolio, Iteration: k, Label: label, Stage: StageScore,
			TrainStart: w.TrainStart, TrainEnd: w.TrainEnd, TestStart: from, TestEnd: w.TestEnd, Err: err,
		})
		return
	}
	res := BacktestResult{
		Iteration:    k,
		Label:        label,
		Window:       window,
		TestFrom:     clock.Time(from),
		TestTo:       clock.Time(w.TestEnd - 1),
		Sharpe:       summary.Sharpe,
		MaxDrawdown:  summary.MaxDrawdown,
		TotalReturn:  summary.TotalReturn,
		AnnualReturn: summary.AnnualReturn,
		Volatility:   summary.Volatility,
		Sortino:      summary.Sortino,
		Calmar:       summary.Calmar,
		TrainSize:    w.TrainSize(),
		TestSize:     len(held),
		Metrics:      summary,
		Returns:      held,
	}
	rs.run.Attempted++
	e.observe(rs, outcome{index: k, result: &res})
	rs.run.Results = append(rs.run.Results, res)
}

// recordFailure counts a failed iteration and publishes it
func (e *Engine) recordFailure(rs *runState, ie *IterationError) {
	rs.run.Attempted++
	e.observe(rs, outcome{index: ie.Iteration, err: ie})
	rs.run.Failures = append(rs.run.Failures, ie)
}

func componentPanel(base *domain.ReturnSeries, components []Component, columns [][]float64) (*domain.Panel, error) {
	series := make([]*domain.ReturnSeries, len(components))
	for i, c := range components {
		s, err := base.WithReturns(c.Name, columns[i])
		if err != nil {
			return nil, err
		}
		series[i] = s
	}
	return domain.NewPanel(series...)
}

func slicePanel(panel *domain.Panel, start, end int) (*domain.Panel, error) {
	series := make([]*domain.ReturnSeries, panel.Width())
	for i := range series {
		series[i] = panel.Series(i).Slice(start, end)
	}
	return domain.NewPanel(series...)
}

func sliceColumns(columns [][]float64, start, end int) [][]float64 {
	out := make([][]float64, len(columns))
	for i, col := range columns {
		out[i] = col[start:end:end]
	}
	return out
}

func lastN(values []float64, n int) []float64 {
	if len(values) > n {
		return values[len(values)-n:]
	}
	return values
}

func checkComponents(series *domain.ReturnSeries, components []Component) error {
	if series == nil || series.Len() == 0 {
		return domain.Insufficient("empty return series")
	}
	if series.HasNaN() {
		return domain.Invalid("series %q contains NaN or Inf returns", series.Name())
	}
	if len(components) == 0 {
		return domain.Invalid("a portfolio needs at least one strategy")
	}
	seen := make(map[string]bool, len(components))
	for i, c := range components {
		if c.Name == "" {
			return domain.Invalid("strategy %d needs a name", i)
		}
		if seen[c.Name] {
			return domain.Invalid("duplicate strategy name %q", c.Name)
		}
		seen[c.Name] = true
		if c.Factory == nil {
			return domain.Invalid("strategy %q has no model factory", c.Name)
		}
	}
	return nil
}

func checkPanel(panel *domain.Panel) error {
	if panel == nil || panel.Width() == 0 {
		return domain.Invalid("a portfolio needs at least one strategy")
	}
	if panel.Len() == 0 {
		return domain.Insufficient("empty strategy returns")
	}
	for i := 0; i < panel.Width(); i++ {
		if panel.Series(i).HasNaN() {
			return domain.Invalid("strategy %q contains NaN or Inf returns", panel.Series(i).Name())
		}
	}
	return nil
}

func checkWeights(w domain.WeightVector, n int) error {
	if len(w) != n {
		return domain.Invalid("%d weights for %d strategies", len(w), n)
	}
	return w.Validate()
}

func panelName(panel *domain.Panel) string {
	names := panel.Names()
	if len(names) == 1 {
		return names[0]
	}
	return fmt.Sprintf("%s+%d", names[0], len(names)-1)
}
