package simulation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/optimization"
	"github.com/aristath/quantlab/internal/modules/rebalancing"
	testingpkg "github.com/aristath/quantlab/internal/testing"
)

func constantPanel(t *testing.T, n int, values ...float64) *domain.Panel {
	t.Helper()
	series := make([]*domain.ReturnSeries, len(values))
	for i, v := range values {
		series[i] = testingpkg.NewConstantSeries(string(rune('a'+i)), n, v)
	}
	panel, err := domain.NewPanel(series...)
	require.NoError(t, err)
	return panel
}

func TestCombineReturns(t *testing.T) {
	columns := [][]float64{{0.01}, {0.02}, {-0.01}}
	got := CombineReturns(columns, domain.WeightVector{0.5, 0.3, 0.2}, 0)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.009, got[0], 1e-12)

	got = CombineReturns(columns, domain.WeightVector{0.5, 0.3, 0.2}, 0.001)
	assert.InDelta(t, 0.008, got[0], 1e-12)
}

func TestPanelPortfolio_FixedWeights(t *testing.T) {
	panel := constantPanel(t, 60, 0.01, 0.02, -0.01)
	e := newTestEngine(t, nil)

	run, err := e.PanelPortfolio(context.Background(), panel, domain.WeightVector{0.5, 0.3, 0.2})
	require.NoError(t, err)
	require.Len(t, run.Results, 1)

	po := run.Portfolio
	require.NotNil(t, po.Portfolio)
	assert.InDelta(t, 0.009*252, po.Portfolio.AnnualReturn, 1e-9)
	assert.InDelta(t, 1/0.38, po.Diversification.EffectiveN, 1e-9)
	assert.InDelta(t, 0.38, po.Diversification.Herfindahl, 1e-12)
	require.Len(t, po.Strategies, 3)
	assert.Equal(t, "b", po.Strategies[1].Name)
	assert.InDelta(t, 0.02*252, po.Strategies[1].Metrics.AnnualReturn, 1e-9)
	assert.Nil(t, po.Optimization)
}

func TestPanelPortfolio_Drag(t *testing.T) {
	panel := constantPanel(t, 60, 0.01, 0.02, -0.01)
	e := newTestEngine(t, func(c *Config) {
		c.Portfolio.TransactionCost = 0.0005
		c.Portfolio.Slippage = 0.0005
	})
	run, err := e.PanelPortfolio(context.Background(), panel, domain.WeightVector{0.5, 0.3, 0.2})
	require.NoError(t, err)
	assert.InDelta(t, 0.001, run.Portfolio.Drag, 1e-12)
	assert.InDelta(t, 0.008*252, run.Portfolio.Portfolio.AnnualReturn, 1e-9)
}

func TestPanelPortfolio_RejectsMalformedWeights(t *testing.T) {
	panel := constantPanel(t, 60, 0.01, 0.02, -0.01)
	e := newTestEngine(t, nil)

	_, err := e.PanelPortfolio(context.Background(), panel, domain.WeightVector{0.6, 0.5, -0.1})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.PanelPortfolio(context.Background(), panel, domain.WeightVector{0.5, 0.5})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPanelPortfolio_EqualWeightsWithoutOptimizer(t *testing.T) {
	e := newTestEngine(t, nil)
	run, err := e.PanelPortfolio(context.Background(), testingpkg.NewPanelFixture(100, 4, 1), nil)
	require.NoError(t, err)
	for _, w := range run.Portfolio.Weights {
		assert.InDelta(t, 0.25, w, 1e-12)
	}
}

func TestPanelPortfolio_OptimizedWeights(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.Portfolio.Optimizer = optimization.MethodMinVariance })
	run, err := e.PanelPortfolio(context.Background(), testingpkg.NewPanelFixture(300, 3, 11), nil)
	require.NoError(t, err)

	po := run.Portfolio
	require.NotNil(t, po.Optimization)
	assert.Equal(t, optimization.MethodMinVariance, po.Optimization.Method)
	assert.InDelta(t, 1.0, floats.Sum(po.Weights), 1e-6)
	// s0 is the least volatile strategy
	assert.Greater(t, po.Weights[0], po.Weights[2])

	res := run.Results[0]
	assert.Equal(t, 210, res.TrainSize)
	assert.Equal(t, 90, res.TestSize)
	assert.Len(t, res.InSample, 210)
	require.NotNil(t, run.Validation)
}

func TestPanelDynamicPortfolio_FixedPolicy(t *testing.T) {
	panel := testingpkg.NewPanelFixture(600, 3, 21)
	e := newTestEngine(t, nil)

	run, err := e.PanelDynamicPortfolio(context.Background(), panel, nil)
	require.NoError(t, err)
	po := run.Portfolio
	assert.Equal(t, string(rebalancing.KindFixed), po.Policy)
	require.Len(t, po.History, 5)
	assert.Equal(t, 5, po.Rebalances)
	assert.Len(t, run.Results, 5)

	totalCost := 0.0
	for _, snap := range po.History {
		assert.True(t, snap.Rebalanced)
		assert.InDelta(t, 0.001*snap.Turnover, snap.Cost, 1e-15)
		assert.InDelta(t, 1.0, floats.Sum(snap.Weights), 1e-6)
		for _, w := range snap.Weights {
			assert.InDelta(t, 1.0/3, w, 1e-9)
		}
		totalCost += snap.Cost
	}
	assert.Greater(t, totalCost, 0.0)
	assert.InDelta(t, totalCost, po.TotalCost, 1e-15)
	assert.Equal(t, 315, po.Portfolio.Periods)
}

func TestPanelDynamicPortfolio_ThresholdNeverTriggered(t *testing.T) {
	panel := testingpkg.NewPanelFixture(600, 3, 21)
	e := newTestEngine(t, func(c *Config) {
		c.Rebalancing.Policy = rebalancing.KindThreshold
		c.Rebalancing.Threshold = 0.9
	})

	run, err := e.PanelDynamicPortfolio(context.Background(), panel, domain.WeightVector{0.5, 0.25, 0.25})
	require.NoError(t, err)
	po := run.Portfolio
	assert.Equal(t, 0, po.Rebalances)
	assert.Equal(t, 0.0, po.TotalCost)
	for _, snap := range po.History {
		assert.False(t, snap.Rebalanced)
		assert.Equal(t, snap.Drifted, snap.Weights)
		assert.Equal(t, "no weight drift detected", snap.Reason)
	}
}

func TestPanelDynamicPortfolio_VolatilityTrigger(t *testing.T) {
	panel := testingpkg.NewPanelFixture(600, 3, 21)

	tests := []struct {
		name      string
		threshold float64
		triggered bool
	}{
		{"calm market", 5, false},
		{"volatile market", 0.01, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, func(c *Config) {
				c.Rebalancing.Policy = rebalancing.KindVolatility
				c.Rebalancing.VolatilityThreshold = tt.threshold
			})
			run, err := e.PanelDynamicPortfolio(context.Background(), panel, domain.WeightVector{0.5, 0.25, 0.25})
			require.NoError(t, err)

			po := run.Portfolio
			require.Len(t, po.History, 5)
			for _, snap := range po.History {
				assert.Equal(t, tt.triggered, snap.Rebalanced)
				assert.Contains(t, snap.Reason, "trailing volatility")
				if tt.triggered {
					assert.InDelta(t, 0.5, snap.Weights[0], 1e-9)
				}
			}
		})
	}
}

func TestPanelDynamicPortfolio_InverseVolatilityFavoursCalmStrategy(t *testing.T) {
	panel := testingpkg.NewPanelFixture(600, 3, 21)
	e := newTestEngine(t, func(c *Config) { c.Rebalancing.Policy = rebalancing.KindInverseVolatility })

	run, err := e.PanelDynamicPortfolio(context.Background(), panel, nil)
	require.NoError(t, err)
	final := run.Portfolio.Weights
	assert.Greater(t, final[0], final[1])
	assert.Greater(t, final[1], final[2])
}

func stubComponents(stubs map[string]*testingpkg.StubModel, names ...string) []Component {
	out := make([]Component, len(names))
	for i, name := range names {
		stub := stubs[name]
		out[i] = Component{Name: name, Factory: func() domain.StrategyModel { return stub }}
	}
	return out
}

func constantSignal(n int, v float64) domain.PredictionSeries {
	out := make(domain.PredictionSeries, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestPortfolio_FitsEveryStrategyOnce(t *testing.T) {
	series := testingpkg.NewConstantSeries("spx", 200, 0.01)
	stubs := map[string]*testingpkg.StubModel{"long": testingpkg.NewStubModel(1), "half": testingpkg.NewStubModel(0.5)}
	e := newTestEngine(t, nil)

	run, err := e.Portfolio(context.Background(), series, stubComponents(stubs, "long", "half"), domain.WeightVector{0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, stubs["long"].Fits())
	assert.Equal(t, 1, stubs["half"].Fits())

	require.Len(t, run.Results, 1)
	res := run.Results[0]
	assert.Equal(t, 140, res.TrainSize)
	assert.Equal(t, 60, res.TestSize)
	assert.Len(t, res.InSample, 140)

	po := run.Portfolio
	assert.InDelta(t, 0.0075*252, po.Portfolio.AnnualReturn, 1e-9)
	require.Len(t, po.Strategies, 2)
	assert.Equal(t, "half", po.Strategies[1].Name)
	assert.InDelta(t, 0.005*252, po.Strategies[1].Metrics.AnnualReturn, 1e-9)
}

func TestPortfolio_ModelSeesTrainThenTest(t *testing.T) {
	series := testingpkg.NewSeriesFixture("spx", 200, 5)
	isTrain := mock.MatchedBy(func(s *domain.ReturnSeries) bool { return s.Len() == 140 })
	isTest := mock.MatchedBy(func(s *domain.ReturnSeries) bool { return s.Len() == 60 })

	model := &testingpkg.MockStrategyModel{}
	model.On("Fit", isTrain).Return(nil).Once()
	model.On("Predict", isTest).Return(constantSignal(60, 1), nil).Once()
	model.On("Predict", isTrain).Return(constantSignal(140, 1), nil).Once()

	e := newTestEngine(t, nil)
	components := []Component{{Name: "mock", Factory: func() domain.StrategyModel { return model }}}
	run, err := e.Portfolio(context.Background(), series, components, nil)
	require.NoError(t, err)
	model.AssertExpectations(t)

	// a single long strategy reproduces the test span
	assert.Equal(t, series.Returns()[140:], run.Results[0].Returns)
}

func TestPortfolio_OptimizerUsesInSampleStrategyReturns(t *testing.T) {
	series := testingpkg.NewSeriesFixture("spx", 300, 9)
	stubs := map[string]*testingpkg.StubModel{"calm": testingpkg.NewStubModel(0.2), "wild": testingpkg.NewStubModel(1.5)}
	e := newTestEngine(t, func(c *Config) { c.Portfolio.Optimizer = optimization.MethodRiskParity })

	run, err := e.Portfolio(context.Background(), series, stubComponents(stubs, "calm", "wild"), nil)
	require.NoError(t, err)
	po := run.Portfolio
	require.NotNil(t, po.Optimization)
	assert.Greater(t, po.Weights[0], po.Weights[1])
}

func TestPortfolio_StrategyFailureFailsRun(t *testing.T) {
	series := testingpkg.NewSeriesFixture("spx", 200, 5)
	broken := testingpkg.NewStubModel(1)
	broken.SetFitError(errors.New("no convergence"))
	stubs := map[string]*testingpkg.StubModel{"ok": testingpkg.NewStubModel(1), "broken": broken}
	e := newTestEngine(t, nil)

	_, err := e.Portfolio(context.Background(), series, stubComponents(stubs, "ok", "broken"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTraining)

	var ie *IterationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "broken", ie.Label)
	assert.Equal(t, StageFit, ie.Stage)
}

func TestPortfolio_RejectsMalformedComponents(t *testing.T) {
	series := testingpkg.NewSeriesFixture("spx", 200, 5)
	e := newTestEngine(t, nil)
	factory := testingpkg.StubFactory(1)

	tests := map[string][]Component{
		"none":       nil,
		"unnamed":    {{Factory: factory}},
		"duplicate":  {{Name: "a", Factory: factory}, {Name: "a", Factory: factory}},
		"no factory": {{Name: "a"}},
	}
	for name, components := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := e.Portfolio(context.Background(), series, components, nil)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestDynamicPortfolio_RefitsEveryWindow(t *testing.T) {
	series := testingpkg.NewSeriesFixture("spx", 600, 21)
	stubs := map[string]*testingpkg.StubModel{"long": testingpkg.NewStubModel(1), "short": testingpkg.NewStubModel(-1)}
	e := newTestEngine(t, nil)

	run, err := e.DynamicPortfolio(context.Background(), series, stubComponents(stubs, "long", "short"), domain.WeightVector{0.6, 0.4})
	require.NoError(t, err)
	assert.Equal(t, 5, stubs["long"].Fits())
	assert.Equal(t, 5, stubs["short"].Fits())

	po := run.Portfolio
	require.Len(t, po.History, 5)
	assert.Len(t, run.Results, 5)
	assert.Equal(t, 315, po.Portfolio.Periods)
	for _, snap := range po.History {
		assert.True(t, snap.Rebalanced)
		assert.InDelta(t, 0.6, snap.Weights[0], 1e-9)
		assert.NotEmpty(t, snap.Reason)
	}
	require.Len(t, po.Strategies, 2)
	assert.Equal(t, "short", po.Strategies[1].Name)
	assert.Equal(t, 315, po.Strategies[1].Metrics.Periods)
}

func TestDynamicPortfolio_SitsOutWindowWhenAStrategyFails(t *testing.T) {
	series := testingpkg.NewSeriesFixture("spx", 600, 21)
	var builds atomic.Int32
	flaky := func() domain.StrategyModel {
		m := testingpkg.NewStubModel(1)
		if builds.Add(1) == 3 {
			m.SetFitError(errors.New("singular design"))
		}
		return m
	}
	components := []Component{
		{Name: "steady", Factory: testingpkg.StubFactory(1)},
		{Name: "flaky", Factory: flaky},
	}

	e := newTestEngine(t, nil)
	run, err := e.DynamicPortfolio(context.Background(), series, components, nil)
	require.NoError(t, err)
	require.Len(t, run.Failures, 1)
	failure := run.Failures[0]
	assert.Equal(t, 2, failure.Iteration)
	assert.Equal(t, "flaky", failure.Label)
	assert.Equal(t, StageFit, failure.Stage)
	assert.Len(t, run.Portfolio.History, 4)
	assert.Equal(t, 5, run.Attempted)

	builds.Store(0)
	strict := newTestEngine(t, func(c *Config) { c.FailOnModelError = true })
	_, err = strict.DynamicPortfolio(context.Background(), series, components, nil)
	assert.ErrorIs(t, err, domain.ErrTraining)
}
