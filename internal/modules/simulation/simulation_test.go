package simulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/modules/metrics"
	testingpkg "github.com/aristath/quantlab/internal/testing"
)

func newTestEngine(t *testing.T, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.NJobs = 4
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(cfg, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return e
}

// flakyModel fails Predict on the test window starting at failAt
type flakyModel struct {
	failAt time.Time
}

func (m *flakyModel) Fit(*domain.ReturnSeries) error { return nil }

func (m *flakyModel) Predict(test *domain.ReturnSeries) (domain.PredictionSeries, error) {
	if test.Start().Equal(m.failAt) {
		return nil, errors.New("model diverged")
	}
	out := make(domain.PredictionSeries, test.Len())
	for i := range out {
		out[i] = 1
	}
	return out, nil
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Version = 0
	assert.ErrorIs(t, cfg.Validate(), domain.ErrValidation)

	cfg = DefaultConfig()
	cfg.MonteCarlo.Simulations = 0
	assert.ErrorIs(t, cfg.Validate(), domain.ErrValidation)

	cfg = DefaultConfig()
	cfg.Portfolio.Optimizer = "magic"
	assert.ErrorIs(t, cfg.Validate(), domain.ErrValidation)

	cfg = DefaultConfig()
	cfg.Split.TrainFraction = 0.9
	_, err := NewEngine(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSimple(t *testing.T) {
	series := testingpkg.NewSeriesFixture("spy", 300, 1)
	e := newTestEngine(t, nil)

	run, err := e.Simple(context.Background(), series, testingpkg.StubFactory(1))
	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	assert.Equal(t, DriverSimple, run.Driver)
	assert.NotEmpty(t, run.ID)

	res := run.Results[0]
	assert.Equal(t, 210, res.TrainSize)
	assert.Equal(t, 90, res.TestSize)
	assert.Equal(t, series.Time(210), res.TestFrom)
	assert.InDelta(t, metrics.Sharpe(series.Returns()[210:], 0, 252), res.Sharpe, 1e-12)
	assert.LessOrEqual(t, res.MaxDrawdown, 0.0)
	assert.Len(t, res.InSample, 210)
	assert.Nil(t, res.Predictions)
	require.NotNil(t, run.Validation)
	assert.Equal(t, 90, run.Validation.Observations)
}

func TestSimple_KeepPredictions(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.KeepPredictions = true })
	run, err := e.Simple(context.Background(), testingpkg.NewSeriesFixture("x", 200, 2), testingpkg.StubFactory(0.5))
	require.NoError(t, err)
	assert.Len(t, run.Results[0].Predictions, 60)
	assert.Equal(t, 0.5, run.Results[0].Predictions[0])
}

func TestSimple_InsufficientData(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Simple(context.Background(), testingpkg.NewSeriesFixture("x", 50, 1), testingpkg.StubFactory(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestSimple_ModelFailureIsSkipped(t *testing.T) {
	model := &testingpkg.MockStrategyModel{}
	model.On("Fit", mock.Anything).Return(errors.New("singular design matrix"))
	factory := func() domain.StrategyModel { return model }

	e := newTestEngine(t, nil)
	_, err := e.Simple(context.Background(), testingpkg.NewSeriesFixture("x", 200, 1), factory)
	require.Error(t, err)
	// every iteration failed, so the run has nothing to aggregate
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
	assert.Contains(t, err.Error(), "singular design matrix")
	model.AssertNotCalled(t, "Predict", mock.Anything)
}

func TestSimple_FailOnModelError(t *testing.T) {
	model := &testingpkg.MockStrategyModel{}
	model.On("Fit", mock.Anything).Return(nil)
	model.On("Predict", mock.Anything).Return(nil, errors.New("nan weights"))
	factory := func() domain.StrategyModel { return model }

	e := newTestEngine(t, func(c *Config) { c.FailOnModelError = true })
	_, err := e.Simple(context.Background(), testingpkg.NewSeriesFixture("x", 200, 1), factory)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPrediction)

	var ie *IterationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, StagePredict, ie.Stage)
	assert.Equal(t, 140, ie.TrainEnd)
	assert.Equal(t, 200, ie.TestEnd)
}

func TestSimple_MisalignedPredictions(t *testing.T) {
	model := &testingpkg.MockStrategyModel{}
	model.On("Fit", mock.Anything).Return(nil)
	model.On("Predict", mock.Anything).Return(domain.PredictionSeries{1, 1}, nil)

	e := newTestEngine(t, func(c *Config) { c.FailOnModelError = true })
	_, err := e.Simple(context.Background(), testingpkg.NewSeriesFixture("x", 200, 1),
		func() domain.StrategyModel { return model })
	assert.ErrorIs(t, err, domain.ErrPrediction)
}

func TestWalkForward(t *testing.T) {
	series := testingpkg.NewSeriesFixture("qqq", 600, 3)
	e := newTestEngine(t, nil)

	run, err := e.WalkForward(context.Background(), series, testingpkg.StubFactory(1))
	require.NoError(t, err)
	require.Len(t, run.Results, 5)
	for i, r := range run.Results {
		assert.Equal(t, i, r.Iteration)
		assert.Equal(t, 252, r.TrainSize)
		assert.Equal(t, 63, r.TestSize)
		if i > 0 {
			assert.True(t, r.TestFrom.After(run.Results[i-1].TestFrom))
		}
	}
}

func TestWalkForward_SkipsFailedWindow(t *testing.T) {
	series := testingpkg.NewSeriesFixture("qqq", 600, 3)
	failAt := series.Time(252 + 2*63)
	e := newTestEngine(t, nil)

	run, err := e.WalkForward(context.Background(), series,
		func() domain.StrategyModel { return &flakyModel{failAt: failAt} })
	require.NoError(t, err)
	assert.Len(t, run.Results, 4)
	assert.Equal(t, 5, run.Attempted)
	require.Len(t, run.Failures, 1)

	f := run.Failures[0]
	assert.Equal(t, 2, f.Iteration)
	assert.Equal(t, StagePredict, f.Stage)
	assert.Equal(t, 378, f.TestStart)
	assert.Equal(t, 441, f.TestEnd)
	assert.ErrorIs(t, f, domain.ErrPrediction)

	for _, r := range run.Results {
		assert.NotEqual(t, 2, r.Iteration)
	}
}

func TestWalkForward_TooShort(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.WalkForward(context.Background(), testingpkg.NewSeriesFixture("x", 200, 1), testingpkg.StubFactory(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestMonteCarlo_Deterministic(t *testing.T) {
	series := testingpkg.NewSeriesFixture("x", 200, 4)
	mutate := func(c *Config) {
		c.MonteCarlo.Simulations = 40
		c.MonteCarlo.BatchSize = 10
		c.MonteCarlo.ConvergenceThreshold = 0
	}

	a, err := newTestEngine(t, mutate).MonteCarlo(context.Background(), series, testingpkg.StubFactory(1))
	require.NoError(t, err)
	b, err := newTestEngine(t, mutate).MonteCarlo(context.Background(), series, testingpkg.StubFactory(1))
	require.NoError(t, err)

	require.Len(t, a.Results, 40)
	assert.Equal(t, a.Sharpes(), b.Sharpes())
	assert.Equal(t, meanSharpe(a.Results), meanSharpe(b.Results))
	assert.False(t, a.Convergence.Converged)
	assert.Equal(t, 40, a.Convergence.Scheduled)

	c, err := newTestEngine(t, func(c *Config) { mutate(c); c.Seed = 7 }).
		MonteCarlo(context.Background(), series, testingpkg.StubFactory(1))
	require.NoError(t, err)
	assert.NotEqual(t, a.Sharpes(), c.Sharpes())
}

func TestMonteCarlo_ConvergesEarly(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	converged := 0
	bus.Subscribe(events.RunConverged, func(*events.Event) { converged++ })

	e := newTestEngine(t, func(c *Config) {
		c.MonteCarlo.Simulations = 100
		c.MonteCarlo.BatchSize = 10
		c.MonteCarlo.ConvergenceWindow = 10
		c.MonteCarlo.ConvergenceThreshold = 0.01
	}, WithEvents(bus))

	// a flat strategy scores Sharpe 0 on every sample
	run, err := e.MonteCarlo(context.Background(), testingpkg.NewSeriesFixture("x", 200, 1), testingpkg.StubFactory(0))
	require.NoError(t, err)
	assert.True(t, run.Convergence.Converged)
	assert.Equal(t, 10, run.Convergence.Scheduled)
	assert.Len(t, run.Results, 10)
	assert.Equal(t, 1, converged)
	for _, r := range run.Results {
		assert.Equal(t, 0.0, r.Sharpe)
		assert.Equal(t, 0.0, r.Volatility)
	}
}

func TestMonteCarlo_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newTestEngine(t, nil)
	_, err := e.MonteCarlo(ctx, testingpkg.NewSeriesFixture("x", 200, 1), testingpkg.StubFactory(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestBootstrap(t *testing.T) {
	series := testingpkg.NewSeriesFixture("x", 200, 5)
	e := newTestEngine(t, func(c *Config) {
		c.MonteCarlo.Simulations = 12
		c.MonteCarlo.BatchSize = 5
		c.Bootstrap.BlockSize = 10
	})
	run, err := e.Bootstrap(context.Background(), series, testingpkg.StubFactory(1))
	require.NoError(t, err)
	assert.Equal(t, DriverBootstrap, run.Driver)
	assert.Len(t, run.Results, 12)

	e = newTestEngine(t, func(c *Config) { c.Bootstrap.BlockSize = 500 })
	_, err = e.Bootstrap(context.Background(), series, testingpkg.StubFactory(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestStress(t *testing.T) {
	series := testingpkg.NewSeriesFixture("x", 300, 6)
	e := newTestEngine(t, nil)

	run, err := e.Stress(context.Background(), series, testingpkg.StubFactory(1), testingpkg.NewScenarioFixtures())
	require.NoError(t, err)
	require.Len(t, run.Results, 3)
	st := run.Stress
	require.NotNil(t, st)
	require.NotNil(t, st.Baseline)
	require.Len(t, st.Scenarios, 2)

	calm, storm := st.Scenarios[0], st.Scenarios[1]
	assert.Greater(t, storm.Volatility, st.Baseline.Volatility)
	assert.InDelta(t, 3*st.Baseline.Volatility, storm.Volatility, 1e-9)
	assert.InDelta(t, 0.5*st.Baseline.Volatility, calm.Volatility, 1e-9)
	assert.Greater(t, storm.VolatilityDelta, 0.0)
	assert.ElementsMatch(t, []string{"calm", "storm"}, st.Ranking)
	assert.InDelta(t, (calm.Sharpe+storm.Sharpe)/2, st.WeightedSharpe, 1e-12)
	assert.Equal(t, calm.Sharpe > 0.5 && storm.Sharpe > 0.5, st.IsRobust)
}

func TestStress_DefaultsToPredefinedScenarios(t *testing.T) {
	e := newTestEngine(t, nil)
	run, err := e.Stress(context.Background(), testingpkg.NewSeriesFixture("x", 300, 6), testingpkg.StubFactory(1), nil)
	require.NoError(t, err)
	assert.Len(t, run.Stress.Scenarios, len(PredefinedScenarios()))
}

func TestStress_FlatStrategyIsNotRobust(t *testing.T) {
	e := newTestEngine(t, nil)
	run, err := e.Stress(context.Background(), testingpkg.NewSeriesFixture("x", 300, 6), testingpkg.StubFactory(0),
		testingpkg.NewScenarioFixtures())
	require.NoError(t, err)
	assert.False(t, run.Stress.IsRobust)
}

func TestRegime(t *testing.T) {
	series := testingpkg.NewSeriesFixture("x", 420, 7)
	detector := domain.RegimeDetectorFunc(func(s *domain.ReturnSeries) (domain.RegimeLabeling, error) {
		labels := make(domain.RegimeLabeling, s.Len())
		for i := range labels {
			switch {
			case i >= 400:
				labels[i] = 2
			case i >= 200:
				labels[i] = 1
			}
		}
		return labels, nil
	})

	e := newTestEngine(t, nil)
	run, err := e.Regime(context.Background(), series, testingpkg.StubFactory(1), detector)
	require.NoError(t, err)
	require.Len(t, run.Results, 2)
	assert.Equal(t, 0, *run.Results[0].Regime)
	assert.Equal(t, 1, *run.Results[1].Regime)
	assert.Equal(t, 140, run.Results[0].TrainSize)

	out := run.Regime
	require.Len(t, out.Excluded, 1)
	assert.Equal(t, 2, out.Excluded[0].Regime)
	assert.Equal(t, 20, out.Excluded[0].Samples)
	assert.Equal(t, []int{0, 1, 2}, out.Transitions.Regimes)
	assert.InDelta(t, 1.0/200, out.Transitions.Matrix[0][1], 1e-12)
	assert.InDelta(t, 200, out.Transitions.AverageDuration[0], 1e-12)
	assert.Equal(t, 200, out.Samples[1])
}

func TestRegime_DetectorError(t *testing.T) {
	detector := domain.RegimeDetectorFunc(func(*domain.ReturnSeries) (domain.RegimeLabeling, error) {
		return nil, domain.Insufficient("warming up")
	})
	e := newTestEngine(t, nil)
	_, err := e.Regime(context.Background(), testingpkg.NewSeriesFixture("x", 200, 1), testingpkg.StubFactory(1), detector)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

type countingRecorder struct {
	started, succeeded, failed int
	status                     string
}

func (r *countingRecorder) RunStarted(string) { r.started++ }

func (r *countingRecorder) IterationFinished(_ string, outcome string, _ time.Duration) {
	if outcome == "success" {
		r.succeeded++
	} else {
		r.failed++
	}
}

func (r *countingRecorder) RunFinished(_ string, status string, _ time.Duration) { r.status = status }

func TestEngine_PublishesProgress(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	var completed, failed, finished int
	var last *events.RunFinishedData
	bus.Subscribe(events.IterationCompleted, func(*events.Event) { completed++ })
	bus.Subscribe(events.IterationFailed, func(*events.Event) { failed++ })
	bus.Subscribe(events.RunCompleted, func(ev *events.Event) {
		finished++
		last = ev.Data.(*events.RunFinishedData)
	})

	rec := &countingRecorder{}
	series := testingpkg.NewSeriesFixture("qqq", 600, 3)
	e := newTestEngine(t, nil, WithEvents(bus), WithRecorder(rec))
	run, err := e.WalkForward(context.Background(), series,
		func() domain.StrategyModel { return &flakyModel{failAt: series.Time(315)} })
	require.NoError(t, err)

	assert.Equal(t, 4, completed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, finished)
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.RunID)
	assert.Equal(t, 4, last.Succeeded)
	assert.Equal(t, 1, last.Failed)

	assert.Equal(t, 1, rec.started)
	assert.Equal(t, 4, rec.succeeded)
	assert.Equal(t, 1, rec.failed)
	assert.Equal(t, "completed", rec.status)
}
