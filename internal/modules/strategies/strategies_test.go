package strategies

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/simulation"
	testingpkg "github.com/aristath/quantlab/internal/testing"
)

func newModel(t *testing.T, name Name, p Params) domain.StrategyModel {
	t.Helper()
	factory, err := New(name, p)
	require.NoError(t, err)
	return factory()
}

func trendSeries(up, down int) *domain.ReturnSeries {
	r := make([]float64, 0, up+down)
	for i := 0; i < up; i++ {
		r = append(r, 0.01)
	}
	for i := 0; i < down; i++ {
		r = append(r, -0.02)
	}
	return domain.NewDailySeries("trend", testingpkg.FixtureStart, r)
}

func TestBuyAndHold(t *testing.T) {
	m := newModel(t, BuyAndHold, Params{Exposure: 0.5})
	s := testingpkg.NewSeriesFixture("x", 40, 1)
	require.NoError(t, m.Fit(s.Slice(0, 20)))
	got, err := m.Predict(s.Slice(20, 40))
	require.NoError(t, err)
	require.Len(t, got, 20)
	for _, v := range got {
		assert.Equal(t, 0.5, v)
	}
}

func TestMomentum_FollowsTrend(t *testing.T) {
	s := trendSeries(60, 30)
	m := newModel(t, Momentum, Params{AllowShort: true})
	require.NoError(t, m.Fit(s.Slice(0, 60)))

	got, err := m.Predict(s.Slice(60, 90))
	require.NoError(t, err)
	require.Len(t, got, 30)
	assert.Equal(t, 1.0, got[0])
	assert.Equal(t, -1.0, got[29])

	longOnly := newModel(t, Momentum, Params{})
	require.NoError(t, longOnly.Fit(s.Slice(0, 60)))
	got, err = longOnly.Predict(s.Slice(60, 90))
	require.NoError(t, err)
	assert.Equal(t, 0.0, got[29])
}

func TestMomentum_NoLookAhead(t *testing.T) {
	s := testingpkg.NewSeriesFixture("x", 200, 7)
	m := newModel(t, Momentum, Params{Fast: 5, Slow: 20, AllowShort: true})
	require.NoError(t, m.Fit(s.Slice(0, 100)))

	full, err := m.Predict(s.Slice(100, 200))
	require.NoError(t, err)
	prefix, err := m.Predict(s.Slice(100, 130))
	require.NoError(t, err)
	assert.Equal(t, []float64(full[:30]), []float64(prefix))
}

func TestMeanReversion_BuysTheDip(t *testing.T) {
	train := testingpkg.NewReturnsFixture(60, 0, 0.01, 3)
	test := []float64{-0.1, 0.001, 0.001, 0.001}
	s := domain.NewDailySeries("x", testingpkg.FixtureStart, append(train, test...))

	m := newModel(t, MeanReversion, Params{})
	require.NoError(t, m.Fit(s.Slice(0, 60)))
	got, err := m.Predict(s.Slice(60, 64))
	require.NoError(t, err)
	assert.Equal(t, 1.0, got[1])
}

func TestStrategies_Errors(t *testing.T) {
	_, err := New("random_walk", Params{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = New(Momentum, Params{Fast: 30, Slow: 10})
	assert.ErrorIs(t, err, domain.ErrValidation)

	m := newModel(t, Momentum, Params{})
	_, err = m.Predict(testingpkg.NewSeriesFixture("x", 10, 1))
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = m.Fit(testingpkg.NewSeriesFixture("x", 10, 1))
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestStrategies_WalkForward(t *testing.T) {
	engine, err := simulation.NewEngine(simulation.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	series := testingpkg.NewSeriesFixture("spy", 600, 5)

	for _, name := range Names() {
		t.Run(string(name), func(t *testing.T) {
			factory, err := New(name, Params{})
			require.NoError(t, err)
			run, err := engine.WalkForward(context.Background(), series, factory)
			require.NoError(t, err)
			assert.Len(t, run.Results, 5)
			assert.Empty(t, run.Failures)
		})
	}
}
