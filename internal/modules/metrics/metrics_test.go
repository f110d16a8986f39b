package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = []float64{0.01, -0.02, 0.03, -0.01, 0.02}

func TestTotalReturn_Scenario(t *testing.T) {
	assert.InDelta(t, 0.0298, TotalReturn(sample), 1e-3)
	assert.InDelta(t, 1.01*0.98*1.03*0.99*1.02-1, TotalReturn(sample), 1e-12)
}

func TestSharpe_ComputableOnShortSeries(t *testing.T) {
	sharpe := Sharpe(sample, 0, 252)
	assert.False(t, math.IsNaN(sharpe))
	assert.Greater(t, sharpe, 0.0)
}

func TestSharpe_ScaleInvariantAndSignFlip(t *testing.T) {
	base := Sharpe(sample, 0, 252)

	scaled := make([]float64, len(sample))
	negated := make([]float64, len(sample))
	for i, r := range sample {
		scaled[i] = r * 3
		negated[i] = -r
	}

	assert.InDelta(t, base, Sharpe(scaled, 0, 252), 1e-9)
	assert.InDelta(t, -base, Sharpe(negated, 0, 252), 1e-9)
}

func TestAllZeroReturns(t *testing.T) {
	zeros := make([]float64, 40)

	assert.Equal(t, 0.0, Sharpe(zeros, 0.02, 252))
	assert.Equal(t, 0.0, Volatility(zeros, 252))
	assert.Equal(t, 0.0, MaxDrawdown(zeros))
	assert.Equal(t, 0.0, Sortino(zeros, 0, 252))
	assert.Equal(t, 0.0, Calmar(zeros, 252))
	assert.Equal(t, 0.0, Sterling(zeros, 252))
	assert.Equal(t, 0.0, Stability(zeros))
}

func TestMaxDrawdown(t *testing.T) {
	constant := []float64{0.01, 0.01, 0.01, 0.01}
	assert.Equal(t, 0.0, MaxDrawdown(constant))

	// wealth 1.1, 0.55, 0.605: peak 1.1, trough 0.55
	mdd := MaxDrawdown([]float64{0.1, -0.5, 0.1})
	assert.InDelta(t, -0.5, mdd, 1e-12)
	assert.LessOrEqual(t, MaxDrawdown(sample), 0.0)
}

func TestDrawdown_RecoveryAndUnderwater(t *testing.T) {
	returns := []float64{0.1, -0.1, -0.1, 0.3, 0.05, -0.02}
	a, err := Drawdown(returns, DrawdownCumulative, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, a.TroughIndex)
	assert.InDelta(t, 0.9*0.9-1, a.MaxDrawdown, 1e-12)
	assert.True(t, a.Recovered)
	assert.Equal(t, 1, a.RecoveryTime)

	require.Len(t, a.Underwater, 2)
	assert.Equal(t, UnderwaterPeriod{Start: 1, End: 2, Depth: a.MaxDrawdown, Length: 2}, a.Underwater[0])
	assert.Equal(t, 5, a.Underwater[1].Start)
	assert.Equal(t, 1, a.Underwater[1].Length)
}

func TestDrawdown_NotRecovered(t *testing.T) {
	a, err := Drawdown([]float64{0.1, -0.2, 0.05}, DrawdownPeak, 0)
	require.NoError(t, err)
	assert.False(t, a.Recovered)
	assert.Equal(t, -1, a.RecoveryTime)
}

func TestDrawdown_Modes(t *testing.T) {
	returns := []float64{0.2, -0.1, -0.1, 0.05, 0.05}

	cumulative, err := Drawdown(returns, DrawdownCumulative, 0)
	require.NoError(t, err)
	peak, err := Drawdown(returns, DrawdownPeak, 0)
	require.NoError(t, err)
	assert.Equal(t, cumulative.Series, peak.Series)

	rolling, err := Drawdown(returns, DrawdownRolling, 2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rolling.MaxDrawdown, cumulative.MaxDrawdown)

	_, err = Drawdown(returns, DrawdownRolling, 0)
	assert.Error(t, err)
	_, err = Drawdown(returns, "sideways", 0)
	assert.Error(t, err)
}

func TestSortino_NoNegativeReturns(t *testing.T) {
	assert.Equal(t, 0.0, Sortino([]float64{0.01, 0.02}, 0, 252))
	assert.Greater(t, Sortino(sample, 0, 252), 0.0)
}

func TestCalmarAndSterling(t *testing.T) {
	returns := []float64{0.1, -0.5, 0.1}
	ar := AnnualReturn(returns, 252)
	assert.InDelta(t, ar/0.5, Calmar(returns, 252), 1e-12)
	assert.InDelta(t, ar/0.5, Sterling(returns, 252), 1e-12)
}

func TestValueAtRisk(t *testing.T) {
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = float64(i-50) / 1000
	}

	historical, err := ValueAtRisk(returns, 0.95, VaRHistorical)
	require.NoError(t, err)
	assert.Less(t, historical, 0.0)

	cvar, err := ConditionalVaR(returns, 0.95, VaRHistorical)
	require.NoError(t, err)
	assert.LessOrEqual(t, cvar, historical)

	parametric, err := ValueAtRisk(returns, 0.95, VaRParametric)
	require.NoError(t, err)
	assert.Less(t, parametric, 0.0)

	es, err := ExpectedShortfall(returns, 0.95, VaRParametric)
	require.NoError(t, err)
	assert.LessOrEqual(t, es, parametric)

	_, err = ValueAtRisk(returns, 1.5, VaRHistorical)
	assert.Error(t, err)
	_, err = ValueAtRisk(nil, 0.95, VaRHistorical)
	assert.Error(t, err)
}

func TestEfficiencyAgainst(t *testing.T) {
	benchmark := []float64{0.01, -0.01, 0.02, 0.0, -0.02}
	returns := make([]float64, len(benchmark))
	for i, b := range benchmark {
		returns[i] = 2*b + 0.001
	}

	e, err := EfficiencyAgainst(returns, benchmark)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, e.Beta, 1e-9)
	assert.InDelta(t, 0.001, e.Alpha, 1e-9)
	assert.Equal(t, e.Alpha, e.Jensen)
	assert.InDelta(t, (2*0.0+0.001)/2, e.Treynor, 1e-9)

	_, err = EfficiencyAgainst(returns, benchmark[:3])
	assert.True(t, errors.Is(err, domain.ErrValidation))

	flat, err := EfficiencyAgainst(returns, []float64{0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, flat.Beta)
	assert.Equal(t, 0.0, flat.Treynor)
}

func TestStability(t *testing.T) {
	steady := make([]float64, 50)
	for i := range steady {
		steady[i] = 0.001
	}
	assert.InDelta(t, 1.0, Stability(steady), 1e-9)
	assert.GreaterOrEqual(t, Stability(sample), 0.0)
	assert.LessOrEqual(t, Stability(sample), 1.0)
}

func TestCalculator_EnforcesMinPeriods(t *testing.T) {
	calc, err := NewCalculator(DefaultConfig())
	require.NoError(t, err)

	_, err = calc.Compute(sample)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))

	withNaN := append(make([]float64, 29), math.NaN())
	_, err = calc.Compute(withNaN)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
}

func TestCalculator_ComputeIsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinPeriods = 5
	calc, err := NewCalculator(cfg)
	require.NoError(t, err)

	first, err := calc.Compute(sample)
	require.NoError(t, err)
	second, err := calc.Compute(sample)
	require.NoError(t, err)

	assert.Equal(t, *first, *second)
	assert.Equal(t, 5, first.Periods)
	assert.InDelta(t, TotalReturn(sample), first.TotalReturn, 1e-15)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TradingDays = 0
	_, err := NewCalculator(cfg)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
