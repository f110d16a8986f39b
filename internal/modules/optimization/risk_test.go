package optimization

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/pkg/formulas"
)

func randomPanel(t *testing.T, width, length int, seed uint64) *domain.Panel {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed+1))
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	common := make([]float64, length)
	for k := range common {
		common[k] = rng.NormFloat64() * 0.01
	}
	series := make([]*domain.ReturnSeries, width)
	for i := range series {
		r := make([]float64, length)
		for k := range r {
			r[k] = 0.0005 + common[k] + rng.NormFloat64()*0.01*float64(i+1)
		}
		series[i] = domain.NewDailySeries(string(rune('A'+i)), start, r)
	}
	panel, err := domain.NewPanel(series...)
	require.NoError(t, err)
	return panel
}

func TestEstimateProblem_Annualizes(t *testing.T) {
	panel := randomPanel(t, 3, 200, 1)
	rb := NewRiskModelBuilder(zerolog.Nop())

	p, err := rb.EstimateProblem(panel, RiskOptions{TradingDays: 252})
	require.NoError(t, err)
	require.NoError(t, p.Validate(true))

	cols := panel.Columns()
	assert.InDelta(t, formulas.Mean(cols[0])*252, p.ExpectedReturns[0], 1e-12)
	assert.InDelta(t, formulas.Variance(cols[1])*252, p.Covariance[1][1], 1e-12)
	assert.Equal(t, []string{"A", "B", "C"}, p.Assets)
}

func TestLedoitWolf_ShrinksTowardsConstantCorrelation(t *testing.T) {
	panel := randomPanel(t, 4, 60, 3)
	shrunk, delta := LedoitWolf(panel.Columns())

	assert.GreaterOrEqual(t, delta, 0.0)
	assert.LessOrEqual(t, delta, 1.0)

	cols := panel.Columns()
	n := float64(len(cols[0]))
	for i := range shrunk {
		// the target keeps the sample variances
		assert.InDelta(t, formulas.Variance(cols[i])*(n-1)/n, shrunk[i][i], 1e-12)
		for j := range shrunk {
			assert.InDelta(t, shrunk[i][j], shrunk[j][i], 1e-15)
		}
	}

	rb := NewRiskModelBuilder(zerolog.Nop())
	p, err := rb.EstimateProblem(panel, RiskOptions{TradingDays: 252, Shrinkage: ShrinkageLedoitWolf})
	require.NoError(t, err)
	_, err = NewMinVarianceOptimizer(DefaultConstraints()).Optimize(p)
	assert.NoError(t, err)
}

func TestEstimateProblem_DecayWeighting(t *testing.T) {
	panel := randomPanel(t, 2, 120, 5)
	rb := NewRiskModelBuilder(zerolog.Nop())

	p, err := rb.EstimateProblem(panel, RiskOptions{Shrinkage: ShrinkageDecay, HalfLifeDays: 30})
	require.NoError(t, err)
	assert.Greater(t, p.Covariance[0][0], 0.0)

	_, err = rb.EstimateProblem(panel, RiskOptions{Shrinkage: ShrinkageDecay})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestHighCorrelations(t *testing.T) {
	rb := NewRiskModelBuilder(zerolog.Nop())
	pairs := rb.HighCorrelations(Problem{Assets: []string{"A", "B", "C", "D"}, Covariance: blockCovariance()}, HighCorrelationThreshold)
	require.Len(t, pairs, 2)
	assert.Equal(t, "A", pairs[0].Asset1)
	assert.Equal(t, "B", pairs[0].Asset2)
	assert.InDelta(t, 0.9, pairs[0].Correlation, 1e-12)
	assert.False(t, math.IsNaN(pairs[1].Correlation))
}
