package partition

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantlab/internal/domain"
)

func series(n int) *domain.ReturnSeries {
	r := make([]float64, n)
	for i := range r {
		r[i] = float64(i)
	}
	return domain.NewDailySeries("s", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), r)
}

func TestTimeSplit(t *testing.T) {
	split, err := TimeSplit(series(100), DefaultTimeConfig())
	require.NoError(t, err)
	assert.Equal(t, 70, split.Train.Len())
	assert.Equal(t, 30, split.Test.Len())
	assert.Equal(t, 70.0, split.Test.Return(0))
	assert.True(t, split.Train.End().Before(split.Test.Start()))
}

func TestTimeSplit_FractionsMustSumToOne(t *testing.T) {
	_, err := TimeSplit(series(100), TimeConfig{TrainFraction: 0.7, TestFraction: 0.4, MinTrainSize: 1, MinTestSize: 1})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestTimeSplit_BelowMinimum(t *testing.T) {
	_, err := TimeSplit(series(50), DefaultTimeConfig())
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
}

func TestRolling(t *testing.T) {
	windows, err := Rolling(100, RollingConfig{Lookback: 50, Step: 20})
	require.NoError(t, err)
	require.Len(t, windows, 2)

	assert.Equal(t, Window{Index: 0, TrainStart: 0, TrainEnd: 50, TestStart: 50, TestEnd: 70}, windows[0])
	assert.Equal(t, Window{Index: 1, TrainStart: 20, TrainEnd: 70, TestStart: 70, TestEnd: 90}, windows[1])
	for _, w := range windows {
		assert.LessOrEqual(t, w.TrainEnd, w.TestStart)
	}
}

func TestRolling_Anchored(t *testing.T) {
	windows, err := Rolling(100, RollingConfig{Lookback: 40, Step: 20, TestSize: 10, Anchored: true})
	require.NoError(t, err)
	require.Len(t, windows, 3)
	for _, w := range windows {
		assert.Equal(t, 0, w.TrainStart)
		assert.Equal(t, 10, w.TestSize())
	}
	assert.Equal(t, 80, windows[2].TrainEnd)
}

func TestRolling_TooShort(t *testing.T) {
	_, err := Rolling(30, RollingConfig{Lookback: 50, Step: 10})
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
}

func TestBlockIndices_ContiguousBlocks(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	idx, err := BlockIndices(100, 10, 25, rng)
	require.NoError(t, err)
	require.Len(t, idx, 25)
	for b := 0; b < 2; b++ {
		for k := 1; k < 10; k++ {
			assert.Equal(t, idx[b*10]+k, idx[b*10+k])
		}
	}
	for _, i := range idx {
		assert.True(t, i >= 0 && i < 100)
	}
}

func TestResample_SameSeedSameChoices(t *testing.T) {
	s := series(60)
	a, err := BlockResample(s, 5, 0, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	b, err := BlockResample(s, 5, 0, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	assert.Equal(t, a.Returns(), b.Returns())
	assert.Equal(t, s.Times(), a.Times())

	c, err := IIDResample(s, 3, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	assert.Equal(t, 60, c.Len())
	assert.Equal(t, "s#iid3", c.Name())
}

func TestBlockIndices_Validation(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	_, err := BlockIndices(5, 10, 5, rng)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
	_, err = BlockIndices(5, 0, 5, rng)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestRegimeSplit(t *testing.T) {
	s := series(10)
	labels := domain.RegimeLabeling{0, 0, 1, 1, 1, 0, 2, 1, 0, 1}

	res, err := RegimeSplit(s, labels, 3)
	require.NoError(t, err)
	require.Len(t, res.Groups, 2)
	assert.Equal(t, 0, res.Groups[0].Regime)
	assert.Equal(t, []int{0, 1, 5, 8}, res.Groups[0].Indices)
	assert.Equal(t, []float64{0, 1, 5, 8}, res.Groups[0].Series.Returns())
	assert.Equal(t, 1, res.Groups[1].Regime)
	assert.Equal(t, []ExcludedRegime{{Regime: 2, Samples: 1}}, res.Excluded)

	_, err = RegimeSplit(s, labels[:5], 3)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
