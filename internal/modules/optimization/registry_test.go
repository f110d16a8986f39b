package optimization

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantlab/internal/domain"
)

func TestNew_EveryMethodProducesValidWeights(t *testing.T) {
	p := Problem{
		Assets:          []string{"A", "B", "C", "D"},
		ExpectedReturns: []float64{0.10, 0.08, 0.12, 0.07},
		Covariance:      fourAssetCovariance(),
	}
	params := DefaultParams()
	params.MarketCaps = []float64{4, 3, 2, 1}
	params.NClusters = 2

	for _, method := range Methods() {
		t.Run(string(method), func(t *testing.T) {
			o, err := New(method, params, zerolog.Nop())
			require.NoError(t, err)
			r, err := o.Optimize(p)
			require.NoError(t, err)
			assertValidWeights(t, r.Weights, 0, 1)
			assert.Equal(t, method, r.Method)
		})
	}
}

func TestNew_UnknownMethod(t *testing.T) {
	_, err := New("genetic", DefaultParams(), zerolog.Nop())
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
