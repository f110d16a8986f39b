package optimization

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantlab/internal/domain"
)

func TestFinalize_ZeroSolutionIsAnOptimizationFailure(t *testing.T) {
	_, err := DefaultConstraints().finalize([]float64{0, 0, 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOptimization))
}

func TestFinalize_ClampsIntoBounds(t *testing.T) {
	c := DefaultConstraints()
	c.MaxWeight = 0.5
	w, err := c.finalize([]float64{0.9, 0.05, 0.05})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, w[0], 1e-9)
	require.NoError(t, w.ValidateBounds(0, 0.5))
}
