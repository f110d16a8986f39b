package rebalancing

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantlab/internal/domain"
)

func TestTriggerChecker_LogsTriggeredRebalance(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.InfoLevel)
	tc := NewTriggerChecker(policy(t, func(c *Config) { c.Policy = KindThreshold }), log)
	assert.Equal(t, KindThreshold, tc.Policy().Name())

	target := domain.WeightVector{0.5, 0.5}
	res := tc.CheckRebalanceTriggers(State{Step: 3, Current: domain.WeightVector{0.52, 0.48}, Target: target})
	require.False(t, res.ShouldRebalance)
	assert.Empty(t, buf.String())

	res = tc.CheckRebalanceTriggers(State{Step: 4, Current: domain.WeightVector{0.7, 0.3}, Target: target})
	require.True(t, res.ShouldRebalance)
	out := buf.String()
	assert.Contains(t, out, `"component":"rebalancing_triggers"`)
	assert.Contains(t, out, `"policy":"threshold"`)
	assert.Contains(t, out, `"window":4`)
	assert.Contains(t, out, res.Reason)
}
