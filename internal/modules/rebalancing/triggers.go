package rebalancing

import (
	"github.com/rs/zerolog"
)

// TriggerChecker runs a policy's trigger after each window and logs the decision
type TriggerChecker struct {
	policy Policy
	log    zerolog.Logger
}

// NewTriggerChecker creates a new trigger checker
func NewTriggerChecker(policy Policy, log zerolog.Logger) *TriggerChecker {
	return &TriggerChecker{
		policy: policy,
		log:    log.With().Str("component", "rebalancing_triggers").Str("policy", string(policy.Name())).Logger(),
	}
}

// Policy returns the wrapped policy
func (tc *TriggerChecker) Policy() Policy {
	return tc.policy
}

// CheckRebalanceTriggers reports whether the portfolio should move its weights
// after the window in s, and why
func (tc *TriggerChecker) CheckRebalanceTriggers(s State) *TriggerResult {
	result := tc.policy.Check(s)
	if result.ShouldRebalance {
		tc.log.Info().
			Int("window", s.Step).
			Str("reason", result.Reason).
			Msg("Rebalance triggered")
	} else {
		tc.log.Debug().
			Int("window", s.Step).
			Str("reason", result.Reason).
			Msg("No rebalance")
	}
	return result
}
