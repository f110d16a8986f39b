// Package testing provides fixtures, mocks and a throwaway database for tests.
package testing

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aristath/quantlab/internal/domain"
)

// FixtureStart is the first timestamp of every fixture series
var FixtureStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// NewReturnsFixture draws n normal returns with mean mu and standard deviation
// sigma. The same seed always yields the same values.
func NewReturnsFixture(n int, mu, sigma float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
	out := make([]float64, n)
	for i := range out {
		out[i] = mu + sigma*rng.NormFloat64()
	}
	return out
}

// NewSeriesFixture returns a daily series with 5bp mean and 1% volatility
func NewSeriesFixture(name string, n int, seed uint64) *domain.ReturnSeries {
	return domain.NewDailySeries(name, FixtureStart, NewReturnsFixture(n, 0.0005, 0.01, seed))
}

// NewConstantSeries returns a daily series where every return equals r
func NewConstantSeries(name string, n int, r float64) *domain.ReturnSeries {
	returns := make([]float64, n)
	for i := range returns {
		returns[i] = r
	}
	return domain.NewDailySeries(name, FixtureStart, returns)
}

// NewPanelFixture returns width aligned strategy series named s0..s{width-1}
// with increasing volatility
func NewPanelFixture(n, width int, seed uint64) *domain.Panel {
	series := make([]*domain.ReturnSeries, width)
	for i := range series {
		sigma := 0.005 * float64(i+1)
		returns := NewReturnsFixture(n, 0.0004, sigma, seed+uint64(i))
		series[i] = domain.NewDailySeries(fmt.Sprintf("s%d", i), FixtureStart, returns)
	}
	panel, err := domain.NewPanel(series...)
	if err != nil {
		panic(err)
	}
	return panel
}

// NewScenarioFixtures returns two simple stress scenarios
func NewScenarioFixtures() []domain.ScenarioSpec {
	return []domain.ScenarioSpec{
		{Name: "calm", VolatilityMultiplier: 0.5, CorrelationMultiplier: 1, Weight: 1},
		{Name: "storm", VolatilityMultiplier: 3, ReturnShift: -0.001, CorrelationMultiplier: 1, Weight: 1},
	}
}
