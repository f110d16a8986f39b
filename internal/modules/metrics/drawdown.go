package metrics

import (
	"fmt"

	"github.com/aristath/quantlab/pkg/formulas"
)

// DrawdownMode selects how the running peak is computed
type DrawdownMode string

const (
	// DrawdownCumulative uses the running maximum over the whole history
	DrawdownCumulative DrawdownMode = "cumulative"
	// DrawdownRolling uses the running maximum over a trailing window
	DrawdownRolling DrawdownMode = "rolling"
	// DrawdownPeak is equivalent to cumulative
	DrawdownPeak DrawdownMode = "peak"
)

// UnderwaterPeriod is a contiguous span (inclusive indices) with negative drawdown
type UnderwaterPeriod struct {
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Depth  float64 `json:"depth"`
	Length int     `json:"length"`
}

// DrawdownAnalysis is the full drawdown breakdown of a return series
type DrawdownAnalysis struct {
	MaxDrawdown  float64            `json:"max_drawdown"`
	Series       []float64          `json:"series"`
	TroughIndex  int                `json:"trough_index"`
	Recovered    bool               `json:"recovered"`
	RecoveryTime int                `json:"recovery_time"` // periods from trough to recovery, -1 when not recovered
	Underwater   []UnderwaterPeriod `json:"underwater"`
}

// MaxDrawdown returns min((C - M) / M) over the cumulative wealth path (<= 0)
func MaxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	a, _ := Drawdown(returns, DrawdownCumulative, 0)
	return a.MaxDrawdown
}

// Drawdown computes the drawdown series and derived statistics.
// window is only used by DrawdownRolling and must be positive there.
func Drawdown(returns []float64, mode DrawdownMode, window int) (*DrawdownAnalysis, error) {
	wealth := formulas.CumulativeWealth(returns)
	var dd []float64

	switch mode {
	case DrawdownCumulative, DrawdownPeak, "":
		dd = drawdownFromPeak(wealth, len(wealth))
	case DrawdownRolling:
		if window <= 0 {
			return nil, fmt.Errorf("rolling drawdown needs a positive window, got %d", window)
		}
		dd = drawdownFromPeak(wealth, window)
	default:
		return nil, fmt.Errorf("unknown drawdown mode %q", mode)
	}

	a := &DrawdownAnalysis{Series: dd, RecoveryTime: -1}
	for i, d := range dd {
		if d < a.MaxDrawdown {
			a.MaxDrawdown = d
			a.TroughIndex = i
		}
	}

	if a.MaxDrawdown == 0 {
		a.Recovered = true
		a.RecoveryTime = 0
	} else {
		for i := a.TroughIndex + 1; i < len(dd); i++ {
			if dd[i] >= 0 {
				a.Recovered = true
				a.RecoveryTime = i - a.TroughIndex
				break
			}
		}
	}

	a.Underwater = underwaterPeriods(dd)
	return a, nil
}

// drawdownFromPeak computes (C - M) / M where M is the max over the last window values
func drawdownFromPeak(wealth []float64, window int) []float64 {
	dd := make([]float64, len(wealth))
	if window >= len(wealth) {
		peak := 0.0
		for i, c := range wealth {
			if i == 0 || c > peak {
				peak = c
			}
			if peak > 0 {
				dd[i] = (c - peak) / peak
			}
		}
		return dd
	}
	for i, c := range wealth {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		peak := wealth[start]
		for _, w := range wealth[start : i+1] {
			if w > peak {
				peak = w
			}
		}
		if peak > 0 {
			dd[i] = (c - peak) / peak
		}
	}
	return dd
}

func underwaterPeriods(dd []float64) []UnderwaterPeriod {
	var periods []UnderwaterPeriod
	inside := false
	var current UnderwaterPeriod
	for i, d := range dd {
		if d < 0 {
			if !inside {
				inside = true
				current = UnderwaterPeriod{Start: i, Depth: d}
			}
			if d < current.Depth {
				current.Depth = d
			}
			current.End = i
			continue
		}
		if inside {
			current.Length = current.End - current.Start + 1
			periods = append(periods, current)
			inside = false
		}
	}
	if inside {
		current.Length = current.End - current.Start + 1
		periods = append(periods, current)
	}
	return periods
}
