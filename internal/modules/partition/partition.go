// Package partition splits return series into train/test windows without
// look-ahead: every test window starts after its train window ends.
package partition

import (
	"math"

	"github.com/aristath/quantlab/internal/domain"
)

// Window is a pair of half-open index ranges [TrainStart, TrainEnd) and
// [TestStart, TestEnd) on the source series.
type Window struct {
	Index      int `json:"index" msgpack:"index"`
	TrainStart int `json:"train_start" msgpack:"train_start"`
	TrainEnd   int `json:"train_end" msgpack:"train_end"`
	TestStart  int `json:"test_start" msgpack:"test_start"`
	TestEnd    int `json:"test_end" msgpack:"test_end"`
}

// TrainSize returns the number of training observations
func (w Window) TrainSize() int { return w.TrainEnd - w.TrainStart }

// TestSize returns the number of test observations
func (w Window) TestSize() int { return w.TestEnd - w.TestStart }

// Split is a materialized window. Train and Test are views on the source series.
type Split struct {
	Window
	Train *domain.ReturnSeries
	Test  *domain.ReturnSeries
}

// Apply materializes w on s
func (w Window) Apply(s *domain.ReturnSeries) Split {
	return Split{
		Window: w,
		Train:  s.Slice(w.TrainStart, w.TrainEnd),
		Test:   s.Slice(w.TestStart, w.TestEnd),
	}
}

// TimeConfig configures a single fraction-based split
type TimeConfig struct {
	TrainFraction float64 `json:"train_fraction" yaml:"train_fraction"`
	TestFraction  float64 `json:"test_fraction" yaml:"test_fraction"`
	MinTrainSize  int     `json:"min_train_size" yaml:"min_train_size"`
	MinTestSize   int     `json:"min_test_size" yaml:"min_test_size"`
}

// DefaultTimeConfig is a 70/30 split with at least 30 observations on each side
func DefaultTimeConfig() TimeConfig {
	return TimeConfig{TrainFraction: 0.7, TestFraction: 0.3, MinTrainSize: 30, MinTestSize: 30}
}

// Validate checks that the fractions are positive and sum to 1
func (c TimeConfig) Validate() error {
	if c.TrainFraction <= 0 || c.TestFraction <= 0 {
		return domain.Invalid("train and test fractions must be > 0, got %g and %g", c.TrainFraction, c.TestFraction)
	}
	if math.Abs(c.TrainFraction+c.TestFraction-1) > 1e-9 {
		return domain.Invalid("train + test fractions must equal 1, got %g", c.TrainFraction+c.TestFraction)
	}
	if c.MinTrainSize < 1 || c.MinTestSize < 1 {
		return domain.Invalid("minimum window sizes must be >= 1")
	}
	return nil
}

// TimeWindow computes the contiguous split of n observations: the first
// floor(n·train) go to training, the rest to testing.
func TimeWindow(n int, cfg TimeConfig) (Window, error) {
	if err := cfg.Validate(); err != nil {
		return Window{}, err
	}
	trainEnd := int(math.Floor(float64(n) * cfg.TrainFraction))
	w := Window{TrainStart: 0, TrainEnd: trainEnd, TestStart: trainEnd, TestEnd: n}
	if w.TrainSize() < cfg.MinTrainSize {
		return Window{}, domain.Insufficient("train window has %d observations, need %d", w.TrainSize(), cfg.MinTrainSize)
	}
	if w.TestSize() < cfg.MinTestSize {
		return Window{}, domain.Insufficient("test window has %d observations, need %d", w.TestSize(), cfg.MinTestSize)
	}
	return w, nil
}

// TimeSplit applies TimeWindow to s
func TimeSplit(s *domain.ReturnSeries, cfg TimeConfig) (Split, error) {
	w, err := TimeWindow(s.Len(), cfg)
	if err != nil {
		return Split{}, err
	}
	return w.Apply(s), nil
}

// RollingConfig configures walk-forward windows
type RollingConfig struct {
	Lookback int `json:"lookback" yaml:"lookback"`
	Step     int `json:"step" yaml:"step"`
	// TestSize defaults to Step
	TestSize int `json:"test_size" yaml:"test_size"`
	// Anchored keeps every train window starting at 0 (expanding window)
	Anchored bool `json:"anchored" yaml:"anchored"`
}

// Validate checks the window sizes
func (c RollingConfig) Validate() error {
	if c.Lookback < 1 {
		return domain.Invalid("lookback must be >= 1, got %d", c.Lookback)
	}
	if c.Step < 1 {
		return domain.Invalid("step must be >= 1, got %d", c.Step)
	}
	if c.TestSize < 0 {
		return domain.Invalid("test_size must be >= 0, got %d", c.TestSize)
	}
	return nil
}

// Rolling produces walk-forward windows over n observations: a trailing train
// window of Lookback slides by Step, each followed by TestSize observations.
// A final window whose test range would run past n is dropped.
func Rolling(n int, cfg RollingConfig) ([]Window, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	testSize := cfg.TestSize
	if testSize == 0 {
		testSize = cfg.Step
	}

	var windows []Window
	for start := 0; start+cfg.Lookback+testSize <= n; start += cfg.Step {
		w := Window{
			Index:      len(windows),
			TrainStart: start,
			TrainEnd:   start + cfg.Lookback,
			TestStart:  start + cfg.Lookback,
			TestEnd:    start + cfg.Lookback + testSize,
		}
		if cfg.Anchored {
			w.TrainStart = 0
		}
		windows = append(windows, w)
	}
	if len(windows) == 0 {
		return nil, domain.Insufficient("%d observations cannot hold a lookback of %d plus a test window of %d", n, cfg.Lookback, testSize)
	}
	return windows, nil
}
