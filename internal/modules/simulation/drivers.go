package simulation

import (
	"context"
	"fmt"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/partition"
)

const dateLayout = "2006-01-02"

// Simple runs one train/test cycle on a fraction-based split
func (e *Engine) Simple(ctx context.Context, series *domain.ReturnSeries, factory domain.ModelFactory) (*Run, error) {
	if err := checkSeries(series, factory); err != nil {
		return nil, err
	}
	rs := e.begin(DriverSimple, series.Name(), 1)

	split, err := partition.TimeSplit(series, e.cfg.Split)
	if err != nil {
		return e.finish(rs, err)
	}
	j := job{
		index: 0,
		label: windowLabel(series, split.Window),
		split: func() (partition.Split, error) { return split, nil },
	}
	if err := e.execute(ctx, rs, factory, []job{j}); err != nil {
		return e.finish(rs, err)
	}
	return e.finish(rs, nil)
}

// WalkForward runs one cycle per rolling window. Results form a time-indexed
// table ordered by window.
func (e *Engine) WalkForward(ctx context.Context, series *domain.ReturnSeries, factory domain.ModelFactory) (*Run, error) {
	if err := checkSeries(series, factory); err != nil {
		return nil, err
	}

	windows, err := partition.Rolling(series.Len(), e.cfg.WalkForward)
	if err != nil {
		return nil, err
	}
	rs := e.begin(DriverWalkForward, series.Name(), len(windows))

	jobs := make([]job, len(windows))
	for i, w := range windows {
		jobs[i] = job{
			index: w.Index,
			label: windowLabel(series, w),
			split: func() (partition.Split, error) { return w.Apply(series), nil },
		}
	}
	if err := e.execute(ctx, rs, factory, jobs); err != nil {
		return e.finish(rs, err)
	}
	return e.finish(rs, nil)
}

// windowLabel names a window by its test dates
func windowLabel(series *domain.ReturnSeries, w partition.Window) string {
	if w.TestSize() == 0 {
		return fmt.Sprintf("window %d", w.Index)
	}
	return series.Time(w.TestStart).Format(dateLayout) + ".." + series.Time(w.TestEnd-1).Format(dateLayout)
}
