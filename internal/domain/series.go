package domain

import (
	"math"
	"time"
)

// ReturnSeries is an immutable ordered sequence of (timestamp, return) pairs
// with optional numeric feature columns. Timestamps are strictly increasing.
// Derived series may share backing arrays with their parent, which is safe
// because no method mutates them.
type ReturnSeries struct {
	name         string
	times        []time.Time
	returns      []float64
	featureNames []string
	features     [][]float64 // features[k][i] is feature k at observation i
}

// NewReturnSeries validates and copies the inputs
func NewReturnSeries(name string, times []time.Time, returns []float64) (*ReturnSeries, error) {
	if len(times) != len(returns) {
		return nil, Invalid("series %q has %d timestamps but %d returns", name, len(times), len(returns))
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, Invalid("series %q timestamps not strictly increasing at index %d (%s <= %s)",
				name, i, times[i].Format(time.RFC3339), times[i-1].Format(time.RFC3339))
		}
	}

	t := make([]time.Time, len(times))
	copy(t, times)
	r := make([]float64, len(returns))
	copy(r, returns)

	return &ReturnSeries{name: name, times: t, returns: r}, nil
}

// NewDailySeries places returns on a consecutive daily calendar starting at start
func NewDailySeries(name string, start time.Time, returns []float64) *ReturnSeries {
	times := make([]time.Time, len(returns))
	for i := range returns {
		times[i] = start.AddDate(0, 0, i)
	}
	r := make([]float64, len(returns))
	copy(r, returns)
	return &ReturnSeries{name: name, times: times, returns: r}
}

// WithFeatures returns a new series carrying the given feature columns
func (s *ReturnSeries) WithFeatures(names []string, columns [][]float64) (*ReturnSeries, error) {
	if len(names) != len(columns) {
		return nil, Invalid("series %q: %d feature names for %d columns", s.name, len(names), len(columns))
	}
	seen := make(map[string]bool, len(names))
	cols := make([][]float64, len(columns))
	for k, col := range columns {
		if len(col) != len(s.returns) {
			return nil, Invalid("series %q: feature %q has %d values, want %d", s.name, names[k], len(col), len(s.returns))
		}
		if seen[names[k]] {
			return nil, Invalid("series %q: duplicate feature %q", s.name, names[k])
		}
		seen[names[k]] = true
		cols[k] = append([]float64(nil), col...)
	}

	out := s.shallow()
	out.featureNames = append([]string(nil), names...)
	out.features = cols
	return out, nil
}

// Name returns the series name
func (s *ReturnSeries) Name() string { return s.name }

// Len returns the number of observations
func (s *ReturnSeries) Len() int { return len(s.returns) }

// Time returns the timestamp of observation i
func (s *ReturnSeries) Time(i int) time.Time { return s.times[i] }

// Return returns the return of observation i
func (s *ReturnSeries) Return(i int) float64 { return s.returns[i] }

// Start returns the first timestamp, zero time for an empty series
func (s *ReturnSeries) Start() time.Time {
	if len(s.times) == 0 {
		return time.Time{}
	}
	return s.times[0]
}

// End returns the last timestamp, zero time for an empty series
func (s *ReturnSeries) End() time.Time {
	if len(s.times) == 0 {
		return time.Time{}
	}
	return s.times[len(s.times)-1]
}

// Returns returns a copy of the return values
func (s *ReturnSeries) Returns() []float64 {
	out := make([]float64, len(s.returns))
	copy(out, s.returns)
	return out
}

// Times returns a copy of the timestamps
func (s *ReturnSeries) Times() []time.Time {
	out := make([]time.Time, len(s.times))
	copy(out, s.times)
	return out
}

// FeatureNames lists the feature columns in order
func (s *ReturnSeries) FeatureNames() []string {
	return append([]string(nil), s.featureNames...)
}

// Feature returns a copy of the named feature column
func (s *ReturnSeries) Feature(name string) ([]float64, bool) {
	for k, n := range s.featureNames {
		if n == name {
			return append([]float64(nil), s.features[k]...), true
		}
	}
	return nil, false
}

// HasNaN reports whether any return is NaN or infinite
func (s *ReturnSeries) HasNaN() bool {
	for _, r := range s.returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return true
		}
	}
	return false
}

// Slice returns the half-open window [start, end) as a view on the same data
func (s *ReturnSeries) Slice(start, end int) *ReturnSeries {
	if start < 0 {
		start = 0
	}
	if end > len(s.returns) {
		end = len(s.returns)
	}
	if start > end {
		start = end
	}
	out := &ReturnSeries{
		name:         s.name,
		times:        s.times[start:end:end],
		returns:      s.returns[start:end:end],
		featureNames: s.featureNames,
	}
	if len(s.features) > 0 {
		out.features = make([][]float64, len(s.features))
		for k, col := range s.features {
			out.features[k] = col[start:end:end]
		}
	}
	return out
}

// Select returns the observations at strictly increasing indices
func (s *ReturnSeries) Select(indices []int) (*ReturnSeries, error) {
	for i, idx := range indices {
		if idx < 0 || idx >= len(s.returns) {
			return nil, Invalid("series %q: index %d out of range", s.name, idx)
		}
		if i > 0 && idx <= indices[i-1] {
			return nil, Invalid("series %q: selection indices must be strictly increasing", s.name)
		}
	}
	return s.gather(s.name, indices, false), nil
}

// Rebased builds a resampled series: the observations at indices (repeats
// allowed, any order) placed on this series' calendar starting at its first
// timestamp. The sample may not be longer than the series.
func (s *ReturnSeries) Rebased(name string, indices []int) (*ReturnSeries, error) {
	if len(indices) > len(s.returns) {
		return nil, Invalid("series %q: resample of %d exceeds length %d", s.name, len(indices), len(s.returns))
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(s.returns) {
			return nil, Invalid("series %q: index %d out of range", s.name, idx)
		}
	}
	return s.gather(name, indices, true), nil
}

// WithReturns returns a series with the same calendar and features but new returns
func (s *ReturnSeries) WithReturns(name string, returns []float64) (*ReturnSeries, error) {
	if len(returns) != len(s.returns) {
		return nil, Invalid("series %q: %d replacement returns for %d observations", s.name, len(returns), len(s.returns))
	}
	out := s.shallow()
	out.name = name
	out.returns = append([]float64(nil), returns...)
	return out, nil
}

func (s *ReturnSeries) gather(name string, indices []int, rebase bool) *ReturnSeries {
	out := &ReturnSeries{
		name:         name,
		times:        make([]time.Time, len(indices)),
		returns:      make([]float64, len(indices)),
		featureNames: s.featureNames,
	}
	if len(s.features) > 0 {
		out.features = make([][]float64, len(s.features))
		for k := range s.features {
			out.features[k] = make([]float64, len(indices))
		}
	}
	for i, idx := range indices {
		if rebase {
			out.times[i] = s.times[i]
		} else {
			out.times[i] = s.times[idx]
		}
		out.returns[i] = s.returns[idx]
		for k := range s.features {
			out.features[k][i] = s.features[k][idx]
		}
	}
	return out
}

func (s *ReturnSeries) shallow() *ReturnSeries {
	return &ReturnSeries{
		name:         s.name,
		times:        s.times,
		returns:      s.returns,
		featureNames: s.featureNames,
		features:     s.features,
	}
}

// Panel is a set of return series sharing one calendar, one column per asset
// or strategy.
type Panel struct {
	series []*ReturnSeries
}

// NewPanel checks that every series has identical timestamps
func NewPanel(series ...*ReturnSeries) (*Panel, error) {
	if len(series) == 0 {
		return nil, Invalid("panel needs at least one series")
	}
	ref := series[0]
	for _, s := range series[1:] {
		if s.Len() != ref.Len() {
			return nil, Invalid("panel series %q has %d observations, %q has %d", s.Name(), s.Len(), ref.Name(), ref.Len())
		}
		for i := range s.times {
			if !s.times[i].Equal(ref.times[i]) {
				return nil, Invalid("panel series %q is not aligned with %q at index %d", s.Name(), ref.Name(), i)
			}
		}
	}
	return &Panel{series: append([]*ReturnSeries(nil), series...)}, nil
}

// Width returns the number of series
func (p *Panel) Width() int { return len(p.series) }

// Len returns the number of observations per series
func (p *Panel) Len() int { return p.series[0].Len() }

// Series returns column i
func (p *Panel) Series(i int) *ReturnSeries { return p.series[i] }

// Names returns the series names in column order
func (p *Panel) Names() []string {
	names := make([]string, len(p.series))
	for i, s := range p.series {
		names[i] = s.Name()
	}
	return names
}

// Columns returns copies of every series' returns
func (p *Panel) Columns() [][]float64 {
	cols := make([][]float64, len(p.series))
	for i, s := range p.series {
		cols[i] = s.Returns()
	}
	return cols
}
