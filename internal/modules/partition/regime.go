package partition

import (
	"sort"

	"github.com/aristath/quantlab/internal/domain"
)

// RegimeGroup is the sub-series of one regime, observations in time order
type RegimeGroup struct {
	Regime  int
	Indices []int
	Series  *domain.ReturnSeries
}

// ExcludedRegime records a regime skipped for lack of samples
type ExcludedRegime struct {
	Regime  int `json:"regime" msgpack:"regime"`
	Samples int `json:"samples" msgpack:"samples"`
}

// RegimeSplitResult lists usable regimes in ascending id order plus the excluded ones
type RegimeSplitResult struct {
	Groups   []RegimeGroup
	Excluded []ExcludedRegime
}

// RegimeSplit partitions s by labels. Regimes with fewer than minSamples
// observations are excluded and recorded.
func RegimeSplit(s *domain.ReturnSeries, labels domain.RegimeLabeling, minSamples int) (*RegimeSplitResult, error) {
	if len(labels) != s.Len() {
		return nil, domain.Invalid("%d regime labels for %d observations", len(labels), s.Len())
	}
	if minSamples < 1 {
		return nil, domain.Invalid("min_samples_per_regime must be >= 1, got %d", minSamples)
	}

	byRegime := make(map[int][]int)
	for i, r := range labels {
		byRegime[r] = append(byRegime[r], i)
	}
	ids := make([]int, 0, len(byRegime))
	for r := range byRegime {
		ids = append(ids, r)
	}
	sort.Ints(ids)

	res := &RegimeSplitResult{}
	for _, r := range ids {
		idx := byRegime[r]
		if len(idx) < minSamples {
			res.Excluded = append(res.Excluded, ExcludedRegime{Regime: r, Samples: len(idx)})
			continue
		}
		sub, err := s.Select(idx)
		if err != nil {
			return nil, err
		}
		res.Groups = append(res.Groups, RegimeGroup{Regime: r, Indices: idx, Series: sub})
	}
	return res, nil
}
