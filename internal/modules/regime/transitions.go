package regime

import (
	"sort"

	"github.com/aristath/quantlab/internal/domain"
)

// Transitions summarizes a labeling. Matrix[i][j] is the empirical
// probability of moving from Regimes[i] to Regimes[j] between consecutive
// observations; rows of regimes never left are all zero.
type Transitions struct {
	Regimes         []int       `json:"regimes" msgpack:"regimes"`
	Matrix          [][]float64 `json:"matrix" msgpack:"matrix"`
	AverageDuration []float64   `json:"average_duration" msgpack:"average_duration"`
	Spells          []int       `json:"spells" msgpack:"spells"`
}

// ComputeTransitions builds the transition matrix and the mean spell length
// (consecutive observations in one regime) per regime, in ascending id order.
func ComputeTransitions(labels domain.RegimeLabeling) *Transitions {
	seen := make(map[int]bool)
	for _, l := range labels {
		seen[l] = true
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	pos := make(map[int]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}

	n := len(ids)
	t := &Transitions{
		Regimes:         ids,
		Matrix:          make([][]float64, n),
		AverageDuration: make([]float64, n),
		Spells:          make([]int, n),
	}
	counts := make([][]float64, n)
	for i := range counts {
		counts[i] = make([]float64, n)
		t.Matrix[i] = make([]float64, n)
	}

	lengths := make([]int, n)
	for k, l := range labels {
		if k == 0 || labels[k-1] != l {
			t.Spells[pos[l]]++
		}
		lengths[pos[l]]++
		if k > 0 {
			counts[pos[labels[k-1]]][pos[l]]++
		}
	}

	for i := range counts {
		total := 0.0
		for _, c := range counts[i] {
			total += c
		}
		if total > 0 {
			for j, c := range counts[i] {
				t.Matrix[i][j] = c / total
			}
		}
		if t.Spells[i] > 0 {
			t.AverageDuration[i] = float64(lengths[i]) / float64(t.Spells[i])
		}
	}
	return t
}
