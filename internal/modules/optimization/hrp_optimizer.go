package optimization

import (
	"math"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/pkg/formulas"
)

// Linkage selects the inter-cluster distance of agglomerative clustering
type Linkage string

const (
	LinkageSingle   Linkage = "single"
	LinkageComplete Linkage = "complete"
	LinkageAverage  Linkage = "average"
)

// HRPOptimizer performs Hierarchical Risk Parity allocation:
// correlation distance, agglomerative clustering, quasi-diagonal ordering and
// recursive bisection with inverse-variance cluster budgets.
type HRPOptimizer struct {
	Linkage     Linkage
	Constraints Constraints
}

// NewHRPOptimizer creates an HRP optimizer with single linkage
func NewHRPOptimizer(c Constraints) *HRPOptimizer {
	return &HRPOptimizer{Linkage: LinkageSingle, Constraints: c}
}

type clusterNode struct {
	left    *clusterNode
	right   *clusterNode
	leaves  []int
	minLeaf int
}

// Optimize implements Optimizer
func (hrp *HRPOptimizer) Optimize(p Problem) (*Result, error) {
	if err := p.Validate(false); err != nil {
		return nil, err
	}
	n := p.size()
	if err := hrp.Constraints.check(n); err != nil {
		return nil, err
	}
	if err := p.degenerate(); err != nil {
		return nil, err
	}
	if n == 1 {
		return newResult(MethodHRP, p, domain.WeightVector{1}, "hierarchical", 0), nil
	}

	dist := formulas.CorrelationToDistance(formulas.CorrelationFromCovariance(p.Covariance))
	root := agglomerate(dist, hrp.Linkage, 1)[0]
	order := quasiDiagonalOrder(root)
	if len(order) != n {
		return nil, optimizationErr("invalid HRP order length %d", len(order))
	}

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0
	}
	recursiveBisection(weights, p.Covariance, order)

	w, err := hrp.Constraints.finalize(weights)
	if err != nil {
		return nil, err
	}
	return newResult(MethodHRP, p, w, "hierarchical", 0), nil
}

// agglomerate merges clusters until k remain. Ties break on the smallest leaf
// indices so the result is deterministic.
func agglomerate(dist [][]float64, linkage Linkage, k int) []*clusterNode {
	n := len(dist)
	clusters := make([]*clusterNode, 0, n)
	for i := 0; i < n; i++ {
		clusters = append(clusters, &clusterNode{leaves: []int{i}, minLeaf: i})
	}

	for len(clusters) > k && len(clusters) > 1 {
		bestI, bestJ := 0, 1
		bestD := clusterDistance(dist, clusters[0], clusters[1], linkage)

		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := clusterDistance(dist, clusters[i], clusters[j], linkage)
				if d < bestD || (d == bestD && clusterPairLess(clusters[i], clusters[j], clusters[bestI], clusters[bestJ])) {
					bestD, bestI, bestJ = d, i, j
				}
			}
		}

		left, right := clusters[bestI], clusters[bestJ]
		if right.minLeaf < left.minLeaf {
			left, right = right, left
		}
		leaves := make([]int, 0, len(left.leaves)+len(right.leaves))
		leaves = append(leaves, left.leaves...)
		leaves = append(leaves, right.leaves...)
		merged := &clusterNode{left: left, right: right, leaves: leaves, minLeaf: left.minLeaf}

		next := make([]*clusterNode, 0, len(clusters)-1)
		for idx, c := range clusters {
			if idx != bestI && idx != bestJ {
				next = append(next, c)
			}
		}
		clusters = append(next, merged)
	}
	return clusters
}

func clusterPairLess(a1, b1, a2, b2 *clusterNode) bool {
	x1, y1 := a1.minLeaf, b1.minLeaf
	if y1 < x1 {
		x1, y1 = y1, x1
	}
	x2, y2 := a2.minLeaf, b2.minLeaf
	if y2 < x2 {
		x2, y2 = y2, x2
	}
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}

func clusterDistance(dist [][]float64, a, b *clusterNode, linkage Linkage) float64 {
	switch linkage {
	case LinkageComplete:
		best := math.Inf(-1)
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				best = math.Max(best, dist[i][j])
			}
		}
		return best
	case LinkageAverage:
		sum := 0.0
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				sum += dist[i][j]
			}
		}
		return sum / float64(len(a.leaves)*len(b.leaves))
	default:
		best := math.Inf(1)
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				best = math.Min(best, dist[i][j])
			}
		}
		return best
	}
}

func quasiDiagonalOrder(node *clusterNode) []int {
	if node == nil {
		return nil
	}
	if node.left == nil && node.right == nil {
		return append([]int(nil), node.leaves...)
	}
	return append(quasiDiagonalOrder(node.left), quasiDiagonalOrder(node.right)...)
}

func recursiveBisection(weights []float64, cov [][]float64, order []int) {
	if len(order) <= 1 {
		return
	}
	split := len(order) / 2
	left, right := order[:split], order[split:]

	vLeft := inverseVarianceClusterVariance(cov, left)
	vRight := inverseVarianceClusterVariance(cov, right)

	alpha := 0.5
	if vLeft+vRight > 0 {
		alpha = 1.0 - vLeft/(vLeft+vRight)
	}
	alpha = math.Max(0.0, math.Min(1.0, alpha))

	for _, idx := range left {
		weights[idx] *= alpha
	}
	for _, idx := range right {
		weights[idx] *= 1.0 - alpha
	}

	recursiveBisection(weights, cov, left)
	recursiveBisection(weights, cov, right)
}

// inverseVarianceClusterVariance is w'Σw of the inverse-variance portfolio of idxs
func inverseVarianceClusterVariance(cov [][]float64, idxs []int) float64 {
	if len(idxs) == 1 {
		return math.Max(cov[idxs[0]][idxs[0]], 0)
	}
	variances := make([]float64, len(idxs))
	for k, i := range idxs {
		variances[k] = math.Max(cov[i][i], 1e-12)
	}
	ivp := formulas.InverseVarianceWeights(variances)

	variance := 0.0
	for a, i := range idxs {
		for b, j := range idxs {
			variance += ivp[a] * cov[i][j] * ivp[b]
		}
	}
	return math.Max(variance, 0)
}
