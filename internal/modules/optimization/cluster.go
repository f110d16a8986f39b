package optimization

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/pkg/formulas"
)

// ClusterMethod selects how assets are grouped
type ClusterMethod string

const (
	ClusterKMeans       ClusterMethod = "kmeans"
	ClusterHierarchical ClusterMethod = "hierarchical"
)

// ClusterAllocation selects how the budget is split between clusters
type ClusterAllocation string

const (
	// AllocationEqual gives every cluster 1/K of the budget
	AllocationEqual ClusterAllocation = "equal"
	// AllocationInverseVariance sizes clusters by 1/variance of their min-variance portfolio
	AllocationInverseVariance ClusterAllocation = "inverse_variance"
)

// ClusterOptimizer groups assets by return similarity (rows of the
// correlation matrix), solves minimum variance inside every cluster and
// combines the cluster portfolios.
type ClusterOptimizer struct {
	NClusters   int
	Method      ClusterMethod
	Linkage     Linkage
	Allocation  ClusterAllocation
	Constraints Constraints
	// Rand drives k-means++ seeding; required for ClusterKMeans
	Rand *rand.Rand
	log  zerolog.Logger
}

// NewClusterOptimizer creates a k-means clustering allocator seeded with seed
func NewClusterOptimizer(nClusters int, seed uint64, c Constraints, log zerolog.Logger) *ClusterOptimizer {
	return &ClusterOptimizer{
		NClusters:   nClusters,
		Method:      ClusterKMeans,
		Linkage:     LinkageAverage,
		Allocation:  AllocationEqual,
		Constraints: c,
		Rand:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		log:         log.With().Str("component", "cluster_optimizer").Logger(),
	}
}

// Optimize implements Optimizer
func (o *ClusterOptimizer) Optimize(p Problem) (*Result, error) {
	if err := p.Validate(false); err != nil {
		return nil, err
	}
	n := p.size()
	if o.NClusters < 1 || o.NClusters > n {
		return nil, domain.Invalid("n_clusters must be in [1, %d], got %d", n, o.NClusters)
	}
	if err := o.Constraints.check(n); err != nil {
		return nil, err
	}
	if err := p.degenerate(); err != nil {
		return nil, err
	}

	labels, err := o.Cluster(p.Covariance)
	if err != nil {
		return nil, err
	}
	groups := groupLabels(labels, o.NClusters)

	raw := make([]float64, n)
	budgets := make([]float64, len(groups))
	inner := make([][]float64, len(groups))
	for c, members := range groups {
		sub := subProblem(p, members)
		r, err := NewMinVarianceOptimizer(DefaultConstraints()).Optimize(sub)
		if err != nil {
			return nil, err
		}
		inner[c] = r.Weights
		switch o.Allocation {
		case AllocationInverseVariance:
			budgets[c] = 1 / math.Max(r.Volatility*r.Volatility, 1e-18)
		default:
			budgets[c] = 1
		}
	}
	total := 0.0
	for _, b := range budgets {
		total += b
	}
	for c, members := range groups {
		for k, asset := range members {
			raw[asset] = budgets[c] / total * inner[c][k]
		}
	}

	o.log.Debug().Int("assets", n).Int("clusters", len(groups)).Str("method", string(o.Method)).Msg("Clustered allocation")

	w, err := o.Constraints.finalize(raw)
	if err != nil {
		return nil, err
	}
	return newResult(MethodCluster, p, w, string(o.Method), 0), nil
}

// Cluster returns a cluster label in [0, NClusters) for every asset
func (o *ClusterOptimizer) Cluster(cov [][]float64) ([]int, error) {
	corr := formulas.CorrelationFromCovariance(cov)
	switch o.Method {
	case ClusterHierarchical:
		dist := formulas.CorrelationToDistance(corr)
		nodes := agglomerate(dist, o.Linkage, o.NClusters)
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].minLeaf < nodes[j].minLeaf })
		labels := make([]int, len(cov))
		for c, node := range nodes {
			for _, leaf := range node.leaves {
				labels[leaf] = c
			}
		}
		return labels, nil
	case ClusterKMeans, "":
		if o.Rand == nil {
			return nil, domain.Invalid("k-means clustering needs a seeded random source")
		}
		return kMeans(corr, o.NClusters, o.Rand, kMeansRestarts, 100), nil
	default:
		return nil, domain.Invalid("unknown cluster method %q", o.Method)
	}
}

const kMeansRestarts = 10

// kMeans keeps the lowest-inertia labeling over several k-means++ restarts
func kMeans(points [][]float64, k int, rng *rand.Rand, restarts, maxIter int) []int {
	var best []int
	bestInertia := math.Inf(1)
	for r := 0; r < restarts; r++ {
		labels, inertia := lloyd(points, k, rng, maxIter)
		if inertia < bestInertia-1e-12 {
			best, bestInertia = labels, inertia
		}
	}
	return canonicalLabels(best)
}

// lloyd runs Lloyd's algorithm with k-means++ seeding on the rows of points.
// Empty clusters are reseeded with the point farthest from its centroid.
func lloyd(points [][]float64, k int, rng *rand.Rand, maxIter int) ([]int, float64) {
	n := len(points)
	centroids := kMeansPlusPlus(points, k, rng)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, pt := range points {
			best, bestD := 0, math.Inf(1)
			for c, ctr := range centroids {
				if d := sqDist(pt, ctr); d < bestD {
					best, bestD = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}

		counts := make([]int, k)
		for _, l := range labels {
			counts[l]++
		}
		for c := 0; c < k; c++ {
			if counts[c] > 0 {
				continue
			}
			far, farD := -1, -1.0
			for i, pt := range points {
				if counts[labels[i]] < 2 {
					continue
				}
				if d := sqDist(pt, centroids[labels[i]]); d > farD {
					far, farD = i, d
				}
			}
			if far >= 0 {
				counts[labels[far]]--
				labels[far] = c
				counts[c] = 1
				changed = true
			}
		}

		for c := range centroids {
			for d := range centroids[c] {
				centroids[c][d] = 0
			}
		}
		for i, pt := range points {
			for d, v := range pt {
				centroids[labels[i]][d] += v
			}
		}
		for c := range centroids {
			for d := range centroids[c] {
				centroids[c][d] /= float64(counts[c])
			}
		}

		if !changed {
			break
		}
	}

	inertia := 0.0
	for i, pt := range points {
		inertia += sqDist(pt, centroids[labels[i]])
	}
	return labels, inertia
}

func kMeansPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centroids := make([][]float64, 0, k)
	chosen := make([]bool, n)

	first := rng.IntN(n)
	chosen[first] = true
	centroids = append(centroids, append([]float64(nil), points[first]...))

	for len(centroids) < k {
		weights := make([]float64, n)
		total := 0.0
		for i, pt := range points {
			if chosen[i] {
				continue
			}
			best := math.Inf(1)
			for _, c := range centroids {
				best = math.Min(best, sqDist(pt, c))
			}
			weights[i] = best
			total += best
		}

		next := -1
		if total > 0 {
			target := rng.Float64() * total
			for i, w := range weights {
				if chosen[i] {
					continue
				}
				target -= w
				if target <= 0 {
					next = i
					break
				}
			}
		}
		if next < 0 {
			// identical points: take the first unused one
			for i := range points {
				if !chosen[i] {
					next = i
					break
				}
			}
		}
		chosen[next] = true
		centroids = append(centroids, append([]float64(nil), points[next]...))
	}
	return centroids
}

// canonicalLabels renumbers clusters in order of first appearance
func canonicalLabels(labels []int) []int {
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		if _, ok := mapping[l]; !ok {
			mapping[l] = len(mapping)
		}
		out[i] = mapping[l]
	}
	return out
}

func groupLabels(labels []int, k int) [][]int {
	groups := make([][]int, 0, k)
	index := make(map[int]int)
	for asset, l := range labels {
		g, ok := index[l]
		if !ok {
			g = len(groups)
			index[l] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], asset)
	}
	return groups
}

func subProblem(p Problem, members []int) Problem {
	sub := Problem{Covariance: make([][]float64, len(members))}
	for a, i := range members {
		sub.Covariance[a] = make([]float64, len(members))
		for b, j := range members {
			sub.Covariance[a][b] = p.Covariance[i][j]
		}
	}
	if len(p.ExpectedReturns) > 0 {
		sub.ExpectedReturns = make([]float64, len(members))
		for a, i := range members {
			sub.ExpectedReturns[a] = p.ExpectedReturns[i]
		}
	}
	return sub
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
