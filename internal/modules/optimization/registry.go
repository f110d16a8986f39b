package optimization

import (
	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/domain"
)

// Params carries the settings of every optimizer; each method reads the
// fields it needs.
type Params struct {
	Constraints Constraints `json:"constraints" yaml:"constraints"`

	RiskAversion float64 `json:"risk_aversion,omitempty" yaml:"risk_aversion"`
	RiskFreeRate float64 `json:"risk_free_rate,omitempty" yaml:"risk_free_rate"`

	Tau        float64   `json:"tau,omitempty" yaml:"tau"`
	MarketCaps []float64 `json:"market_caps,omitempty" yaml:"market_caps"`
	Views      *Views    `json:"views,omitempty" yaml:"views"`

	RiskMeasure      RiskMeasure `json:"risk_measure,omitempty" yaml:"risk_measure"`
	TargetVolatility *float64    `json:"target_volatility,omitempty" yaml:"target_volatility"`

	MinVarianceMethod MinVarianceMethod `json:"min_variance_method,omitempty" yaml:"min_variance_method"`

	NClusters         int               `json:"n_clusters,omitempty" yaml:"n_clusters"`
	ClusterMethod     ClusterMethod     `json:"cluster_method,omitempty" yaml:"cluster_method"`
	ClusterAllocation ClusterAllocation `json:"cluster_allocation,omitempty" yaml:"cluster_allocation"`
	Linkage           Linkage           `json:"linkage,omitempty" yaml:"linkage"`
	Seed              uint64            `json:"seed,omitempty" yaml:"seed"`
}

// DefaultParams returns λ=1, τ=0.05 and three k-means clusters
func DefaultParams() Params {
	return Params{
		Constraints:       DefaultConstraints(),
		RiskAversion:      1,
		Tau:               0.05,
		RiskMeasure:       RiskMeasureVolatility,
		MinVarianceMethod: MinVarianceAuto,
		NClusters:         3,
		ClusterMethod:     ClusterKMeans,
		ClusterAllocation: AllocationEqual,
		Linkage:           LinkageSingle,
	}
}

// New builds the optimizer registered under method
func New(method Method, params Params, log zerolog.Logger) (Optimizer, error) {
	switch method {
	case MethodMeanVariance:
		if params.RiskAversion <= 0 {
			return nil, domain.Invalid("risk aversion must be > 0")
		}
		return NewMeanVarianceOptimizer(params.RiskAversion, params.Constraints), nil
	case MethodMaxSharpe:
		return NewMaxSharpeOptimizer(params.RiskFreeRate, params.Constraints), nil
	case MethodMinVariance:
		o := NewMinVarianceOptimizer(params.Constraints)
		if params.MinVarianceMethod != "" {
			o.Method = params.MinVarianceMethod
		}
		return o, nil
	case MethodRiskParity:
		o := NewRiskParityOptimizer(params.Constraints)
		if params.RiskMeasure != "" {
			o.Measure = params.RiskMeasure
		}
		o.TargetVolatility = params.TargetVolatility
		return o, nil
	case MethodBlackLitterman:
		return &BlackLittermanOptimizer{
			RiskAversion: params.RiskAversion,
			Tau:          params.Tau,
			MarketCaps:   params.MarketCaps,
			Views:        params.Views,
			Constraints:  params.Constraints,
		}, nil
	case MethodCluster:
		o := NewClusterOptimizer(params.NClusters, params.Seed, params.Constraints, log)
		if params.ClusterMethod != "" {
			o.Method = params.ClusterMethod
		}
		if params.ClusterAllocation != "" {
			o.Allocation = params.ClusterAllocation
		}
		if params.Linkage != "" {
			o.Linkage = params.Linkage
		}
		return o, nil
	case MethodHRP:
		o := NewHRPOptimizer(params.Constraints)
		if params.Linkage != "" {
			o.Linkage = params.Linkage
		}
		return o, nil
	}
	return nil, domain.Invalid("unknown optimization method %q", method)
}

// Methods lists every registered method
func Methods() []Method {
	return []Method{
		MethodMeanVariance, MethodMaxSharpe, MethodMinVariance, MethodRiskParity,
		MethodBlackLitterman, MethodCluster, MethodHRP,
	}
}
