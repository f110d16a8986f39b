package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/pkg/formulas"
)

// HighCorrelationThreshold flags asset pairs whose |ρ| reaches 0.8
const HighCorrelationThreshold = 0.80

// Shrinkage selects the covariance estimator
type Shrinkage string

const (
	ShrinkageNone       Shrinkage = "none"
	ShrinkageLedoitWolf Shrinkage = "ledoit_wolf"
	// ShrinkageDecay weights observations with an exponential half-life
	ShrinkageDecay Shrinkage = "decay"
)

// RiskOptions configures RiskModelBuilder.EstimateProblem
type RiskOptions struct {
	TradingDays  int
	Shrinkage    Shrinkage
	HalfLifeDays float64 // only for ShrinkageDecay
}

// CorrelationPair is a pair of strongly correlated assets
type CorrelationPair struct {
	Asset1      string  `json:"asset1"`
	Asset2      string  `json:"asset2"`
	Correlation float64 `json:"correlation"`
}

// RiskModelBuilder estimates annualized expected returns and covariances from
// aligned return panels.
type RiskModelBuilder struct {
	log zerolog.Logger
}

// NewRiskModelBuilder creates a new risk model builder
func NewRiskModelBuilder(log zerolog.Logger) *RiskModelBuilder {
	return &RiskModelBuilder{log: log.With().Str("component", "risk_model").Logger()}
}

// EstimateProblem builds an optimizer Problem from a panel of strategy returns
func (rb *RiskModelBuilder) EstimateProblem(panel *domain.Panel, opts RiskOptions) (Problem, error) {
	if panel == nil || panel.Width() == 0 {
		return Problem{}, domain.Invalid("empty return panel")
	}
	if opts.TradingDays <= 0 {
		opts.TradingDays = 252
	}
	if panel.Len() < 2 {
		return Problem{}, domain.Insufficient("need at least 2 observations, got %d", panel.Len())
	}
	cols := panel.Columns()
	for i, c := range cols {
		for _, v := range c {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Problem{}, domain.Invalid("series %s contains non-finite returns", panel.Names()[i])
			}
		}
	}

	var cov [][]float64
	var err error
	switch opts.Shrinkage {
	case ShrinkageLedoitWolf:
		var delta float64
		cov, delta = LedoitWolf(cols)
		rb.log.Debug().Float64("shrinkage", delta).Msg("Applied Ledoit-Wolf shrinkage")
	case ShrinkageDecay:
		weights, werr := timeDecayWeights(panel.Len(), opts.HalfLifeDays)
		if werr != nil {
			return Problem{}, werr
		}
		cov, err = weightedCovariance(cols, weights)
		if err != nil {
			return Problem{}, err
		}
	case ShrinkageNone, "":
		cov = formulas.CovarianceMatrix(cols)
	default:
		return Problem{}, domain.Invalid("unknown shrinkage %q", opts.Shrinkage)
	}

	td := float64(opts.TradingDays)
	mu := make([]float64, len(cols))
	for i, c := range cols {
		mu[i] = formulas.Mean(c) * td
	}
	for i := range cov {
		for j := range cov[i] {
			cov[i][j] *= td
		}
	}

	rb.log.Info().
		Int("assets", len(cols)).
		Int("observations", panel.Len()).
		Str("shrinkage", string(opts.Shrinkage)).
		Msg("Estimated risk model")

	return Problem{Assets: panel.Names(), ExpectedReturns: mu, Covariance: cov}, nil
}

// HighCorrelations lists asset pairs with |ρ| >= threshold
func (rb *RiskModelBuilder) HighCorrelations(p Problem, threshold float64) []CorrelationPair {
	corr := formulas.CorrelationFromCovariance(p.Covariance)
	names := p.Assets
	if len(names) != len(corr) {
		names = make([]string, len(corr))
		for i := range names {
			names[i] = fmt.Sprintf("asset_%d", i)
		}
	}

	pairs := make([]CorrelationPair, 0)
	for i := 0; i < len(corr); i++ {
		for j := i + 1; j < len(corr); j++ {
			if math.Abs(corr[i][j]) >= threshold {
				pairs = append(pairs, CorrelationPair{Asset1: names[i], Asset2: names[j], Correlation: corr[i][j]})
				rb.log.Debug().
					Str("asset1", names[i]).
					Str("asset2", names[j]).
					Float64("correlation", corr[i][j]).
					Msg("High correlation detected")
			}
		}
	}
	return pairs
}

// LedoitWolf shrinks the sample covariance (1/T normalization) towards the
// constant-correlation target and returns the estimate with its intensity δ.
//
// Reference: Ledoit, O., & Wolf, M. (2004). "Honey, I shrunk the sample covariance matrix"
func LedoitWolf(series [][]float64) ([][]float64, float64) {
	n := len(series)
	t := len(series[0])
	tf := float64(t)

	x := make([][]float64, n)
	for i, s := range series {
		m := formulas.Mean(s)
		x[i] = make([]float64, t)
		for k, v := range s {
			x[i][k] = v - m
		}
	}

	sample := make([][]float64, n)
	for i := range sample {
		sample[i] = make([]float64, n)
		for j := 0; j <= i; j++ {
			s := 0.0
			for k := 0; k < t; k++ {
				s += x[i][k] * x[j][k]
			}
			sample[i][j] = s / tf
			sample[j][i] = sample[i][j]
		}
	}
	if n == 1 {
		return sample, 0
	}

	sd := make([]float64, n)
	for i := range sd {
		sd[i] = math.Sqrt(sample[i][i])
	}
	rBar := 0.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sd[i] > 0 && sd[j] > 0 {
				rBar += sample[i][j] / (sd[i] * sd[j])
			}
		}
	}
	rBar = 2 * rBar / float64(n*(n-1))

	target := make([][]float64, n)
	for i := range target {
		target[i] = make([]float64, n)
		for j := range target[i] {
			if i == j {
				target[i][j] = sample[i][i]
			} else {
				target[i][j] = rBar * sd[i] * sd[j]
			}
		}
	}

	// π: asymptotic variances of the sample covariances
	piMat := make([][]float64, n)
	for i := range piMat {
		piMat[i] = make([]float64, n)
		for j := range piMat[i] {
			s := 0.0
			for k := 0; k < t; k++ {
				d := x[i][k]*x[j][k] - sample[i][j]
				s += d * d
			}
			piMat[i][j] = s / tf
		}
	}
	pi := 0.0
	for i := range piMat {
		for j := range piMat[i] {
			pi += piMat[i][j]
		}
	}

	rho := 0.0
	for i := 0; i < n; i++ {
		rho += piMat[i][i]
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j || sd[i] == 0 || sd[j] == 0 {
				continue
			}
			var thetaII, thetaJJ float64
			for k := 0; k < t; k++ {
				cross := x[i][k]*x[j][k] - sample[i][j]
				thetaII += (x[i][k]*x[i][k] - sample[i][i]) * cross
				thetaJJ += (x[j][k]*x[j][k] - sample[j][j]) * cross
			}
			thetaII /= tf
			thetaJJ /= tf
			rho += rBar / 2 * (sd[j]/sd[i]*thetaII + sd[i]/sd[j]*thetaJJ)
		}
	}

	gamma := 0.0
	for i := range target {
		for j := range target[i] {
			d := target[i][j] - sample[i][j]
			gamma += d * d
		}
	}

	delta := 0.0
	if gamma > 0 {
		kappa := (pi - rho) / gamma
		delta = math.Max(0, math.Min(1, kappa/tf))
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = delta*target[i][j] + (1-delta)*sample[i][j]
		}
	}
	return out, delta
}

// timeDecayWeights returns normalized observation weights (oldest -> newest)
func timeDecayWeights(n int, halfLifeDays float64) ([]float64, error) {
	if halfLifeDays <= 0 {
		return nil, domain.Invalid("half life must be > 0, got %v", halfLifeDays)
	}
	lambda := math.Ln2 / halfLifeDays
	weights := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		age := float64((n - 1) - i) // 0 for newest
		weights[i] = math.Exp(-lambda * age)
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights, nil
}

// weightedCovariance uses the effective-sample correction: denom = 1 - sum(w^2)
func weightedCovariance(series [][]float64, weights []float64) ([][]float64, error) {
	n := len(series)
	t := len(weights)
	mu := make([]float64, n)
	for i, s := range series {
		if len(s) != t {
			return nil, domain.Invalid("inconsistent return lengths")
		}
		for k := 0; k < t; k++ {
			mu[i] += weights[k] * s[k]
		}
	}

	sumW2 := 0.0
	for _, w := range weights {
		sumW2 += w * w
	}
	denom := 1.0 - sumW2
	if denom <= 0 {
		return nil, domain.Insufficient("effective sample size too small")
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := 0.0
			for k := 0; k < t; k++ {
				s += weights[k] * (series[i][k] - mu[i]) * (series[j][k] - mu[j])
			}
			cov[i][j] = s / denom
			cov[j][i] = cov[i][j]
		}
	}
	return cov, nil
}
