package validation

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quantlab/internal/domain"
)

type olsFit struct {
	beta        []float64
	stdErr      []float64
	rss         float64
	nobs        int
	nregressors int
}

// ols fits y = Xβ by least squares and returns coefficient standard errors
func ols(x *mat.Dense, y []float64) (*olsFit, error) {
	m, k := x.Dims()
	if m <= k {
		return nil, domain.Insufficient("%d observations for %d regressors", m, k)
	}
	yv := mat.NewVecDense(m, y)

	var beta mat.VecDense
	if err := beta.SolveVec(x, yv); err != nil {
		return nil, domain.Invalid("regression is singular: %v", err)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	rss := 0.0
	for i := 0; i < m; i++ {
		e := y[i] - fitted.AtVec(i)
		rss += e * e
	}

	var xtx, inv mat.Dense
	xtx.Mul(x.T(), x)
	if err := inv.Inverse(&xtx); err != nil {
		return nil, domain.Invalid("regression is singular: %v", err)
	}
	sigma2 := rss / float64(m-k)

	fit := &olsFit{beta: make([]float64, k), stdErr: make([]float64, k), rss: rss, nobs: m, nregressors: k}
	for i := 0; i < k; i++ {
		fit.beta[i] = beta.AtVec(i)
		fit.stdErr[i] = math.Sqrt(math.Max(sigma2*inv.At(i, i), 0))
	}
	return fit, nil
}

func (f *olsFit) aic() float64 {
	n := float64(f.nobs)
	return n*math.Log(math.Max(f.rss, 1e-300)/n) + 2*float64(f.nregressors)
}
