package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quantlab/internal/domain"
)

// Views are investor views for Black-Litterman: P (k×n) picks assets, Q (k)
// holds the view returns and Omega (k×k) their uncertainty. A nil Omega
// defaults to diag(P τΣ P').
type Views struct {
	P     [][]float64 `json:"p"`
	Q     []float64   `json:"q"`
	Omega [][]float64 `json:"omega,omitempty"`
}

// BlackLittermanOptimizer blends market-implied returns with views and feeds
// the posterior into mean-variance.
type BlackLittermanOptimizer struct {
	RiskAversion float64
	Tau          float64
	// MarketCaps are converted into market weights
	MarketCaps  []float64
	Views       *Views
	Constraints Constraints
}

// Posterior holds the Black-Litterman outputs
type Posterior struct {
	Implied    []float64   // Π = λΣw_mkt
	Returns    []float64   // E[R]
	Covariance [][]float64 // Σ + M
}

// Optimize implements Optimizer. Problem.ExpectedReturns is ignored; the
// posterior returns replace it.
func (o *BlackLittermanOptimizer) Optimize(p Problem) (*Result, error) {
	post, err := o.Posterior(p)
	if err != nil {
		return nil, err
	}
	mv := &MeanVarianceOptimizer{RiskAversion: o.RiskAversion, Constraints: o.Constraints}
	r, err := mv.Optimize(Problem{Assets: p.Assets, ExpectedReturns: post.Returns, Covariance: post.Covariance})
	if err != nil {
		return nil, err
	}
	r.Method = MethodBlackLitterman
	return r, nil
}

// Posterior computes E[R] = [(τΣ)⁻¹ + P'Ω⁻¹P]⁻¹ [(τΣ)⁻¹Π + P'Ω⁻¹Q] and the posterior covariance
func (o *BlackLittermanOptimizer) Posterior(p Problem) (*Posterior, error) {
	if err := p.Validate(false); err != nil {
		return nil, err
	}
	n := p.size()
	if o.RiskAversion <= 0 {
		return nil, domain.Invalid("risk aversion must be > 0, got %g", o.RiskAversion)
	}
	if o.Tau <= 0 {
		return nil, domain.Invalid("tau must be > 0, got %g", o.Tau)
	}
	if len(o.MarketCaps) != n {
		return nil, domain.Invalid("%d market caps for %d assets", len(o.MarketCaps), n)
	}
	wMkt, err := domain.Normalize(o.MarketCaps)
	if err != nil {
		return nil, err
	}
	if err := p.degenerate(); err != nil {
		return nil, err
	}

	sigma := denseOf(p.Covariance)
	implied := mat.NewVecDense(n, nil)
	implied.MulVec(sigma, mat.NewVecDense(n, wMkt))
	implied.ScaleVec(o.RiskAversion, implied)

	tauSigma := mat.NewDense(n, n, nil)
	tauSigma.Scale(o.Tau, sigma)
	var tauSigmaInv mat.Dense
	if err := tauSigmaInv.Inverse(tauSigma); err != nil {
		return nil, optimizationErr("τΣ is singular: %v", err)
	}

	// precision = (τΣ)⁻¹ + P'Ω⁻¹P, rhs = (τΣ)⁻¹Π + P'Ω⁻¹Q
	precision := mat.DenseCopyOf(&tauSigmaInv)
	rhs := mat.NewVecDense(n, nil)
	rhs.MulVec(&tauSigmaInv, implied)

	if o.Views != nil && len(o.Views.Q) > 0 {
		P, omegaInv, Q, err := o.viewMatrices(n, tauSigma)
		if err != nil {
			return nil, err
		}
		var ptOmegaInv mat.Dense
		ptOmegaInv.Mul(P.T(), omegaInv)

		var ptOmegaInvP mat.Dense
		ptOmegaInvP.Mul(&ptOmegaInv, P)
		precision.Add(precision, &ptOmegaInvP)

		var viewTerm mat.VecDense
		viewTerm.MulVec(&ptOmegaInv, Q)
		rhs.AddVec(rhs, &viewTerm)
	}

	var m mat.Dense
	if err := m.Inverse(precision); err != nil {
		return nil, optimizationErr("posterior precision is singular: %v", err)
	}
	var posterior mat.VecDense
	posterior.MulVec(&m, rhs)

	post := &Posterior{
		Implied:    make([]float64, n),
		Returns:    make([]float64, n),
		Covariance: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		post.Implied[i] = implied.AtVec(i)
		post.Returns[i] = posterior.AtVec(i)
		post.Covariance[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			// symmetrize away inversion round-off
			post.Covariance[i][j] = p.Covariance[i][j] + (m.At(i, j)+m.At(j, i))/2
		}
	}
	return post, nil
}

func (o *BlackLittermanOptimizer) viewMatrices(n int, tauSigma *mat.Dense) (*mat.Dense, *mat.Dense, *mat.VecDense, error) {
	v := o.Views
	k := len(v.Q)
	if len(v.P) != k {
		return nil, nil, nil, domain.Invalid("%d view rows for %d view returns", len(v.P), k)
	}
	for i, row := range v.P {
		if len(row) != n {
			return nil, nil, nil, domain.Invalid("view %d has %d weights, want %d", i, len(row), n)
		}
	}
	P := denseOf(v.P)
	Q := mat.NewVecDense(k, append([]float64(nil), v.Q...))

	var omega *mat.Dense
	if v.Omega == nil {
		var tmp, full mat.Dense
		tmp.Mul(P, tauSigma)
		full.Mul(&tmp, P.T())
		omega = mat.NewDense(k, k, nil)
		for i := 0; i < k; i++ {
			omega.Set(i, i, math.Max(full.At(i, i), 1e-12))
		}
	} else {
		if len(v.Omega) != k {
			return nil, nil, nil, domain.Invalid("omega must be %dx%d", k, k)
		}
		for _, row := range v.Omega {
			if len(row) != k {
				return nil, nil, nil, domain.Invalid("omega must be %dx%d", k, k)
			}
		}
		omega = denseOf(v.Omega)
	}

	var omegaInv mat.Dense
	if err := omegaInv.Inverse(omega); err != nil {
		return nil, nil, nil, optimizationErr("view uncertainty matrix is singular: %v", err)
	}
	return P, &omegaInv, Q, nil
}

func denseOf(m [][]float64) *mat.Dense {
	rows, cols := len(m), len(m[0])
	d := mat.NewDense(rows, cols, nil)
	for i, row := range m {
		for j, v := range row {
			d.Set(i, j, v)
		}
	}
	return d
}
