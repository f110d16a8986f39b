package validation

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/pkg/formulas"
)

// ADFResult is the augmented Dickey-Fuller test with a constant term.
// H0: the series has a unit root.
type ADFResult struct {
	Statistic      float64            `json:"statistic" msgpack:"statistic"`
	PValue         float64            `json:"p_value" msgpack:"p_value"`
	Lags           int                `json:"lags" msgpack:"lags"`
	NObs           int                `json:"nobs" msgpack:"nobs"`
	CriticalValues map[string]float64 `json:"critical_values" msgpack:"critical_values"`
	// Degenerate is set when the regression fits exactly; Statistic is then
	// clamped to the end of the response surface
	Degenerate bool `json:"degenerate,omitempty" msgpack:"degenerate,omitempty"`
}

// KPSSResult is the level-stationarity KPSS test. H0: the series is stationary.
type KPSSResult struct {
	Statistic      float64            `json:"statistic" msgpack:"statistic"`
	PValue         float64            `json:"p_value" msgpack:"p_value"`
	Lags           int                `json:"lags" msgpack:"lags"`
	CriticalValues map[string]float64 `json:"critical_values" msgpack:"critical_values"`
}

// StationarityResult combines both tests
type StationarityResult struct {
	ADF        ADFResult  `json:"adf" msgpack:"adf"`
	KPSS       KPSSResult `json:"kpss" msgpack:"kpss"`
	Stationary bool       `json:"stationary" msgpack:"stationary"`
}

// MacKinnon (1994, 2010) response surface, constant-only regression
var (
	adfTauMax   = 2.74
	adfTauMin   = -18.83
	adfTauStar  = -1.61
	adfSmallP   = []float64{2.1659, 1.4412, 0.038269}
	adfLargeP   = []float64{1.7339, 0.93202, -0.12745, -0.010368}
	adfCritPoly = map[string][]float64{
		"1%":  {-3.43035, -6.5393, -16.786, -79.433},
		"5%":  {-2.86154, -2.8903, -4.234, -40.040},
		"10%": {-2.56677, -1.5384, -2.809, 0},
	}
)

var (
	kpssCrit   = []float64{0.347, 0.463, 0.574, 0.739}
	kpssPValue = []float64{0.10, 0.05, 0.025, 0.01}
)

// Stationarity runs ADF and KPSS. The series is stationary iff ADF rejects a
// unit root and KPSS does not reject stationarity at the significance level.
func Stationarity(y []float64, cfg Config) (*StationarityResult, error) {
	adf, err := ADF(y, cfg.ADFMaxLag)
	if err != nil {
		return nil, err
	}
	kpss, err := KPSS(y, cfg.KPSSLags)
	if err != nil {
		return nil, err
	}
	return &StationarityResult{
		ADF:        *adf,
		KPSS:       *kpss,
		Stationary: adf.PValue < cfg.Significance && kpss.PValue > cfg.Significance,
	}, nil
}

// ADF runs the augmented Dickey-Fuller test. maxLag < 0 searches lags
// 0..12·(n/100)^¼ by AIC on a common sample, then refits the chosen lag.
func ADF(y []float64, maxLag int) (*ADFResult, error) {
	n := len(y)
	if n < 10 {
		return nil, domain.Insufficient("ADF needs at least 10 observations, got %d", n)
	}

	autolag := maxLag < 0
	if autolag {
		maxLag = int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	}
	if limit := n/2 - 2; maxLag > limit {
		maxLag = limit
	}
	if maxLag < 0 {
		return nil, domain.Insufficient("series too short for ADF")
	}

	dy := make([]float64, n-1)
	for j := range dy {
		dy[j] = y[j+1] - y[j]
	}

	lag := maxLag
	if autolag {
		best := math.Inf(1)
		for p := 0; p <= maxLag; p++ {
			fit, err := ols(adfDesign(y, dy, p, maxLag), dy[maxLag:])
			if err != nil {
				continue
			}
			if a := fit.aic(); a < best {
				best, lag = a, p
			}
		}
	}

	fit, err := ols(adfDesign(y, dy, lag, lag), dy[lag:])
	if err != nil {
		return nil, err
	}
	stat, degenerate := 0.0, false
	if fit.stdErr[1] > 0 {
		stat = fit.beta[1] / fit.stdErr[1]
	} else {
		degenerate = true
		if fit.beta[1] < 0 {
			stat = adfTauMin
		}
	}

	res := &ADFResult{
		Statistic:      stat,
		PValue:         mackinnonP(stat),
		Lags:           lag,
		NObs:           fit.nobs,
		CriticalValues: make(map[string]float64, len(adfCritPoly)),
		Degenerate:     degenerate,
	}
	inv := 1 / float64(fit.nobs)
	for level, b := range adfCritPoly {
		res.CriticalValues[level] = b[0] + b[1]*inv + b[2]*inv*inv + b[3]*inv*inv*inv
	}
	return res, nil
}

// adfDesign builds rows j = start..len(dy)-1 of [1, y_j, Δy_{j-1} .. Δy_{j-p}]
func adfDesign(y, dy []float64, p, start int) *mat.Dense {
	rows := len(dy) - start
	x := mat.NewDense(rows, p+2, nil)
	for r := 0; r < rows; r++ {
		j := start + r
		x.Set(r, 0, 1)
		x.Set(r, 1, y[j])
		for l := 1; l <= p; l++ {
			x.Set(r, l+1, dy[j-l])
		}
	}
	return x
}

func mackinnonP(stat float64) float64 {
	switch {
	case stat <= adfTauMin:
		return 0
	case stat > adfTauMax:
		return 1
	}
	coef := adfLargeP
	if stat <= adfTauStar {
		coef = adfSmallP
	}
	v, pow := 0.0, 1.0
	for _, c := range coef {
		v += c * pow
		pow *= stat
	}
	return distuv.UnitNormal.CDF(v)
}

// KPSS runs the level-stationarity test with a Bartlett-kernel long-run
// variance. lags < 0 selects ceil(12·(n/100)^¼). The p-value is interpolated
// from the tabulated critical values and clipped to [0.01, 0.10].
func KPSS(y []float64, lags int) (*KPSSResult, error) {
	n := len(y)
	if n < 10 {
		return nil, domain.Insufficient("KPSS needs at least 10 observations, got %d", n)
	}
	if lags < 0 {
		lags = int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	}
	if lags > n-1 {
		lags = n - 1
	}

	mean := formulas.Mean(y)
	e := make([]float64, n)
	for i, v := range y {
		e[i] = v - mean
	}

	s2 := 0.0
	for _, v := range e {
		s2 += v * v
	}
	for s := 1; s <= lags; s++ {
		acc := 0.0
		for t := s; t < n; t++ {
			acc += e[t] * e[t-s]
		}
		s2 += 2 * (1 - float64(s)/float64(lags+1)) * acc
	}
	s2 /= float64(n)

	eta := 0.0
	partial := 0.0
	for _, v := range e {
		partial += v
		eta += partial * partial
	}

	stat := 0.0
	if s2 > 0 {
		stat = eta / (float64(n) * float64(n) * s2)
	}

	return &KPSSResult{
		Statistic: stat,
		PValue:    kpssP(stat),
		Lags:      lags,
		CriticalValues: map[string]float64{
			"10%": kpssCrit[0], "5%": kpssCrit[1], "2.5%": kpssCrit[2], "1%": kpssCrit[3],
		},
	}, nil
}

func kpssP(stat float64) float64 {
	if stat <= kpssCrit[0] {
		return kpssPValue[0]
	}
	last := len(kpssCrit) - 1
	if stat >= kpssCrit[last] {
		return kpssPValue[last]
	}
	for i := 1; i <= last; i++ {
		if stat <= kpssCrit[i] {
			frac := (stat - kpssCrit[i-1]) / (kpssCrit[i] - kpssCrit[i-1])
			return kpssPValue[i-1] + frac*(kpssPValue[i]-kpssPValue[i-1])
		}
	}
	return kpssPValue[last]
}
