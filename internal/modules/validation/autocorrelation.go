package validation

import (
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/pkg/formulas"
)

// LjungBoxLag is the Q statistic at one lag
type LjungBoxLag struct {
	Lag       int     `json:"lag" msgpack:"lag"`
	Statistic float64 `json:"statistic" msgpack:"statistic"`
	PValue    float64 `json:"p_value" msgpack:"p_value"`
}

// AutocorrelationResult holds Ljung-Box and Durbin-Watson diagnostics
type AutocorrelationResult struct {
	LjungBox     []LjungBoxLag `json:"ljung_box" msgpack:"ljung_box"`
	DurbinWatson float64       `json:"durbin_watson" msgpack:"durbin_watson"`
	// Autocorrelated is set when any Ljung-Box p-value is below the significance level
	Autocorrelated bool `json:"autocorrelated" msgpack:"autocorrelated"`
	// Flagged is set when Durbin-Watson leaves [lower, upper]
	Flagged bool `json:"flagged" msgpack:"flagged"`
}

// Autocorrelation runs Ljung-Box over the configured lags (lags >= n are
// dropped) and Durbin-Watson on the demeaned series.
func Autocorrelation(r []float64, cfg Config) (*AutocorrelationResult, error) {
	n := len(r)
	if n < 3 {
		return nil, domain.Insufficient("autocorrelation needs at least 3 observations, got %d", n)
	}

	lags := append([]int(nil), cfg.LjungBoxLags...)
	sort.Ints(lags)
	res := &AutocorrelationResult{DurbinWatson: DurbinWatson(r)}
	for _, lag := range lags {
		if lag >= n {
			continue
		}
		q, p := LjungBox(r, lag)
		res.LjungBox = append(res.LjungBox, LjungBoxLag{Lag: lag, Statistic: q, PValue: p})
		if p < cfg.Significance {
			res.Autocorrelated = true
		}
	}
	res.Flagged = res.DurbinWatson < cfg.DurbinWatsonLower || res.DurbinWatson > cfg.DurbinWatsonUpper
	return res, nil
}

// Autocorrelations returns ρ_1..ρ_maxLag. A constant series has zero autocorrelation.
func Autocorrelations(r []float64, maxLag int) []float64 {
	n := len(r)
	mean := formulas.Mean(r)
	denom := 0.0
	for _, v := range r {
		denom += (v - mean) * (v - mean)
	}
	acf := make([]float64, maxLag)
	if denom == 0 {
		return acf
	}
	for k := 1; k <= maxLag && k < n; k++ {
		num := 0.0
		for t := 0; t+k < n; t++ {
			num += (r[t] - mean) * (r[t+k] - mean)
		}
		acf[k-1] = num / denom
	}
	return acf
}

// LjungBox returns Q = n(n+2) Σ ρ_k²/(n-k) and its χ²(h) p-value
func LjungBox(r []float64, h int) (float64, float64) {
	n := float64(len(r))
	acf := Autocorrelations(r, h)
	q := 0.0
	for k, rho := range acf {
		q += rho * rho / (n - float64(k+1))
	}
	q *= n * (n + 2)
	chi := distuv.ChiSquared{K: float64(h)}
	return q, 1 - chi.CDF(q)
}

// DurbinWatson is Σ(e_t - e_{t-1})² / Σe_t² on demeaned values.
// A constant series returns 2, the no-autocorrelation value.
func DurbinWatson(r []float64) float64 {
	mean := formulas.Mean(r)
	num, den := 0.0, 0.0
	prev := 0.0
	for i, v := range r {
		e := v - mean
		den += e * e
		if i > 0 {
			num += (e - prev) * (e - prev)
		}
		prev = e
	}
	if den == 0 {
		return 2
	}
	return num / den
}
