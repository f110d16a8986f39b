package formulas

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CovarianceMatrix builds the sample covariance matrix of column series.
// Every series must have the same length (at least 2).
func CovarianceMatrix(series [][]float64) [][]float64 {
	n := len(series)
	if n == 0 || len(series[0]) < 2 {
		return nil
	}
	data := columns(series)
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)
	return symToSlices(&cov)
}

// CorrelationMatrix builds the Pearson correlation matrix of column series.
// Zero-variance series correlate 0 with everything and 1 with themselves.
func CorrelationMatrix(series [][]float64) [][]float64 {
	cov := CovarianceMatrix(series)
	if cov == nil {
		return nil
	}
	return CorrelationFromCovariance(cov)
}

// CorrelationFromCovariance converts a covariance matrix into correlations
func CorrelationFromCovariance(cov [][]float64) [][]float64 {
	n := len(cov)
	corr := make([][]float64, n)
	for i := range corr {
		corr[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				corr[i][j] = 1
				continue
			}
			denom := math.Sqrt(cov[i][i] * cov[j][j])
			if denom > 0 {
				corr[i][j] = cov[i][j] / denom
			}
		}
	}
	return corr
}

// CorrelationToDistance maps correlations to the metric d = sqrt((1 - rho) / 2)
func CorrelationToDistance(corr [][]float64) [][]float64 {
	n := len(corr)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			v := (1 - corr[i][j]) / 2
			if v < 0 {
				v = 0
			}
			dist[i][j] = math.Sqrt(v)
		}
	}
	return dist
}

// InverseVarianceWeights returns weights proportional to 1/variance.
// Non-positive variances get zero weight.
func InverseVarianceWeights(variances []float64) []float64 {
	weights := make([]float64, len(variances))
	total := 0.0
	for i, v := range variances {
		if v > 0 {
			weights[i] = 1 / v
			total += weights[i]
		}
	}
	if total == 0 {
		return weights
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

// Dense converts a row-major slice matrix into a gonum dense matrix
func Dense(m [][]float64) *mat.Dense {
	rows := len(m)
	if rows == 0 {
		return nil
	}
	cols := len(m[0])
	data := make([]float64, 0, rows*cols)
	for _, row := range m {
		data = append(data, row...)
	}
	return mat.NewDense(rows, cols, data)
}

func columns(series [][]float64) *mat.Dense {
	rows := len(series[0])
	cols := len(series)
	data := mat.NewDense(rows, cols, nil)
	for j, s := range series {
		for i := 0; i < rows; i++ {
			data.Set(i, j, s[i])
		}
	}
	return data
}

func symToSlices(s *mat.SymDense) [][]float64 {
	n := s.SymmetricDim()
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			out[i][j] = s.At(i, j)
		}
	}
	return out
}
