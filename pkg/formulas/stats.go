// Package formulas holds the small statistical building blocks shared by the
// metrics, optimization and validation modules.
package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation (n-1 denominator)
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance (n-1 denominator)
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// Covariance calculates the sample covariance between two equally long datasets
func Covariance(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// Correlation calculates the Pearson correlation coefficient.
// Returns 0 when either side has no variance.
func Correlation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	if StdDev(x) == 0 || StdDev(y) == 0 {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// Skewness returns the sample skewness, 0 for fewer than 3 points
func Skewness(data []float64) float64 {
	if len(data) < 3 || StdDev(data) == 0 {
		return 0
	}
	return stat.Skew(data, nil)
}

// ExcessKurtosis returns the sample excess kurtosis, 0 for fewer than 4 points
func ExcessKurtosis(data []float64) float64 {
	if len(data) < 4 || StdDev(data) == 0 {
		return 0
	}
	return stat.ExKurtosis(data, nil)
}

// Quantile returns the empirical p-quantile using linear interpolation
// between order statistics. The input is not modified.
func Quantile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	sorted := Sorted(data)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}

// Sorted returns an ascending copy of data
func Sorted(data []float64) []float64 {
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	return sorted
}

// DropNaN returns a copy of data without NaN and Inf values
func DropNaN(data []float64) []float64 {
	cleaned := make([]float64, 0, len(data))
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		cleaned = append(cleaned, v)
	}
	return cleaned
}

// CumulativeWealth returns C[i] = prod(1 + r[0..i])
func CumulativeWealth(returns []float64) []float64 {
	wealth := make([]float64, len(returns))
	c := 1.0
	for i, r := range returns {
		c *= 1 + r
		wealth[i] = c
	}
	return wealth
}
