package metrics

import (
	"math"

	"github.com/aristath/quantlab/pkg/formulas"
	"gonum.org/v1/gonum/stat"
)

// TotalReturn = prod(1 + r) - 1
func TotalReturn(returns []float64) float64 {
	total := 1.0
	for _, r := range returns {
		total *= 1 + r
	}
	return total - 1
}

// AnnualReturn = mean(r) * tradingDays
func AnnualReturn(returns []float64, tradingDays int) float64 {
	return formulas.Mean(returns) * float64(tradingDays)
}

// Volatility = std(r) * sqrt(tradingDays)
func Volatility(returns []float64, tradingDays int) float64 {
	return formulas.StdDev(returns) * math.Sqrt(float64(tradingDays))
}

// Sharpe = (annual return - risk free) / volatility, 0 when volatility is 0
func Sharpe(returns []float64, riskFreeRate float64, tradingDays int) float64 {
	vol := Volatility(returns, tradingDays)
	if vol == 0 {
		return 0
	}
	return (AnnualReturn(returns, tradingDays) - riskFreeRate) / vol
}

// DownsideVolatility is the annualized root mean square of the negative
// returns only. Returns 0 when there are none.
func DownsideVolatility(returns []float64, tradingDays int) float64 {
	sumSq, n := 0.0, 0
	for _, r := range returns {
		if r < 0 {
			sumSq += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSq/float64(n)) * math.Sqrt(float64(tradingDays))
}

// Sortino = (annual return - risk free) / downside volatility, 0 without negative returns
func Sortino(returns []float64, riskFreeRate float64, tradingDays int) float64 {
	downside := DownsideVolatility(returns, tradingDays)
	if downside == 0 {
		return 0
	}
	return (AnnualReturn(returns, tradingDays) - riskFreeRate) / downside
}

// Calmar = annual return / |max drawdown|, 0 without drawdown
func Calmar(returns []float64, tradingDays int) float64 {
	mdd := MaxDrawdown(returns)
	if mdd == 0 {
		return 0
	}
	return AnnualReturn(returns, tradingDays) / math.Abs(mdd)
}

// Sterling = annual return / |min(r)|, 0 when the worst return is 0
func Sterling(returns []float64, tradingDays int) float64 {
	if len(returns) == 0 {
		return 0
	}
	worst := returns[0]
	for _, r := range returns[1:] {
		worst = math.Min(worst, r)
	}
	if worst == 0 {
		return 0
	}
	return AnnualReturn(returns, tradingDays) / math.Abs(worst)
}

// WinRate is the share of strictly positive periods
func WinRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns))
}

// ProfitFactor = sum of gains / |sum of losses|, 0 without losses
func ProfitFactor(returns []float64) float64 {
	gains, losses := 0.0, 0.0
	for _, r := range returns {
		if r > 0 {
			gains += r
		} else {
			losses -= r
		}
	}
	if losses == 0 {
		return 0
	}
	return gains / losses
}

// TailRatio = |95th percentile| / |5th percentile|, 0 when the left tail is 0
func TailRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	left := math.Abs(formulas.Quantile(returns, 0.05))
	if left == 0 {
		return 0
	}
	return math.Abs(formulas.Quantile(returns, 0.95)) / left
}

// Stability is the R-squared of a linear fit of log cumulative wealth against time.
// Returns 0 when the fit is undefined (flat or wiped-out wealth).
func Stability(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	x := make([]float64, len(returns))
	y := make([]float64, len(returns))
	logWealth := 0.0
	for i, r := range returns {
		if 1+r <= 0 {
			return 0
		}
		logWealth += math.Log1p(r)
		x[i] = float64(i)
		y[i] = logWealth
	}
	if formulas.Variance(y) == 0 {
		return 0
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	r2 := stat.RSquared(x, y, nil, alpha, beta)
	if math.IsNaN(r2) {
		return 0
	}
	return r2
}
