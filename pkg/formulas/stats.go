// Package formulas provides the shared numeric helpers used by the backtest
// metrics and the momentum predictor.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// CalculateReturns converts prices to percentage returns
// Returns[i] = (Price[i] - Price[i-1]) / Price[i-1]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// AnnualizedVolatility calculates annualized volatility from daily returns
// Formula: Std Dev of Daily Returns × sqrt(252 trading days)
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}

	stdDev := StdDev(dailyReturns)
	return stdDev * math.Sqrt(252) // 252 trading days per year
}

// AnnualizedReturn converts a fractional profit over a number of calendar
// days into a compound annual rate: (1 + profit)^(365/days) - 1.
func AnnualizedReturn(profitFraction float64, days int) float64 {
	if days <= 0 {
		return 0
	}
	return math.Pow(1+profitFraction, 365.0/float64(days)) - 1
}

// MaxDrawdown calculates the largest peak-to-trough decline of an equity
// series as a fraction of the peak. Returns 0 for flat or rising series.
func MaxDrawdown(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}

	peak := series[0]
	maxDD := 0.0
	for _, v := range series {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// Round3 rounds a monetary quantity to 3 decimal places. All ledger
// arithmetic goes through this after every mutation so that long simulations
// do not accumulate floating-point drift.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
