package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"NightScan/internal/domain/models"
)

// TradingDaysPerYear annualizes daily figures.
const TradingDaysPerYear = 252

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility is the sample standard deviation of the last window
// returns, annualized with barsPerYear. Zero when there is not enough data.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sd := stat.StdDev(logReturns[len(logReturns)-window:], nil)
	return finiteOr(sd*math.Sqrt(barsPerYear), 0)
}

// DailyVolatility is the sample standard deviation of all returns.
func DailyVolatility(logReturns []float64) float64 {
	if len(logReturns) < 2 {
		return 0
	}
	return finiteOr(stat.StdDev(logReturns, nil), 0)
}

// RollingVolatility returns the trailing window standard deviation at each
// index from window-1 on; the result has len(logReturns)-window+1 entries.
func RollingVolatility(logReturns []float64, window int) []float64 {
	if window <= 1 || len(logReturns) < window {
		return nil
	}
	out := make([]float64, 0, len(logReturns)-window+1)
	for i := window; i <= len(logReturns); i++ {
		out = append(out, finiteOr(stat.StdDev(logReturns[i-window:i], nil), 0))
	}
	return out
}

// BarsPerYear returns the approximate number of bars per year for an interval.
func BarsPerYear(interval string) float64 {
	switch interval {
	case "1h":
		return TradingDaysPerYear * 6.5
	case "1wk":
		return 52
	default:
		return TradingDaysPerYear
	}
}

// AverageDollarVolume is the mean close*volume of the last n bars.
func AverageDollarVolume(candles []models.Candle, n int) float64 {
	if len(candles) == 0 || n <= 0 {
		return 0
	}
	if n > len(candles) {
		n = len(candles)
	}
	sum := 0.0
	for _, c := range candles[len(candles)-n:] {
		sum += c.Close * c.Volume
	}
	return finiteOr(sum/float64(n), 0)
}

func finiteOr(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}
