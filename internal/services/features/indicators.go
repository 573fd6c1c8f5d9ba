package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Neutral values returned when an indicator cannot be computed.
const (
	NeutralRSI      = 50.0
	NeutralPercentB = 0.5
)

// SMA is the mean of the last n closes, or 0 with too little history.
func SMA(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < n {
		return 0
	}
	return finiteOr(stat.Mean(closes[len(closes)-n:], nil), 0)
}

// SMASlope is the per-bar relative change of SMA(n) over the last lookback
// bars. Zero with too little history or a zero average.
func SMASlope(closes []float64, n, lookback int) float64 {
	if lookback <= 0 || len(closes) < n+lookback {
		return 0
	}
	now := SMA(closes, n)
	prev := SMA(closes[:len(closes)-lookback], n)
	if prev == 0 {
		return 0
	}
	return finiteOr((now-prev)/prev/float64(lookback), 0)
}

// RSI is Wilder's relative strength index over period bars.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return NeutralRSI
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	switch {
	case avgGain == 0 && avgLoss == 0:
		return NeutralRSI
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	return finiteOr(100-100/(1+rs), NeutralRSI)
}

// BollingerPercentB locates the last close within the n-bar bands of k
// standard deviations: 0 at the lower band, 1 at the upper.
func BollingerPercentB(closes []float64, n int, k float64) float64 {
	if n <= 1 || len(closes) < n {
		return NeutralPercentB
	}
	window := closes[len(closes)-n:]
	mean, sd := stat.PopMeanStdDev(window, nil)
	if sd == 0 || math.IsNaN(sd) {
		return NeutralPercentB
	}
	lower := mean - k*sd
	upper := mean + k*sd
	return finiteOr((closes[len(closes)-1]-lower)/(upper-lower), NeutralPercentB)
}
