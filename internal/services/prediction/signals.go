package prediction

import (
	"math"

	"NightScan/internal/services/features"
)

const (
	SignalSequence  = "sequence"
	SignalTrend     = "trend"
	SignalTechnical = "technical"
	SignalSentiment = "sentiment"
)

// Indicator windows.
const (
	shortSMA      = 20
	longSMA       = 50
	slopeLookback = 10
	rsiPeriod     = 14
	bandWindow    = 20
	bandWidth     = 2.0
)

type signal struct {
	name       string
	weight     float64
	lean       float64
	confidence float64
}

// trendSignal blends the SMA(20)/SMA(50) gap with the SMA(20) slope.
// It needs enough history for both averages.
func trendSignal(closes []float64) (lean, conf float64, ok bool) {
	if len(closes) < longSMA+1 {
		return 0, 0, false
	}
	short := features.SMA(closes, shortSMA)
	long := features.SMA(closes, longSMA)
	var cross float64
	if long > 0 {
		cross = math.Tanh((short - long) / long * 20)
	}
	slope := math.Tanh(features.SMASlope(closes, shortSMA, slopeLookback) * 200)

	lean = clip((cross+slope)/2, -1, 1)
	conf = 0.5
	if cross*slope > 0 {
		conf += 0.5 * math.Min(math.Abs(cross), math.Abs(slope))
	}
	return lean, clip(conf, 0, 1), true
}

// technicalSignal reads RSI(14) and Bollinger %B(20,2) as mean reversion:
// oversold or below the lower band leans positive.
func technicalSignal(closes []float64) (lean, conf float64, ok bool) {
	if len(closes) < bandWindow+1 {
		return 0, 0, false
	}
	rsi := features.RSI(closes, rsiPeriod)
	pb := features.BollingerPercentB(closes, bandWindow, bandWidth)

	rsiLean := clip((50-rsi)/50, -1, 1)
	pbLean := clip(1-2*pb, -1, 1)
	lean = (rsiLean + pbLean) / 2
	conf = clip((math.Abs(rsiLean)+math.Abs(pbLean))/2, 0, 1)
	return lean, conf, true
}

// sentimentSignal trusts polarity more as the article count grows.
func sentimentSignal(polarity float64, articles int) (lean, conf float64, ok bool) {
	if articles <= 0 {
		return 0, 0, false
	}
	return clip(polarity, -1, 1), 1 - math.Exp(-float64(articles)/5), true
}

func sequenceLean(pct float64) float64 {
	return math.Tanh(pct / 5)
}

func clip(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
