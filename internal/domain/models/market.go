package models

import (
	"strings"
	"time"
)

// Symbol is one instrument of the screening universe.
type Symbol struct {
	Ticker       string  `json:"ticker" yaml:"ticker"`
	Sector       string  `json:"sector" yaml:"sector"`
	SectorWeight float64 `json:"sector_weight" yaml:"sector_weight"`
	Beta         float64 `json:"beta,omitempty" yaml:"beta"` // 0 = unknown
}

// NormalizeTicker upper-cases and trims a ticker.
func NormalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// SourceTag says where a series came from.
type SourceTag string

const (
	SourcePrimary  SourceTag = "primary"
	SourceFallback SourceTag = "fallback"
	SourceCache    SourceTag = "cache"
	SourceNone     SourceTag = ""
)

// Candle is one OHLCV bar. All providers emit this shape.
type Candle struct {
	Bucket time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// HistoricalSeries is an ordered, de-duplicated OHLCV history for one symbol.
type HistoricalSeries struct {
	Symbol    string    `json:"symbol"`
	Period    string    `json:"period"`
	Interval  string    `json:"interval"`
	Candles   []Candle  `json:"candles"`
	Source    SourceTag `json:"source"`
	Provider  string    `json:"provider"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (s HistoricalSeries) Len() int { return len(s.Candles) }

func (s HistoricalSeries) Empty() bool { return len(s.Candles) == 0 }

// Closes returns the close prices in time order.
func (s HistoricalSeries) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// LastClose returns the most recent close, or 0 for an empty series.
func (s HistoricalSeries) LastClose() float64 {
	if len(s.Candles) == 0 {
		return 0
	}
	return s.Candles[len(s.Candles)-1].Close
}

// Quote is a point-in-time price snapshot.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	PrevClose float64   `json:"prev_close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
}

// GapPct is the move from the previous close in percent, 0 when unknown.
func (q Quote) GapPct() float64 {
	if q.PrevClose <= 0 || q.Price <= 0 {
		return 0
	}
	return (q.Price - q.PrevClose) / q.PrevClose * 100
}
