package repository

import (
	"context"

	"NightScan/internal/domain/models"
)

// HistoryProvider is one link of the data-source chain.
type HistoryProvider interface {
	Name() string
	FetchHistory(ctx context.Context, symbol string, params HistoryParams) ([]models.Candle, error)
}

// QuoteProvider is implemented by providers that can return a live snapshot.
// A nil quote with a nil error means the provider has no snapshot.
type QuoteProvider interface {
	FetchQuote(ctx context.Context, symbol string) (*models.Quote, error)
}

// BatchProvider is implemented by providers that can fetch many symbols in
// one logical request. Missing symbols are simply absent from the result.
type BatchProvider interface {
	FetchBatch(ctx context.Context, symbols []string, params HistoryParams) (map[string][]models.Candle, error)
}

// SequenceForecaster is the external neural sequence model.
type SequenceForecaster interface {
	Forecast(ctx context.Context, symbol string, closes []float64) (models.SequenceForecast, error)
}

// NewsSource returns recent headlines for a symbol.
type NewsSource interface {
	Name() string
	Fetch(ctx context.Context, symbol string) ([]models.NewsItem, error)
}

// RunStore archives finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, run models.PipelineRun) error
	LatestRun(ctx context.Context) (*models.PipelineRun, error)
}

// SummaryPublisher pushes a finished run to downstream consumers.
type SummaryPublisher interface {
	PublishRun(ctx context.Context, run models.PipelineRun) error
	Close() error
}

type Metrics interface {
	RecordProviderCall(provider, outcome string)
	RecordFallback(from, to string)
	RecordCacheHit(layer string)
	RecordPhase(phase, status string, seconds float64)
	RecordSymbolsScored(n int)
	RecordScore(symbol string, score float64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordProviderCall(string, string) {}
func (NopMetrics) RecordFallback(string, string) {}
func (NopMetrics) RecordCacheHit(string) {}
func (NopMetrics) RecordPhase(string, string, float64) {}
func (NopMetrics) RecordSymbolsScored(int) {}
func (NopMetrics) RecordScore(string, float64) {}
