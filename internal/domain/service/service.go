package service

import (
	"context"
	"errors"

	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
)

// ErrBatchDeferred marks symbols a fully empty batch did not sample. They
// may still be fetched one by one.
var ErrBatchDeferred = errors.New("batch returned no data; symbol not sampled")

// BatchItem is the per-symbol outcome of a batch fetch.
type BatchItem struct {
	Series models.HistoricalSeries
	Source models.SourceTag
	Err    error
}

// MarketData is the provider-agnostic gateway every stage reads through.
type MarketData interface {
	FetchHistory(ctx context.Context, symbol string, params repository.HistoryParams) (models.HistoricalSeries, models.SourceTag, error)
	FetchQuote(ctx context.Context, symbol string) (*models.Quote, error)
	FetchBatch(ctx context.Context, symbols []string, params repository.HistoryParams) map[string]BatchItem
	CallsUsed() map[string]int64
}

// RegimeClassifier labels the latest observation of a feature matrix.
// Rows are observations of (log return, rolling volatility).
type RegimeClassifier interface {
	Name() string
	Classify(features [][2]float64) (models.RegimeLabel, error)
}

// VolatilityForecaster returns a one-step-ahead daily volatility.
type VolatilityForecaster interface {
	Name() string
	Forecast(returns []float64) (float64, error)
}

// TextClassifier returns a polarity in [-1,1] per text.
type TextClassifier interface {
	Name() string
	Classify(ctx context.Context, texts []string) ([]float64, error)
}

// RegimeEngine computes the run-wide market regime.
type RegimeEngine interface {
	Classify(ctx context.Context) models.RegimeState
}

// SentimentScorer aggregates news polarity for a symbol. It never fails.
type SentimentScorer interface {
	Score(ctx context.Context, symbol string) models.SentimentRecord
}

// Predictor combines the signal models for one symbol.
type Predictor interface {
	Predict(ctx context.Context, symbol string, series models.HistoricalSeries, regime models.RegimeState, sentiment models.SentimentRecord) (models.PredictionResult, error)
}

// ScoringInput carries the per-symbol context the scorer needs.
type ScoringInput struct {
	Symbol models.Symbol
	Series models.HistoricalSeries
	Source models.SourceTag
}

// Scorer converts a prediction into an opportunity score.
type Scorer interface {
	Score(prediction models.PredictionResult, regime models.RegimeState, in ScoringInput) models.OpportunityScore
	Rank(scores []models.OpportunityScore) []models.OpportunityScore
}
