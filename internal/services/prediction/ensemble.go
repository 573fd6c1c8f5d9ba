package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
	domsvc "NightScan/internal/domain/service"
	"NightScan/internal/services/features"
	"NightScan/pkg/config"
	"NightScan/pkg/logger"
)

const (
	weightTolerance = 1e-6
	recentVolWindow = 20
	// changeHorizon scales score × daily vol into a percent move.
	changeHorizon = 5
)

// Ensemble combines the sequence model, trend, technical and sentiment
// signals into a direction and confidence.
type Ensemble struct {
	cfg        config.EnsembleConfig
	forecaster repository.SequenceForecaster
	log        *logger.Logger
}

type Option func(*Ensemble)

// WithForecaster enables the sequence signal.
func WithForecaster(f repository.SequenceForecaster) Option {
	return func(e *Ensemble) { e.forecaster = f }
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Ensemble) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEnsemble fails with a configuration error when the weights do not sum
// to one.
func NewEnsemble(cfg config.EnsembleConfig, opts ...Option) (*Ensemble, error) {
	if err := checkWeights(cfg.Weights); err != nil {
		return nil, err
	}
	e := &Ensemble{cfg: cfg, log: logger.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func checkWeights(w config.EnsembleWeights) error {
	if math.Abs(w.Sum()-1) > weightTolerance {
		return errs.Configuration("ensemble weights", fmt.Errorf("sum to %.6f, want 1", w.Sum()))
	}
	return nil
}

func (e *Ensemble) Predict(ctx context.Context, symbol string, series models.HistoricalSeries, regime models.RegimeState, sentiment models.SentimentRecord) (models.PredictionResult, error) {
	out := models.PredictionResult{Symbol: symbol, Direction: models.DirectionHold}
	if err := checkWeights(e.cfg.Weights); err != nil {
		return out, err
	}
	if series.Empty() {
		return out, errs.DataUnavailable("predict", errors.New("empty series")).WithSymbol(symbol)
	}
	closes := series.Closes()

	var signals []signal
	forecast, haveForecast := e.sequence(ctx, symbol, closes)
	if haveForecast {
		signals = append(signals, signal{SignalSequence, e.cfg.Weights.Sequence, sequenceLean(forecast.PriceChangePct), clip(forecast.Confidence, 0, 1)})
	}
	if lean, conf, ok := trendSignal(closes); ok {
		signals = append(signals, signal{SignalTrend, e.cfg.Weights.Trend, lean, conf})
	}
	if lean, conf, ok := technicalSignal(closes); ok {
		signals = append(signals, signal{SignalTechnical, e.cfg.Weights.Technical, lean, conf})
	}
	if lean, conf, ok := sentimentSignal(sentiment.Polarity, sentiment.ArticleCount); ok {
		signals = append(signals, signal{SignalSentiment, e.cfg.Weights.Sentiment, lean, conf})
	}

	var total float64
	for _, s := range signals {
		total += s.weight
	}
	var score float64
	if total > 0 {
		for _, s := range signals {
			w := s.weight / total
			score += w * s.lean * (0.5 + 0.5*s.confidence)
			out.Contributions = append(out.Contributions, models.SignalContribution{
				Name:       s.name,
				Lean:       s.lean,
				Confidence: s.confidence,
				Weight:     w,
			})
		}
	}
	score = clip(score, -1, 1)

	out.Score = score
	switch {
	case score > e.cfg.BuyThreshold:
		out.Direction = models.DirectionBuy
	case score < e.cfg.SellThreshold:
		out.Direction = models.DirectionSell
	}
	scale := e.cfg.ConfidenceScale
	if scale <= 0 {
		scale = 0.6
	}
	out.Confidence = clip(math.Abs(score)/scale, 0, 1)

	if haveForecast {
		out.PriceChangePct = forecast.PriceChangePct
	} else {
		returns := features.ComputeLogReturns(series.Candles)
		if len(returns) > recentVolWindow {
			returns = returns[len(returns)-recentVolWindow:]
		}
		out.PriceChangePct = score * features.DailyVolatility(returns) * 100 * changeHorizon
	}

	e.log.Debug("prediction",
		logger.String("symbol", symbol),
		logger.String("direction", string(out.Direction)),
		logger.Float("score", score),
		logger.Int("signals", len(out.Contributions)),
		logger.String("regime", string(regime.Label)),
	)
	return out, nil
}

func (e *Ensemble) sequence(ctx context.Context, symbol string, closes []float64) (models.SequenceForecast, bool) {
	if e.forecaster == nil {
		return models.SequenceForecast{}, false
	}
	fc, err := e.forecaster.Forecast(ctx, symbol, closes)
	if err != nil {
		if !errs.Is(err, errs.KindModelUnavailable) {
			e.log.Warn("sequence forecast failed", logger.String("symbol", symbol), logger.Error(err))
		}
		return models.SequenceForecast{}, false
	}
	if !fc.Available || math.IsNaN(fc.PriceChangePct) || math.IsInf(fc.PriceChangePct, 0) {
		return models.SequenceForecast{}, false
	}
	return fc, true
}

var _ domsvc.Predictor = (*Ensemble)(nil)
