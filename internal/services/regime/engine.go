package regime

import (
	"context"
	"math"
	"time"

	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
	domsvc "NightScan/internal/domain/service"
	"NightScan/internal/services/features"
	"NightScan/pkg/config"
	"NightScan/pkg/logger"
)

// Crash-risk composite weights.
const (
	severityWeight  = 0.40
	volRatioWeight  = 0.35
	riskIndexWeight = 0.25
)

// Engine computes the run-wide market regime from the reference index.
// Classifiers and volatility forecasters are tried in order.
type Engine struct {
	data        domsvc.MarketData
	cfg         config.RegimeConfig
	classifiers []domsvc.RegimeClassifier
	forecasters []domsvc.VolatilityForecaster
	log         *logger.Logger
	now         func() time.Time
}

type Option func(*Engine)

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithClassifiers replaces the classification chain.
func WithClassifiers(c ...domsvc.RegimeClassifier) Option {
	return func(e *Engine) { e.classifiers = c }
}

// WithForecasters replaces the volatility chain.
func WithForecasters(f ...domsvc.VolatilityForecaster) Option {
	return func(e *Engine) { e.forecasters = f }
}

// NewEngine selects the model chain once: HMM then GMM, or GMM alone when
// the primary model is disabled.
func NewEngine(data domsvc.MarketData, cfg config.RegimeConfig, opts ...Option) *Engine {
	e := &Engine{
		data: data,
		cfg:  cfg,
		log:  logger.NewNop(),
		now:  time.Now,
	}
	if cfg.PrimaryModel {
		e.classifiers = []domsvc.RegimeClassifier{NewHMM(cfg.MaxIterations), NewGMM(cfg.MaxIterations)}
	} else {
		e.classifiers = []domsvc.RegimeClassifier{NewGMM(cfg.MaxIterations)}
	}
	e.forecasters = []domsvc.VolatilityForecaster{NewGARCH(0), NewEWMA(DefaultLambda)}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.VolWindow < 2 {
		e.cfg.VolWindow = 10
	}
	return e
}

// Classify never fails; when nothing can be computed the label is UNKNOWN
// and crash risk is nil.
func (e *Engine) Classify(ctx context.Context) models.RegimeState {
	now := e.now().UTC()
	state := models.UnknownRegime(now)

	series, _, err := e.data.FetchHistory(ctx, e.cfg.ReferenceSymbol, repository.HistoryParams{
		Period:   e.cfg.Lookback,
		Interval: repository.Interval1d,
	})
	if err != nil || series.Len() < e.cfg.VolWindow+2 {
		e.log.Warn("regime reference data unavailable",
			logger.String("symbol", e.cfg.ReferenceSymbol),
			logger.Int("rows", series.Len()),
			logger.Error(err),
		)
		return state
	}

	returns := features.ComputeLogReturns(series.Candles)
	rolling := features.RollingVolatility(returns, e.cfg.VolWindow)
	rows := make([][2]float64, len(rolling))
	for j, v := range rolling {
		rows[j] = [2]float64{returns[j+e.cfg.VolWindow-1], v}
	}

	degraded := false
	labelKnown := false
	for i, c := range e.classifiers {
		label, err := c.Classify(rows)
		if err != nil {
			e.log.Warn("regime classifier failed", logger.String("method", c.Name()), logger.Error(err))
			continue
		}
		state.Label = label
		state.ClassifyMethod = c.Name()
		labelKnown = true
		degraded = degraded || i > 0
		break
	}
	if !labelKnown {
		degraded = true
	}

	volKnown := false
	for i, f := range e.forecasters {
		vol, err := f.Forecast(returns)
		if err != nil {
			e.log.Warn("volatility forecaster failed", logger.String("method", f.Name()), logger.Error(err))
			continue
		}
		state.Vol1D = vol
		state.VolAnnual = vol * math.Sqrt(features.TradingDaysPerYear)
		state.VolMethod = f.Name()
		volKnown = true
		degraded = degraded || i > 0
		break
	}
	if !volKnown {
		degraded = true
	}

	var riskIndex *float64
	if e.cfg.RiskIndexSymbol != "" {
		q, err := e.data.FetchQuote(ctx, e.cfg.RiskIndexSymbol)
		if err == nil && q != nil && q.Price > 0 {
			level := q.Price
			riskIndex = &level
		} else if err != nil {
			e.log.Debug("risk index unavailable", logger.String("symbol", e.cfg.RiskIndexSymbol), logger.Error(err))
		}
	}
	state.RiskIndex = riskIndex

	var baseline float64
	if volKnown {
		baseline = features.DailyVolatility(returns)
	}
	state.CrashRisk = crashRisk(state.Label, state.Vol1D, baseline, riskIndex)
	state.Degraded = degraded

	e.log.Info("regime classified",
		logger.String("label", string(state.Label)),
		logger.String("classify_method", state.ClassifyMethod),
		logger.String("vol_method", state.VolMethod),
		logger.Float("vol_annual", state.VolAnnual),
		logger.Float("crash_risk", state.CrashRiskOr(-1)),
	)
	return state
}

// crashRisk blends the available components, renormalizing their weights.
func crashRisk(label models.RegimeLabel, vol, baseline float64, riskIndex *float64) *float64 {
	var sum, weights float64
	if sev, ok := label.Severity(); ok {
		sum += severityWeight * sev
		weights += severityWeight
	}
	if vol > 0 && baseline > 0 {
		sum += volRatioWeight * clip01((vol/baseline-0.5)/1.5)
		weights += volRatioWeight
	}
	if riskIndex != nil {
		sum += riskIndexWeight * clip01((*riskIndex-12)/28)
		weights += riskIndexWeight
	}
	if weights == 0 {
		return nil
	}
	out := clip01(sum / weights)
	return &out
}

func clip01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

var _ domsvc.RegimeEngine = (*Engine)(nil)
