package usecase

import (
	"context"
	"sort"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
	domsvc "NightScan/internal/domain/service"
	"NightScan/internal/service/cache"
	"NightScan/internal/service/gateway"
	"NightScan/pkg/config"
	"NightScan/pkg/logger"
)

// ValidationStage screens symbols on short recent history only.
type ValidationStage struct {
	data  domsvc.MarketData
	cfg   config.ValidationConfig
	cache *cache.TTLCache[models.ValidationResult]
	log   *logger.Logger
}

func NewValidationStage(data domsvc.MarketData, cfg config.ValidationConfig, log *logger.Logger) *ValidationStage {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.MinRows < 1 {
		cfg.MinRows = 5
	}
	return &ValidationStage{
		data:  data,
		cfg:   cfg,
		cache: cache.NewTTLCache[models.ValidationResult](cfg.CacheTTL),
		log:   log,
	}
}

// Reset forgets the results of the previous run.
func (v *ValidationStage) Reset() { v.cache.Reset() }

// Validate returns a verdict for every distinct ticker. Symbols are fetched
// one sector batch at a time; a repeated symbol is served from the run cache.
// Nothing is cached once ctx is done.
func (v *ValidationStage) Validate(ctx context.Context, symbols []models.Symbol) map[string]models.ValidationResult {
	out := make(map[string]models.ValidationResult, len(symbols))
	bySector := make(map[string][]string)
	for _, s := range symbols {
		t := models.NormalizeTicker(s.Ticker)
		if t == "" {
			continue
		}
		if _, done := out[t]; done {
			continue
		}
		if r, ok := v.cache.Get(t); ok {
			out[t] = r
			continue
		}
		out[t] = models.ValidationResult{}
		bySector[s.Sector] = append(bySector[s.Sector], t)
	}

	sectors := make([]string, 0, len(bySector))
	for s := range bySector {
		sectors = append(sectors, s)
	}
	sort.Strings(sectors)

	params := repository.HistoryParams{Period: v.cfg.Period, Interval: repository.Interval1d}
	for _, sector := range sectors {
		for t, r := range v.validateBatch(ctx, sector, bySector[sector], params) {
			out[t] = r
			if ctx.Err() == nil {
				v.cache.Set(t, r)
			}
		}
	}
	return out
}

func (v *ValidationStage) validateBatch(ctx context.Context, sector string, tickers []string, params repository.HistoryParams) map[string]models.ValidationResult {
	items := v.data.FetchBatch(ctx, tickers, params)
	out := make(map[string]models.ValidationResult, len(tickers))

	var deferred []string
	sampled := false
	for _, t := range tickers {
		item, ok := items[t]
		if !ok {
			out[t] = models.ValidationResult{Symbol: t, Reason: models.ReasonDataUnavailable}
			continue
		}
		if gateway.IsDeferred(item) {
			deferred = append(deferred, t)
			continue
		}
		if item.Err == nil {
			sampled = true
		}
		out[t] = v.judge(t, item)
	}

	// An empty batch was sampled; go one by one only if the sample found data.
	if len(deferred) > 0 {
		v.log.Info("validating deferred symbols",
			logger.String("sector", sector),
			logger.Int("deferred", len(deferred)),
			logger.Bool("sample_succeeded", sampled),
		)
	}
	for _, t := range deferred {
		if !sampled || ctx.Err() != nil {
			out[t] = models.ValidationResult{Symbol: t, Reason: models.ReasonDataUnavailable}
			continue
		}
		series, src, err := v.data.FetchHistory(ctx, t, params)
		out[t] = v.judge(t, domsvc.BatchItem{Series: series, Source: src, Err: err})
	}
	return out
}

func (v *ValidationStage) judge(symbol string, item domsvc.BatchItem) models.ValidationResult {
	r := models.ValidationResult{Symbol: symbol, Rows: item.Series.Len(), Source: item.Source}
	switch {
	case item.Err != nil:
		r.Reason = models.ReasonDataUnavailable
		if !errs.Is(item.Err, errs.KindDataUnavailable) {
			v.log.Debug("validation fetch failed", logger.String("symbol", symbol), logger.Error(item.Err))
		}
	case item.Series.Empty():
		r.Reason = models.ReasonNoData
	case item.Series.Len() < v.cfg.MinRows:
		r.Reason = models.ReasonInsufficientHistory
	case v.cfg.MinPrice > 0 && item.Series.LastClose() < v.cfg.MinPrice:
		r.Reason = models.ReasonFilteredByCriteria
	default:
		r.Eligible = true
	}
	return r
}
