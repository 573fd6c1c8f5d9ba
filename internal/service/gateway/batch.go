package gateway

import (
	"context"
	"errors"
	"time"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
	"NightScan/internal/domain/service"
	"NightScan/internal/service/retry"
	"NightScan/pkg/logger"
)

// FetchBatch fetches many symbols at once. Cached symbols are served from
// the cache, the rest go to the first usable batch-capable provider.
// Symbols the batch misses fall back to the single-symbol path. When the
// batch returns nothing at all, only the first sampleSize symbols are tried
// individually and the rest are reported with service.ErrBatchDeferred.
func (g *Gateway) FetchBatch(ctx context.Context, symbols []string, params repository.HistoryParams) map[string]service.BatchItem {
	params = params.Normalize()
	out := make(map[string]service.BatchItem, len(symbols))

	pending := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s = models.NormalizeTicker(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		if series, ok := g.fromCache(ctx, s, params); ok {
			out[s] = service.BatchItem{Series: series, Source: models.SourceCache}
			continue
		}
		pending = append(pending, s)
	}
	if len(pending) == 0 {
		return out
	}

	got, batched := g.batch(ctx, pending, params)
	for s, item := range got {
		out[s] = item
	}

	var missing []string
	for _, s := range pending {
		if _, ok := out[s]; !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return out
	}

	individual := missing
	if batched && len(got) == 0 {
		n := min(g.sampleSize, len(missing))
		individual = missing[:n]
		for _, s := range missing[n:] {
			out[s] = service.BatchItem{
				Err: errs.DataUnavailable("fetch batch", service.ErrBatchDeferred).WithSymbol(s),
			}
		}
		g.log.Warn("batch returned no data, sampling individually",
			logger.Int("symbols", len(pending)),
			logger.Int("sample", n),
		)
	}

	for _, s := range individual {
		series, src, err := g.FetchHistory(ctx, s, params)
		out[s] = service.BatchItem{Series: series, Source: src, Err: err}
	}
	return out
}

// batch calls the first usable batch provider. batched is false when no
// provider could take the request at all.
func (g *Gateway) batch(ctx context.Context, symbols []string, params repository.HistoryParams) (map[string]service.BatchItem, bool) {
	for i, p := range g.providers {
		bp, ok := p.(repository.BatchProvider)
		if !ok {
			continue
		}
		name := p.Name()
		if err := g.usable(name); err != nil {
			g.skip(i, name, "", err)
			continue
		}

		// a batch issues one paced request per symbol
		timeout := g.callTimeout(name) * time.Duration(len(symbols))
		raw, err := g.breakers[name].Execute(func() (interface{}, error) {
			return retry.DoValue(ctx, g.retry, func(ctx context.Context) (map[string][]models.Candle, error) {
				callCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				res, err := bp.FetchBatch(callCtx, symbols, params)
				if len(res) > 0 {
					// a partial batch is still a healthy provider
					return res, nil
				}
				if err == nil {
					return res, nil
				}
				if ctx.Err() == nil && callCtx.Err() != nil {
					return nil, errs.Transient("fetch batch", err).WithProvider(name)
				}
				return nil, err
			})
		})
		g.record(name, err)
		if err != nil {
			g.log.Warn("batch fetch failed",
				logger.String("provider", name),
				logger.Int("symbols", len(symbols)),
				logger.Error(err),
			)
		}

		res, _ := raw.(map[string][]models.Candle)
		out := make(map[string]service.BatchItem, len(res))
		for s, candles := range res {
			s = models.NormalizeTicker(s)
			if len(candles) == 0 {
				continue
			}
			series := models.HistoricalSeries{
				Symbol:    s,
				Period:    params.Period,
				Interval:  string(params.Interval),
				Candles:   candles,
				Source:    sourceFor(i),
				Provider:  name,
				FetchedAt: g.now().UTC(),
			}
			g.store(ctx, series, params)
			out[s] = service.BatchItem{Series: series, Source: series.Source}
		}
		return out, true
	}
	return nil, false
}

// IsDeferred reports whether a batch item was skipped by the sampling path.
func IsDeferred(item service.BatchItem) bool {
	return item.Err != nil && errors.Is(item.Err, service.ErrBatchDeferred)
}
