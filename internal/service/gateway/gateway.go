// Package gateway puts the market-data providers behind one fallback chain
// with caching, throttling, retries and per-provider circuit breakers.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
	"NightScan/internal/domain/service"
	"NightScan/internal/service/ratelimit"
	"NightScan/internal/service/retry"
	"NightScan/pkg/cache"
	"NightScan/pkg/logger"
)

const defaultCallTimeout = 15 * time.Second

// Gateway is the provider-agnostic entry point for historical data and
// quotes. Providers are tried in the order given to New.
type Gateway struct {
	providers    []repository.HistoryProvider
	throttle     *ratelimit.Throttle
	breakers     map[string]*gobreaker.CircuitBreaker
	cache        cache.Service
	cacheTTL     time.Duration
	retry        retry.Policy
	tripAfter    uint32
	openTimeout  time.Duration
	sampleSize   int
	callTimeouts map[string]time.Duration
	metrics      repository.Metrics
	log          *logger.Logger
	now          func() time.Time
}

var _ service.MarketData = (*Gateway)(nil)

func New(providers []repository.HistoryProvider, throttle *ratelimit.Throttle, opts ...Option) *Gateway {
	g := &Gateway{
		providers:    providers,
		throttle:     throttle,
		cacheTTL:     4 * time.Hour,
		retry:        retry.Default(),
		tripAfter:    3,
		openTimeout:  60 * time.Second,
		sampleSize:   5,
		callTimeouts: make(map[string]time.Duration),
		metrics:      repository.NopMetrics{},
		log:          logger.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.throttle == nil {
		g.throttle = ratelimit.New()
	}

	g.breakers = make(map[string]*gobreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		g.breakers[p.Name()] = g.newBreaker(p.Name())
	}
	return g
}

func (g *Gateway) newBreaker(name string) *gobreaker.CircuitBreaker {
	tripAfter := g.tripAfter
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: g.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		// throttling and missing symbols say nothing about provider health
		IsSuccessful: func(err error) bool {
			return err == nil || errs.Is(err, errs.KindRateLimited) || errs.Is(err, errs.KindDataUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn("provider breaker state changed",
				logger.String("provider", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
}

func sourceFor(index int) models.SourceTag {
	if index == 0 {
		return models.SourcePrimary
	}
	return models.SourceFallback
}

func cacheKey(symbol string, params repository.HistoryParams, provider string) string {
	return cache.GenerateKeyWithParams("hist", symbol, params.Period, params.Interval, provider)
}

func (g *Gateway) fromCache(ctx context.Context, symbol string, params repository.HistoryParams) (models.HistoricalSeries, bool) {
	if g.cache == nil {
		return models.HistoricalSeries{}, false
	}
	for _, p := range g.providers {
		series, err := cache.GetTyped[models.HistoricalSeries](ctx, g.cache, cacheKey(symbol, params, p.Name()))
		if err != nil {
			if !errors.Is(err, cache.ErrCacheMiss) {
				g.log.Debug("history cache read failed", logger.String("symbol", symbol), logger.Error(err))
			}
			continue
		}
		if series.Empty() {
			continue
		}
		series.Source = models.SourceCache
		g.metrics.RecordCacheHit("history")
		return series, true
	}
	return models.HistoricalSeries{}, false
}

func (g *Gateway) store(ctx context.Context, series models.HistoricalSeries, params repository.HistoryParams) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Set(ctx, cacheKey(series.Symbol, params, series.Provider), series, g.cacheTTL); err != nil {
		g.log.Warn("history cache write failed", logger.String("symbol", series.Symbol), logger.Error(err))
	}
}

// usable reports whether a provider may be called right now. The returned
// error explains why not.
func (g *Gateway) usable(name string) error {
	if g.throttle.Exhausted(name) {
		return errs.RateLimited("gateway", errors.New("daily budget exhausted")).WithProvider(name)
	}
	if b := g.breakers[name]; b != nil && b.State() == gobreaker.StateOpen {
		return errs.DataUnavailable("gateway", gobreaker.ErrOpenState).WithProvider(name)
	}
	return nil
}

// call runs fn against one provider: throttle slot, bounded timeout and
// breaker, all under the retry policy.
func call[T any](ctx context.Context, g *Gateway, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	timeout := g.callTimeout(name)

	return retry.DoValue(ctx, g.retry, func(ctx context.Context) (T, error) {
		var zero T
		if err := g.throttle.Wait(ctx, name); err != nil {
			if errs.KindOf(err) == errs.KindRateLimited {
				return zero, err
			}
			return zero, errs.Transient("throttle wait", err).WithProvider(name)
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := g.breakers[name].Execute(func() (interface{}, error) {
			return fn(callCtx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return zero, errs.DataUnavailable("gateway", err).WithProvider(name)
			}
			return zero, err
		}
		v, _ := out.(T)
		return v, nil
	})
}

func (g *Gateway) callTimeout(name string) time.Duration {
	if d := g.callTimeouts[name]; d > 0 {
		return d
	}
	return defaultCallTimeout
}

func (g *Gateway) record(name string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(errs.KindOf(err))
	}
	g.metrics.RecordProviderCall(name, outcome)
}

// FetchHistory returns the series for symbol from the cache or the first
// provider in the chain that can supply it.
func (g *Gateway) FetchHistory(ctx context.Context, symbol string, params repository.HistoryParams) (models.HistoricalSeries, models.SourceTag, error) {
	symbol = models.NormalizeTicker(symbol)
	params = params.Normalize()

	if series, ok := g.fromCache(ctx, symbol, params); ok {
		return series, models.SourceCache, nil
	}

	var lastErr error
	for i, p := range g.providers {
		name := p.Name()
		if err := g.usable(name); err != nil {
			lastErr = err
			g.skip(i, name, symbol, err)
			continue
		}

		candles, err := call(ctx, g, name, func(ctx context.Context) ([]models.Candle, error) {
			return p.FetchHistory(ctx, symbol, params)
		})
		g.record(name, err)
		if err == nil && len(candles) > 0 {
			series := models.HistoricalSeries{
				Symbol:    symbol,
				Period:    params.Period,
				Interval:  string(params.Interval),
				Candles:   candles,
				Source:    sourceFor(i),
				Provider:  name,
				FetchedAt: g.now().UTC(),
			}
			g.store(ctx, series, params)
			return series, series.Source, nil
		}
		if err == nil {
			err = errs.DataUnavailable("fetch history", errors.New("empty series")).WithProvider(name).WithSymbol(symbol)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		g.skip(i, name, symbol, err)
	}

	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	if ctx.Err() != nil {
		lastErr = fmt.Errorf("%w: %w", ctx.Err(), lastErr)
	}
	return models.HistoricalSeries{}, models.SourceNone,
		errs.DataUnavailable("fetch history", lastErr).WithSymbol(symbol)
}

func (g *Gateway) skip(index int, name, symbol string, err error) {
	if index+1 < len(g.providers) {
		g.metrics.RecordFallback(name, g.providers[index+1].Name())
	}
	g.log.Debug("provider skipped",
		logger.String("provider", name),
		logger.String("symbol", symbol),
		logger.String("kind", string(errs.KindOf(err))),
		logger.Error(err),
	)
}

// FetchQuote returns the first snapshot any quote-capable provider has.
// A nil quote with a nil error means no provider had one.
func (g *Gateway) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = models.NormalizeTicker(symbol)

	var lastErr error
	for i, p := range g.providers {
		qp, ok := p.(repository.QuoteProvider)
		if !ok {
			continue
		}
		name := p.Name()
		if err := g.usable(name); err != nil {
			lastErr = err
			g.skip(i, name, symbol, err)
			continue
		}

		q, err := call(ctx, g, name, func(ctx context.Context) (*models.Quote, error) {
			return qp.FetchQuote(ctx, symbol)
		})
		g.record(name, err)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			g.skip(i, name, symbol, err)
			continue
		}
		if q != nil {
			return q, nil
		}
	}

	if lastErr != nil {
		return nil, errs.DataUnavailable("fetch quote", lastErr).WithSymbol(symbol)
	}
	return nil, nil
}

// CallsUsed snapshots today's call counters per provider.
func (g *Gateway) CallsUsed() map[string]int64 {
	return g.throttle.Used()
}
