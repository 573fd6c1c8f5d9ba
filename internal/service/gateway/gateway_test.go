package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
	"NightScan/internal/domain/service"
	"NightScan/internal/service/ratelimit"
	"NightScan/internal/service/retry"
	"NightScan/pkg/cache"
)

var params = repository.HistoryParams{Period: "1mo", Interval: repository.Interval1d}

type fakeProvider struct {
	name string

	mu         sync.Mutex
	calls      map[string]int
	batchCalls int
	// supports lists symbols the provider has data for; nil means all.
	supports map[string]bool
	failWith func(symbol string) error
	quote    *models.Quote
	batchErr error
	// batchFlaky fails that many batch calls before answering.
	batchFlaky int
	// batchHang blocks every batch call until its context ends.
	batchHang bool
}

func newFake(name string) *fakeProvider {
	return &fakeProvider{name: name, calls: make(map[string]int)}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Calls(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func (f *fakeProvider) FetchHistory(_ context.Context, symbol string, _ repository.HistoryParams) ([]models.Candle, error) {
	f.mu.Lock()
	f.calls[symbol]++
	f.mu.Unlock()

	if f.failWith != nil {
		if err := f.failWith(symbol); err != nil {
			return nil, err
		}
	}
	if f.supports != nil && !f.supports[symbol] {
		return nil, errs.DataUnavailable("fake", errors.New("unknown symbol")).WithProvider(f.name)
	}
	return candles(10), nil
}

func (f *fakeProvider) FetchQuote(_ context.Context, symbol string) (*models.Quote, error) {
	f.mu.Lock()
	f.calls["quote:"+symbol]++
	f.mu.Unlock()
	return f.quote, nil
}

type batchFake struct {
	*fakeProvider
}

func (b batchFake) FetchBatch(ctx context.Context, symbols []string, p repository.HistoryParams) (map[string][]models.Candle, error) {
	b.mu.Lock()
	b.batchCalls++
	flaky := b.batchCalls <= b.batchFlaky
	b.mu.Unlock()
	out := map[string][]models.Candle{}
	if b.batchHang {
		<-ctx.Done()
		return out, ctx.Err()
	}
	if flaky {
		return out, errs.Transient("fake", errors.New("502"))
	}
	if b.batchErr != nil {
		return out, b.batchErr
	}
	for _, s := range symbols {
		if c, err := b.FetchHistory(ctx, s, p); err == nil {
			out[s] = c
		}
	}
	return out, nil
}

func candles(n int) []models.Candle {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Bucket: t0.AddDate(0, 0, i), Close: 100 + float64(i), Volume: 1000}
	}
	return out
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}
}

func TestFetchHistory_PrimaryFailsUsesFallback(t *testing.T) {
	primary := newFake("primary")
	primary.failWith = func(string) error { return errs.Transient("fake", errors.New("503")) }
	secondary := newFake("secondary")

	g := New([]repository.HistoryProvider{primary, secondary}, ratelimit.New(), WithRetry(fastRetry()))
	series, src, err := g.FetchHistory(context.Background(), "aapl", params)
	require.NoError(t, err)
	assert.Equal(t, models.SourceFallback, src)
	assert.Equal(t, "secondary", series.Provider)
	assert.Equal(t, "AAPL", series.Symbol)
	assert.Equal(t, 3, primary.Calls("AAPL"), "transient errors are retried")
	assert.Equal(t, 1, secondary.Calls("AAPL"))
}

func TestFetchHistory_RateLimitedMovesOnWithoutRetry(t *testing.T) {
	primary := newFake("primary")
	primary.failWith = func(string) error { return errs.RateLimited("fake", errors.New("429")) }
	secondary := newFake("secondary")

	g := New([]repository.HistoryProvider{primary, secondary}, ratelimit.New(), WithRetry(fastRetry()))
	_, src, err := g.FetchHistory(context.Background(), "MSFT", params)
	require.NoError(t, err)
	assert.Equal(t, models.SourceFallback, src)
	assert.Equal(t, 1, primary.Calls("MSFT"))
}

func TestFetchHistory_ExhaustedBudgetSkipsProvider(t *testing.T) {
	primary := newFake("primary")
	secondary := newFake("secondary")
	th := ratelimit.New()
	th.Configure("primary", ratelimit.Limits{DailyBudget: 1})

	g := New([]repository.HistoryProvider{primary, secondary}, th, WithRetry(fastRetry()))
	_, src, err := g.FetchHistory(context.Background(), "A", params)
	require.NoError(t, err)
	assert.Equal(t, models.SourcePrimary, src)

	_, src, err = g.FetchHistory(context.Background(), "B", params)
	require.NoError(t, err)
	assert.Equal(t, models.SourceFallback, src)
	assert.Zero(t, primary.Calls("B"))
	assert.Equal(t, int64(1), g.CallsUsed()["primary"])
	assert.Equal(t, int64(1), g.CallsUsed()["secondary"])
}

func TestFetchHistory_CacheHitBypassesProviders(t *testing.T) {
	primary := newFake("primary")
	mem := cache.NewMemoryCache()
	defer mem.Close()

	g := New([]repository.HistoryProvider{primary}, ratelimit.New(), WithCache(mem, time.Hour))
	first, src, err := g.FetchHistory(context.Background(), "SPY", params)
	require.NoError(t, err)
	assert.Equal(t, models.SourcePrimary, src)

	second, src, err := g.FetchHistory(context.Background(), "SPY", params)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, src)
	assert.Equal(t, first.Closes(), second.Closes())
	assert.Equal(t, 1, primary.Calls("SPY"))
}

func TestFetchHistory_AllFailIsDataUnavailable(t *testing.T) {
	primary := newFake("primary")
	primary.supports = map[string]bool{}
	secondary := newFake("secondary")
	secondary.failWith = func(string) error { return errs.RateLimited("fake", errors.New("Note")) }

	g := New([]repository.HistoryProvider{primary, secondary}, ratelimit.New(), WithRetry(fastRetry()))
	_, src, err := g.FetchHistory(context.Background(), "GONE", params)
	require.Error(t, err)
	assert.Equal(t, models.SourceNone, src)
	assert.True(t, errs.Is(err, errs.KindDataUnavailable))
}

func TestFetchHistory_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	primary := newFake("primary")
	primary.failWith = func(string) error { return errs.Transient("fake", errors.New("boom")) }
	secondary := newFake("secondary")

	g := New([]repository.HistoryProvider{primary, secondary}, ratelimit.New(),
		WithRetry(retry.Policy{MaxAttempts: 1}), WithBreaker(3, time.Hour))

	for i := 0; i < 5; i++ {
		_, src, err := g.FetchHistory(context.Background(), fmt.Sprintf("S%d", i), params)
		require.NoError(t, err)
		assert.Equal(t, models.SourceFallback, src)
	}
	assert.Equal(t, 1, primary.Calls("S2"))
	assert.Zero(t, primary.Calls("S3"), "breaker should be open")
	assert.Zero(t, primary.Calls("S4"))
}

func TestFetchHistory_DataUnavailableDoesNotTripBreaker(t *testing.T) {
	primary := newFake("primary")
	primary.supports = map[string]bool{"OK": true}
	secondary := newFake("secondary")

	g := New([]repository.HistoryProvider{primary, secondary}, ratelimit.New(),
		WithRetry(retry.Policy{MaxAttempts: 1}), WithBreaker(3, time.Hour))
	for i := 0; i < 5; i++ {
		_, _, _ = g.FetchHistory(context.Background(), fmt.Sprintf("X%d", i), params)
	}
	_, src, err := g.FetchHistory(context.Background(), "OK", params)
	require.NoError(t, err)
	assert.Equal(t, models.SourcePrimary, src)
}

func TestFetchBatch_EmptyBatchSamplesIndividually(t *testing.T) {
	primary := batchFake{newFake("primary")}
	primary.batchErr = errs.Transient("fake", errors.New("outage"))

	symbols := make([]string, 40)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%02d", i)
	}

	g := New([]repository.HistoryProvider{primary}, ratelimit.New(), WithRetry(fastRetry()), WithBatchSampleSize(5))
	out := g.FetchBatch(context.Background(), symbols, params)
	require.Len(t, out, 40)

	sampled, deferred := 0, 0
	for i, s := range symbols {
		item := out[s]
		if i < 5 {
			require.NoError(t, item.Err, s)
			assert.False(t, item.Series.Empty())
			sampled++
			continue
		}
		assert.True(t, IsDeferred(item), s)
		assert.True(t, errs.Is(item.Err, errs.KindDataUnavailable))
		deferred++
	}
	assert.Equal(t, 5, sampled)
	assert.Equal(t, 35, deferred)
	assert.Equal(t, 3, primary.batchCalls, "transient batch failures are retried")
}

func TestFetchBatch_RetriesTransientFailure(t *testing.T) {
	primary := batchFake{newFake("primary")}
	primary.batchFlaky = 1

	g := New([]repository.HistoryProvider{primary}, ratelimit.New(), WithRetry(fastRetry()))
	out := g.FetchBatch(context.Background(), []string{"A", "B"}, params)

	require.Len(t, out, 2)
	for _, s := range []string{"A", "B"} {
		require.NoError(t, out[s].Err, s)
		assert.Equal(t, models.SourcePrimary, out[s].Source, s)
		assert.Equal(t, 1, primary.Calls(s), "served by the second batch attempt")
	}
	assert.Equal(t, 2, primary.batchCalls)
}

func TestFetchBatch_HungProviderTimesOut(t *testing.T) {
	primary := batchFake{newFake("primary")}
	primary.batchHang = true
	secondary := newFake("secondary")

	g := New([]repository.HistoryProvider{primary, secondary}, ratelimit.New(),
		WithRetry(retry.Policy{MaxAttempts: 1}),
		WithBreaker(1, time.Hour),
		WithCallTimeout("primary", 20*time.Millisecond),
		WithBatchSampleSize(1))

	done := make(chan map[string]service.BatchItem, 1)
	go func() { done <- g.FetchBatch(context.Background(), []string{"A", "B"}, params) }()

	var out map[string]service.BatchItem
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch fetch did not honour the call timeout")
	}
	require.Len(t, out, 2)
	require.NoError(t, out["A"].Err)
	assert.Equal(t, models.SourceFallback, out["A"].Source)
	assert.True(t, IsDeferred(out["B"]))
	assert.Equal(t, 1, primary.batchCalls)
}

func TestFetchBatch_PartialBatchFallsBackPerSymbol(t *testing.T) {
	primary := batchFake{newFake("primary")}
	primary.supports = map[string]bool{}
	for i := 1; i <= 6; i++ {
		primary.supports[fmt.Sprintf("S%d", i)] = true
	}
	secondary := newFake("secondary")

	var symbols []string
	for i := 1; i <= 10; i++ {
		symbols = append(symbols, fmt.Sprintf("S%d", i))
	}

	g := New([]repository.HistoryProvider{primary, secondary}, ratelimit.New(), WithRetry(fastRetry()))
	out := g.FetchBatch(context.Background(), symbols, params)
	require.Len(t, out, 10)
	for i, s := range symbols {
		require.NoError(t, out[s].Err, s)
		if i < 6 {
			assert.Equal(t, models.SourcePrimary, out[s].Source, s)
		} else {
			assert.Equal(t, models.SourceFallback, out[s].Source, s)
		}
	}
}

func TestFetchBatch_ServesCachedSymbols(t *testing.T) {
	primary := batchFake{newFake("primary")}
	mem := cache.NewMemoryCache()
	defer mem.Close()

	g := New([]repository.HistoryProvider{primary}, ratelimit.New(), WithCache(mem, time.Hour))
	_ = g.FetchBatch(context.Background(), []string{"A", "B"}, params)
	out := g.FetchBatch(context.Background(), []string{"a", "B"}, params)

	assert.Equal(t, models.SourceCache, out["A"].Source)
	assert.Equal(t, models.SourceCache, out["B"].Source)
	assert.Equal(t, 1, primary.batchCalls)
}

func TestFetchQuote_FallsThroughNilSnapshot(t *testing.T) {
	primary := newFake("primary")
	secondary := newFake("secondary")
	secondary.quote = &models.Quote{Symbol: "^VIX", Price: 18}

	g := New([]repository.HistoryProvider{primary, secondary}, ratelimit.New())
	q, err := g.FetchQuote(context.Background(), "^vix")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 18.0, q.Price)

	secondary.quote = nil
	q, err = g.FetchQuote(context.Background(), "^VIX")
	require.NoError(t, err)
	assert.Nil(t, q)
}
