package sentiment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/pkg/config"
)

func rss(items ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>t</title>` +
		strings.Join(items, "") + `</channel></rss>`
}

func rssItem(title, desc string, published time.Time) string {
	return fmt.Sprintf(`<item><title>%s</title><link>https://example.com/%d</link><description><![CDATA[%s]]></description><pubDate>%s</pubDate></item>`,
		title, published.Unix(), desc, published.Format(time.RFC1123Z))
}

func testConfig() config.SentimentConfig {
	return config.SentimentConfig{
		Enabled:           true,
		MaxArticles:       20,
		MaxAge:            72 * time.Hour,
		MacroTTL:          30 * time.Minute,
		RequestsPerSecond: 1000,
		Burst:             10,
		Timeout:           time.Second,
	}
}

func TestFeedReader_FiltersAndStrips(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rss(
			rssItem("Shares surge", "<p>Company <b>beats</b> estimates</p>", now.Add(-time.Hour)),
			rssItem("Old news", "stale", now.Add(-10*24*time.Hour)),
			rssItem("Third", "plain", now.Add(-2*time.Hour)),
		)))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxArticles = 5
	items, err := NewFeedReader(cfg).Read(context.Background(), "test", srv.URL)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Shares surge", items[0].Title)
	assert.Equal(t, "Company beats estimates", items[0].Text)
	assert.Equal(t, "test", items[0].Source)
	assert.Equal(t, "Third", items[1].Title)

	cfg.MaxArticles = 1
	items, err = NewFeedReader(cfg).Read(context.Background(), "test", srv.URL)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestFeedReader_Errors(t *testing.T) {
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer limited.Close()
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not a feed"))
	}))
	defer garbage.Close()

	r := NewFeedReader(testConfig())
	_, err := r.Read(context.Background(), "x", limited.URL)
	assert.True(t, errs.Is(err, errs.KindRateLimited))
	_, err = r.Read(context.Background(), "x", garbage.URL)
	assert.True(t, errs.Is(err, errs.KindDataUnavailable))
}

func TestSymbolFeed_EscapesTicker(t *testing.T) {
	var query atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(rss()))
	}))
	defer srv.Close()

	f := NewSymbolFeed(NewFeedReader(testConfig()), srv.URL+"/rss?q=%s+stock")
	items, err := f.Fetch(context.Background(), "BRK.B")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, "BRK.B stock", query.Load())
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "plain text", StripHTML("  plain text "))
	assert.Equal(t, "a b & c", StripHTML("<div>a <i>b</i> &amp; c</div>"))
}

func TestKeywordClassifier(t *testing.T) {
	got, err := KeywordClassifier{}.Classify(context.Background(), []string{
		"Stock surges after record profit",
		"Analyst downgrade, shares plunge",
		"Company holds annual meeting",
		"Beats estimates but guidance cut",
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -1, 0, 0}, got)
}

type staticSource struct {
	name  string
	items []models.NewsItem
	err   error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Fetch(context.Context, string) ([]models.NewsItem, error) {
	return s.items, s.err
}

type downClassifier struct{ calls int }

func (d *downClassifier) Name() string { return "model" }

func (d *downClassifier) Classify(context.Context, []string) ([]float64, error) {
	d.calls++
	return nil, errs.ModelUnavailable("classify", errors.New("down"))
}

type constClassifier struct{ v float64 }

func (c constClassifier) Name() string { return "model" }

func (c constClassifier) Classify(_ context.Context, texts []string) ([]float64, error) {
	out := make([]float64, len(texts))
	for i := range out {
		out[i] = c.v
	}
	return out, nil
}

func TestAggregator_NoItems(t *testing.T) {
	a := New(WithNewsSource(staticSource{name: "s", err: errors.New("offline")}))
	rec := a.Score(context.Background(), "aapl")
	assert.Equal(t, "AAPL", rec.Symbol)
	assert.Zero(t, rec.Polarity)
	assert.Zero(t, rec.ArticleCount)
	assert.Equal(t, models.SentimentNone, rec.Method)
}

func TestAggregator_PrimaryClassifier(t *testing.T) {
	a := New(
		WithNewsSource(staticSource{name: "s", items: []models.NewsItem{{Source: "s", Title: "x"}, {Source: "s", Title: "y"}}}),
		WithClassifier(constClassifier{v: 0.4}),
	)
	rec := a.Score(context.Background(), "MSFT")
	assert.Equal(t, models.SentimentModel, rec.Method)
	assert.InDelta(t, 0.4, rec.Polarity, 1e-12)
	assert.Equal(t, 2, rec.ArticleCount)
	assert.Equal(t, []string{"s"}, rec.Sources)
}

func TestAggregator_FallsBackToKeywords(t *testing.T) {
	down := &downClassifier{}
	a := New(
		WithNewsSource(staticSource{name: "s", items: []models.NewsItem{
			{Source: "s", Title: "Shares surge on strong growth"},
			{Source: "s", Title: "Quiet day"},
		}}),
		WithClassifier(down),
	)
	rec := a.Score(context.Background(), "NVDA")
	assert.Equal(t, 1, down.calls)
	assert.Equal(t, models.SentimentKeyword, rec.Method)
	assert.InDelta(t, 0.5, rec.Polarity, 1e-12)
}

func TestAggregator_MacroFetchedOncePerWindow(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(rss(rssItem("Markets rally", "", time.Now().Add(-time.Hour)))))
	}))
	defer srv.Close()

	feeds := []config.MacroFeed{
		{Name: "macro", URL: srv.URL},
		{Name: "energy", URL: srv.URL, Sectors: []string{"Energy"}},
	}
	macro := NewMacroCache(NewFeedReader(testConfig()), feeds, time.Hour, nil)
	start := time.Now()
	clock := start
	macro.now = func() time.Time { return clock }

	a := New(
		WithMacro(macro),
		WithUniverse([]models.Symbol{{Ticker: "XOM", Sector: "energy"}, {Ticker: "AAPL", Sector: "Technology"}}),
	)

	rec := a.Score(context.Background(), "AAPL")
	assert.Equal(t, 1, rec.ArticleCount)
	assert.Equal(t, []string{"macro"}, rec.Sources)
	assert.Equal(t, int32(1), hits.Load())

	clock = start.Add(10 * time.Minute)
	rec = a.Score(context.Background(), "XOM")
	assert.Equal(t, 2, rec.ArticleCount)
	assert.Equal(t, []string{"energy", "macro"}, rec.Sources)
	assert.Equal(t, 10*time.Minute, rec.CacheAge)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, models.SentimentKeyword, rec.Method)
	assert.InDelta(t, 1.0, rec.Polarity, 1e-12)
}

func TestMacroCache_CancelledFetchIsNotCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(rss(rssItem("Fed holds rates", "", time.Now().Add(-time.Hour)))))
	}))
	defer srv.Close()

	macro := NewMacroCache(NewFeedReader(testConfig()), []config.MacroFeed{{Name: "macro", URL: srv.URL}}, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	items, _ := macro.Items(ctx, "Technology")
	assert.Empty(t, items)

	items, _ = macro.Items(context.Background(), "Technology")
	require.Len(t, items, 1)
	assert.Equal(t, "Fed holds rates", items[0].Title)

	_, _ = macro.Items(context.Background(), "Technology")
	assert.Equal(t, int32(1), hits.Load(), "the successful fetch is cached")
}

func TestMacroCache_FailedFetchIsCachedForWindow(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	macro := NewMacroCache(NewFeedReader(testConfig()), []config.MacroFeed{{Name: "macro", URL: srv.URL}}, time.Hour, nil)
	for i := 0; i < 3; i++ {
		items, _ := macro.Items(context.Background(), "")
		assert.Empty(t, items)
	}
	first := hits.Load()
	assert.Positive(t, first)
	_, _ = macro.Items(context.Background(), "")
	assert.Equal(t, first, hits.Load())
}
