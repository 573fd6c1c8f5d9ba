package provider

import (
	"context"
	"encoding/json"
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
	"NightScan/internal/domain/repository"
)

var daily1mo = repository.HistoryParams{Period: "1mo", Interval: repository.Interval1d}

func chartJSON(symbol string, ts []int64, closes []interface{}) string {
	body := map[string]interface{}{
		"chart": map[string]interface{}{
			"result": []interface{}{map[string]interface{}{
				"meta": map[string]interface{}{
					"symbol":             symbol,
					"regularMarketPrice": 105.0,
					"previousClose":      100.0,
					"regularMarketTime":  ts[len(ts)-1],
				},
				"timestamp": ts,
				"indicators": map[string]interface{}{
					"quote": []interface{}{map[string]interface{}{
						"open": closes, "high": closes, "low": closes, "close": closes,
						"volume": make([]interface{}, len(closes)),
					}},
				},
			}},
			"error": nil,
		},
	}
	b, _ := json.Marshal(body)
	return string(b)
}

func TestYahoo_FetchHistoryNormalizes(t *testing.T) {
	day := int64(86400)
	base := int64(1_700_000_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "1mo", r.URL.Query().Get("range"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		// out of order, one duplicate, one null, one non-positive
		ts := []int64{base + 2*day, base, base + day, base + day, base + 3*day, base + 4*day}
		closes := []interface{}{12.0, 10.0, 11.0, 11.5, nil, 0.0}
		_, _ = w.Write([]byte(chartJSON("AAPL", ts, closes)))
	}))
	defer srv.Close()

	y := NewYahoo(WithBaseURL(srv.URL))
	candles, err := y.FetchHistory(context.Background(), "AAPL", daily1mo)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, []float64{10, 11.5, 12}, models.HistoricalSeries{Candles: candles}.Closes())
	assert.True(t, candles[0].Bucket.Before(candles[1].Bucket))
}

func TestYahoo_ErrorObjectIsDataUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	}))
	defer srv.Close()

	_, err := NewYahoo(WithBaseURL(srv.URL)).FetchHistory(context.Background(), "ZZZZ", daily1mo)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDataUnavailable))
}

func TestYahoo_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   errs.Kind
	}{
		{http.StatusTooManyRequests, errs.KindRateLimited},
		{http.StatusBadGateway, errs.KindTransient},
		{http.StatusNotFound, errs.KindDataUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := NewYahoo(WithBaseURL(srv.URL)).FetchHistory(context.Background(), "AAPL", daily1mo)
		srv.Close()
		require.Error(t, err)
		assert.Equal(t, tc.kind, errs.KindOf(err), "status %d", tc.status)
	}
}

func TestYahoo_MalformedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart": [`))
	}))
	defer srv.Close()

	_, err := NewYahoo(WithBaseURL(srv.URL)).FetchHistory(context.Background(), "AAPL", daily1mo)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTransient))
}

func TestYahoo_FetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chartJSON("^VIX", []int64{1_700_000_000}, []interface{}{20.0})))
	}))
	defer srv.Close()

	q, err := NewYahoo(WithBaseURL(srv.URL)).FetchQuote(context.Background(), "^vix")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "^VIX", q.Symbol)
	assert.Equal(t, 105.0, q.Price)
	assert.InDelta(t, 5.0, q.GapPct(), 1e-9)
}

type countingPacer struct{ n atomic.Int32 }

func (p *countingPacer) Wait(ctx context.Context, _ string) error {
	p.n.Add(1)
	return ctx.Err()
}

func TestYahoo_FetchBatchSkipsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/BAD") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(chartJSON("X", []int64{1_700_000_000, 1_700_086_400}, []interface{}{1.0, 2.0})))
	}))
	defer srv.Close()

	pacer := &countingPacer{}
	out, err := NewYahoo(WithBaseURL(srv.URL), WithPacer(pacer)).
		FetchBatch(context.Background(), []string{"AAA", "BAD", "CCC"}, daily1mo)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Contains(t, out, "AAA")
	assert.NotContains(t, out, "BAD")
	assert.Equal(t, int32(3), pacer.n.Load())
}

func avSeries(days int) string {
	rows := map[string]map[string]string{}
	now := time.Now().UTC()
	for i := 0; i < days; i++ {
		d := now.AddDate(0, 0, -i).Format(time.DateOnly)
		c := fmt.Sprintf("%.2f", 100+float64(i))
		rows[d] = map[string]string{"1. open": c, "2. high": c, "3. low": c, "4. close": c, "5. volume": "1000"}
	}
	b, _ := json.Marshal(map[string]interface{}{
		"Meta Data":           map[string]string{"2. Symbol": "IBM"},
		"Time Series (Daily)": rows,
	})
	return string(b)
}

func TestAlphaVantage_FetchHistoryTrimsToPeriod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TIME_SERIES_DAILY", r.URL.Query().Get("function"))
		assert.Equal(t, "compact", r.URL.Query().Get("outputsize"))
		assert.Equal(t, "k", r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte(avSeries(90)))
	}))
	defer srv.Close()

	av := NewAlphaVantage(WithBaseURL(srv.URL), WithAPIKey("k"))
	candles, err := av.FetchHistory(context.Background(), "IBM", daily1mo)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(candles), 27)
	assert.LessOrEqual(t, len(candles), 32)
	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i-1].Bucket.Before(candles[i].Bucket))
	}
}

func TestAlphaVantage_NoteIsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`))
	}))
	defer srv.Close()

	_, err := NewAlphaVantage(WithBaseURL(srv.URL), WithAPIKey("k")).FetchHistory(context.Background(), "IBM", daily1mo)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindRateLimited))
}

func TestAlphaVantage_ErrorMessageIsDataUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Error Message":"Invalid API call."}`))
	}))
	defer srv.Close()

	_, err := NewAlphaVantage(WithBaseURL(srv.URL), WithAPIKey("k")).FetchHistory(context.Background(), "NOPE", daily1mo)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDataUnavailable))
}

func TestAlphaVantage_MissingKeyIsConfiguration(t *testing.T) {
	_, err := NewAlphaVantage().FetchHistory(context.Background(), "IBM", daily1mo)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestAlphaVantage_FetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		_, _ = w.Write([]byte(`{"Global Quote":{"01. symbol":"IBM","05. price":"150.00","06. volume":"1200","07. latest trading day":"2024-05-01","08. previous close":"140.00"}}`))
	}))
	defer srv.Close()

	q, err := NewAlphaVantage(WithBaseURL(srv.URL), WithAPIKey("k")).FetchQuote(context.Background(), "ibm")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 150.0, q.Price)
	assert.Equal(t, 140.0, q.PrevClose)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), q.Timestamp)
}

func TestNormalize_DropsInvalidRows(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []models.Candle{
		{Bucket: t0.AddDate(0, 0, 1), Close: 2},
		{Bucket: t0, Close: -1},
		{Close: 5},
		{Bucket: t0, Close: 1},
	}
	out := Normalize(in)
	require.Len(t, out, 2)
	assert.Equal(t, 1.0, out[0].Close)
	assert.Equal(t, 2.0, out[1].Close)
}
