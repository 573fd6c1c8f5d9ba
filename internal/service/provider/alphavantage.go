package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
	xhttp "NightScan/pkg/http"
	"NightScan/pkg/util"
)

const (
	defaultAlphaVantageURL = "https://www.alphavantage.co"
	compactPoints          = 100
)

// AlphaVantage reads the date-keyed time-series API. Values are strings
// under "1. open" style keys; throttling is reported in the body, not with
// a status code.
type AlphaVantage struct {
	opts options
	now  func() time.Time
}

var (
	_ repository.HistoryProvider = (*AlphaVantage)(nil)
	_ repository.QuoteProvider   = (*AlphaVantage)(nil)
)

func NewAlphaVantage(opts ...Option) *AlphaVantage {
	return &AlphaVantage{opts: buildOptions(NameSecondary, defaultAlphaVantageURL, opts), now: time.Now}
}

func (a *AlphaVantage) Name() string { return a.opts.name }

func (a *AlphaVantage) query(ctx context.Context, op, symbol string, params map[string]string) (map[string]json.RawMessage, error) {
	if a.opts.apiKey == "" {
		return nil, errs.Configuration(op, errors.New("missing api key")).WithProvider(a.Name())
	}

	qp := map[string][]string{"symbol": {symbol}, "apikey": {a.opts.apiKey}}
	for k, v := range params {
		qp[k] = []string{v}
	}

	var body map[string]json.RawMessage
	err := a.opts.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         a.opts.baseURL + "/query",
		QueryParams: qp,
	}, &body)
	if err != nil {
		return nil, classify(op, a.Name(), symbol, err)
	}

	for _, key := range []string{"Note", "Information"} {
		if raw, ok := body[key]; ok {
			var msg string
			_ = json.Unmarshal(raw, &msg)
			return nil, errs.RateLimited(op, errors.New(msg)).WithProvider(a.Name()).WithSymbol(symbol)
		}
	}
	if raw, ok := body["Error Message"]; ok {
		var msg string
		_ = json.Unmarshal(raw, &msg)
		return nil, errs.DataUnavailable(op, errors.New(msg)).WithProvider(a.Name()).WithSymbol(symbol)
	}
	return body, nil
}

func seriesRequest(params repository.HistoryParams, days int) (map[string]string, string) {
	outputSize := "compact"
	if days > compactPoints {
		outputSize = "full"
	}
	switch params.Interval {
	case repository.Interval1wk:
		return map[string]string{"function": "TIME_SERIES_WEEKLY"}, "Weekly Time Series"
	case repository.Interval1h:
		return map[string]string{"function": "TIME_SERIES_INTRADAY", "interval": "60min", "outputsize": outputSize},
			"Time Series (60min)"
	default:
		return map[string]string{"function": "TIME_SERIES_DAILY", "outputsize": outputSize}, "Time Series (Daily)"
	}
}

func (a *AlphaVantage) FetchHistory(ctx context.Context, symbol string, params repository.HistoryParams) ([]models.Candle, error) {
	params = params.Normalize()
	period, err := util.ParsePeriod(params.Period)
	if err != nil {
		return nil, errs.DataUnavailable("fetch history", err).WithProvider(a.Name()).WithSymbol(symbol)
	}

	q, key := seriesRequest(params, period.TradingDays())
	body, err := a.query(ctx, "fetch history", symbol, q)
	if err != nil {
		return nil, err
	}

	raw, ok := body[key]
	if !ok {
		return nil, errs.DataUnavailable("fetch history", fmt.Errorf("missing %q", key)).
			WithProvider(a.Name()).WithSymbol(symbol)
	}
	var rows map[string]map[string]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, errs.Transient("fetch history", fmt.Errorf("decode series: %w", err)).
			WithProvider(a.Name()).WithSymbol(symbol)
	}

	start := period.Start(a.now().UTC())
	candles := make([]models.Candle, 0, len(rows))
	for date, fields := range rows {
		ts, ok := util.ParseTime(date)
		if !ok || ts.Before(start) {
			continue
		}
		candles = append(candles, models.Candle{
			Bucket: ts,
			Open:   field(fields, "1. open"),
			High:   field(fields, "2. high"),
			Low:    field(fields, "3. low"),
			Close:  field(fields, "4. close"),
			Volume: field(fields, "5. volume"),
		})
	}

	candles = Normalize(candles)
	if len(candles) == 0 {
		return nil, errs.DataUnavailable("fetch history", errors.New("no usable rows")).
			WithProvider(a.Name()).WithSymbol(symbol)
	}
	return candles, nil
}

func field(m map[string]string, key string) float64 {
	v, _ := util.ParseFloat(m[key])
	return v
}

// FetchQuote uses GLOBAL_QUOTE. An empty quote object means no snapshot.
func (a *AlphaVantage) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	body, err := a.query(ctx, "fetch quote", symbol, map[string]string{"function": "GLOBAL_QUOTE"})
	if err != nil {
		return nil, err
	}
	raw, ok := body["Global Quote"]
	if !ok {
		return nil, nil
	}
	var gq map[string]string
	if err := json.Unmarshal(raw, &gq); err != nil {
		return nil, errs.Transient("fetch quote", err).WithProvider(a.Name()).WithSymbol(symbol)
	}
	price := field(gq, "05. price")
	if price <= 0 {
		return nil, nil
	}

	q := &models.Quote{
		Symbol:    models.NormalizeTicker(symbol),
		Price:     price,
		PrevClose: field(gq, "08. previous close"),
		Volume:    field(gq, "06. volume"),
		Provider:  a.Name(),
		Timestamp: a.now().UTC(),
	}
	if ts, ok := util.ParseTime(strings.TrimSpace(gq["07. latest trading day"])); ok {
		q.Timestamp = ts
	}
	return q, nil
}
