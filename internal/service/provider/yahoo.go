package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
	xhttp "NightScan/pkg/http"
)

const defaultYahooURL = "https://query1.finance.yahoo.com"

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol              string   `json:"symbol"`
		RegularMarketPrice  *float64 `json:"regularMarketPrice"`
		ChartPreviousClose  *float64 `json:"chartPreviousClose"`
		PreviousClose       *float64 `json:"previousClose"`
		RegularMarketTime   int64    `json:"regularMarketTime"`
		RegularMarketVolume *float64 `json:"regularMarketVolume"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// Yahoo reads the chart API: parallel timestamp and OHLCV arrays where any
// element may be null.
type Yahoo struct {
	opts options
}

var (
	_ repository.HistoryProvider = (*Yahoo)(nil)
	_ repository.QuoteProvider   = (*Yahoo)(nil)
	_ repository.BatchProvider   = (*Yahoo)(nil)
)

func NewYahoo(opts ...Option) *Yahoo {
	return &Yahoo{opts: buildOptions(NamePrimary, defaultYahooURL, opts)}
}

func (y *Yahoo) Name() string { return y.opts.name }

func (y *Yahoo) chart(ctx context.Context, op, symbol, rng, interval string) (*chartResult, error) {
	var resp chartResponse
	err := y.opts.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    y.opts.baseURL + "/v8/finance/chart/" + url.PathEscape(symbol),
		QueryParams: map[string][]string{
			"range":    {rng},
			"interval": {interval},
		},
		Headers: map[string]string{"Accept": "application/json"},
	}, &resp)
	if err != nil {
		return nil, classify(op, y.Name(), symbol, err)
	}

	if e := resp.Chart.Error; e != nil {
		return nil, errs.DataUnavailable(op, fmt.Errorf("%s: %s", e.Code, e.Description)).
			WithProvider(y.Name()).WithSymbol(symbol)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, errs.DataUnavailable(op, errors.New("empty result")).WithProvider(y.Name()).WithSymbol(symbol)
	}
	return &resp.Chart.Result[0], nil
}

func (y *Yahoo) FetchHistory(ctx context.Context, symbol string, params repository.HistoryParams) ([]models.Candle, error) {
	params = params.Normalize()
	res, err := y.chart(ctx, "fetch history", symbol, params.Period, string(params.Interval))
	if err != nil {
		return nil, err
	}

	candles := Normalize(res.candles())
	if len(candles) == 0 {
		return nil, errs.DataUnavailable("fetch history", errors.New("no usable rows")).
			WithProvider(y.Name()).WithSymbol(symbol)
	}
	return candles, nil
}

func (r *chartResult) candles() []models.Candle {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]
	out := make([]models.Candle, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		c := models.Candle{
			Bucket: time.Unix(ts, 0).UTC(),
			Open:   at(q.Open, i),
			High:   at(q.High, i),
			Low:    at(q.Low, i),
			Close:  at(q.Close, i),
			Volume: at(q.Volume, i),
		}
		out = append(out, c)
	}
	return out
}

func at(xs []*float64, i int) float64 {
	if i >= len(xs) || xs[i] == nil {
		return 0
	}
	return *xs[i]
}

// FetchQuote returns the latest regular-market snapshot, or nil when the
// chart carries no price.
func (y *Yahoo) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	res, err := y.chart(ctx, "fetch quote", symbol, "5d", "1d")
	if err != nil {
		return nil, err
	}
	m := res.Meta
	if m.RegularMarketPrice == nil || *m.RegularMarketPrice <= 0 {
		return nil, nil
	}

	q := &models.Quote{
		Symbol:    models.NormalizeTicker(symbol),
		Price:     *m.RegularMarketPrice,
		Timestamp: time.Unix(m.RegularMarketTime, 0).UTC(),
		Provider:  y.Name(),
	}
	switch {
	case m.PreviousClose != nil:
		q.PrevClose = *m.PreviousClose
	case m.ChartPreviousClose != nil:
		q.PrevClose = *m.ChartPreviousClose
	}
	if m.RegularMarketVolume != nil {
		q.Volume = *m.RegularMarketVolume
	}
	return q, nil
}

// FetchBatch fetches symbols one by one under the pacer. Symbols that fail
// are left out. A rate limit stops the batch and is returned together with
// whatever was fetched so far.
func (y *Yahoo) FetchBatch(ctx context.Context, symbols []string, params repository.HistoryParams) (map[string][]models.Candle, error) {
	out := make(map[string][]models.Candle, len(symbols))
	for _, s := range symbols {
		if err := y.opts.pacer.Wait(ctx, y.Name()); err != nil {
			if errs.Is(err, errs.KindRateLimited) {
				return out, err
			}
			return out, errs.Transient("fetch batch", err).WithProvider(y.Name())
		}
		candles, err := y.FetchHistory(ctx, s, params)
		switch {
		case err == nil:
			out[s] = candles
		case errs.Is(err, errs.KindRateLimited):
			return out, err
		}
	}
	return out, nil
}
