// Package provider holds the market-data source adapters used by the gateway.
package provider

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sort"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	xhttp "NightScan/pkg/http"
)

const (
	NamePrimary   = "primary"
	NameSecondary = "secondary"
)

// Pacer gates each outbound request. The gateway's throttle implements it.
type Pacer interface {
	Wait(ctx context.Context, provider string) error
}

type noPacer struct{}

func (noPacer) Wait(ctx context.Context, _ string) error { return ctx.Err() }

// Option configures a provider.
type Option func(*options)

type options struct {
	name    string
	baseURL string
	apiKey  string
	client  *xhttp.Client
	pacer   Pacer
}

func WithName(name string) Option { return func(o *options) { o.name = name } }

func WithBaseURL(u string) Option { return func(o *options) { o.baseURL = u } }

func WithAPIKey(key string) Option { return func(o *options) { o.apiKey = key } }

func WithClient(c *xhttp.Client) Option { return func(o *options) { o.client = c } }

// WithPacer paces the per-symbol requests a batch issues.
func WithPacer(p Pacer) Option { return func(o *options) { o.pacer = p } }

func buildOptions(name, baseURL string, opts []Option) options {
	o := options{name: name, baseURL: baseURL, pacer: noPacer{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = xhttp.NewClient()
	}
	return o
}

// classify maps a transport failure onto the error taxonomy.
func classify(op, provider, symbol string, err error) error {
	if err == nil {
		return nil
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}

	var wrapped *errs.Error
	switch code := xhttp.StatusCode(err); {
	case code == http.StatusTooManyRequests:
		wrapped = errs.RateLimited(op, err)
	case code == http.StatusNotFound:
		wrapped = errs.DataUnavailable(op, err)
	case code >= 500 || code == http.StatusRequestTimeout:
		wrapped = errs.Transient(op, err)
	case code >= 400:
		wrapped = errs.DataUnavailable(op, err)
	default:
		// timeouts, connection resets and malformed payloads
		wrapped = errs.Transient(op, err)
	}
	return wrapped.WithProvider(provider).WithSymbol(symbol)
}

// Normalize sorts candles ascending, removes duplicate timestamps (the last
// one wins) and drops rows without a positive finite close.
func Normalize(candles []models.Candle) []models.Candle {
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Bucket.IsZero() || !(c.Close > 0) || math.IsInf(c.Close, 0) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })

	dedup := out[:0]
	for _, c := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Bucket.Equal(c.Bucket) {
			dedup[n-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup
}
