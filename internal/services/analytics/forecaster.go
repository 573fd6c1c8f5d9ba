package analytics

import (
	"context"
	"errors"
	"math"
	"time"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
)

// HTTPForecaster calls the external sequence model.
type HTTPForecaster struct{ base *HTTPServiceBase }

func NewHTTPForecaster(baseURL string, timeout time.Duration, opts ...BaseOption) *HTTPForecaster {
	return &HTTPForecaster{base: NewHTTPServiceBase(baseURL, timeout, opts...)}
}

type forecastRequest struct {
	Symbol string    `json:"symbol"`
	Closes []float64 `json:"closes"`
}

type forecastResponse struct {
	Available      bool    `json:"available"`
	PriceChangePct float64 `json:"price_change_pct"`
	Confidence     float64 `json:"confidence"`
}

func (f *HTTPForecaster) Forecast(ctx context.Context, symbol string, closes []float64) (models.SequenceForecast, error) {
	var fr forecastResponse
	if err := f.base.PostJSONWithRetry(ctx, "/forecast", forecastRequest{Symbol: symbol, Closes: closes}, &fr); err != nil {
		return models.SequenceForecast{}, withSymbol(err, symbol)
	}
	if !fr.Available {
		return models.SequenceForecast{}, errs.ModelUnavailable("forecast", errors.New("model reported unavailable")).WithSymbol(symbol)
	}
	if math.IsNaN(fr.PriceChangePct) || math.IsInf(fr.PriceChangePct, 0) {
		return models.SequenceForecast{}, errs.ModelUnavailable("forecast", errors.New("non-finite forecast")).WithSymbol(symbol)
	}
	return models.SequenceForecast{
		Available:      true,
		PriceChangePct: fr.PriceChangePct,
		Confidence:     math.Max(0, math.Min(1, fr.Confidence)),
	}, nil
}

func withSymbol(err error, symbol string) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.WithSymbol(symbol)
	}
	return err
}

var _ repository.SequenceForecaster = (*HTTPForecaster)(nil)
