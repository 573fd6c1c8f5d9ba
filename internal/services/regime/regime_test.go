package regime

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
	domsvc "NightScan/internal/domain/service"
	"NightScan/internal/services/features"
	"NightScan/pkg/config"
)

type fakeData struct {
	series  models.HistoricalSeries
	err     error
	quote   *models.Quote
	symbols []string
}

func (f *fakeData) FetchHistory(_ context.Context, symbol string, _ repository.HistoryParams) (models.HistoricalSeries, models.SourceTag, error) {
	f.symbols = append(f.symbols, symbol)
	if f.err != nil {
		return models.HistoricalSeries{Symbol: symbol}, models.SourceNone, f.err
	}
	return f.series, models.SourcePrimary, nil
}

func (f *fakeData) FetchQuote(_ context.Context, symbol string) (*models.Quote, error) {
	if f.quote == nil {
		return nil, errs.DataUnavailable("fake", errors.New("no quote")).WithSymbol(symbol)
	}
	return f.quote, nil
}

func (f *fakeData) FetchBatch(context.Context, []string, repository.HistoryParams) map[string]domsvc.BatchItem {
	return nil
}

func (f *fakeData) CallsUsed() map[string]int64 { return nil }

// regimeSeries builds closes from three consecutive volatility regimes,
// ending in the most volatile one.
func regimeSeries(seed int64) models.HistoricalSeries {
	rng := rand.New(rand.NewSource(seed))
	vols := []float64{0.004, 0.01, 0.03}
	t0 := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	price := 100.0
	var candles []models.Candle
	for _, v := range vols {
		for i := 0; i < 150; i++ {
			price *= math.Exp(rng.NormFloat64() * v)
			candles = append(candles, models.Candle{
				Bucket: t0.AddDate(0, 0, len(candles)),
				Close:  price,
				Volume: 1e6,
			})
		}
	}
	return models.HistoricalSeries{Symbol: "SPY", Candles: candles}
}

func featureRows(series models.HistoricalSeries, window int) ([][2]float64, []float64) {
	returns := features.ComputeLogReturns(series.Candles)
	rolling := features.RollingVolatility(returns, window)
	rows := make([][2]float64, len(rolling))
	for j, v := range rolling {
		rows[j] = [2]float64{returns[j+window-1], v}
	}
	return rows, returns
}

func regimeConfig(primary bool) config.RegimeConfig {
	return config.RegimeConfig{
		ReferenceSymbol: "SPY",
		RiskIndexSymbol: "^VIX",
		Lookback:        "2y",
		PrimaryModel:    primary,
		VolWindow:       10,
		MaxIterations:   200,
	}
}

type failingClassifier struct{}

func (failingClassifier) Name() string { return "broken" }

func (failingClassifier) Classify([][2]float64) (models.RegimeLabel, error) {
	return models.RegimeUnknown, ErrNotConverged
}

func TestHMM_LabelsHighVolatilityTail(t *testing.T) {
	rows, _ := featureRows(regimeSeries(7), 10)

	label, err := NewHMM(200).Classify(rows)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeHighVol, label)
}

func TestHMM_TooShort(t *testing.T) {
	_, err := NewHMM(10).Classify(make([][2]float64, 5))
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestGMM_LabelsHighVolatilityTail(t *testing.T) {
	rows, _ := featureRows(regimeSeries(11), 10)

	label, err := NewGMM(200).Classify(rows)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeHighVol, label)
}

func TestGMM_ConstantInputIsFinite(t *testing.T) {
	rows := make([][2]float64, 40)
	label, err := NewGMM(50).Classify(rows)
	require.NoError(t, err)
	assert.Contains(t, []models.RegimeLabel{models.RegimeCalm, models.RegimeNormal, models.RegimeHighVol}, label)
}

func TestEWMA_Forecast(t *testing.T) {
	vol, err := NewEWMA(0.94).Forecast([]float64{0.01, -0.01, 0.01, -0.01})
	require.NoError(t, err)
	assert.InDelta(t, 0.01, vol, 1e-9)

	vol, err = NewEWMA(0).Forecast(make([]float64, 30))
	require.NoError(t, err)
	assert.Zero(t, vol)

	_, err = NewEWMA(0.94).Forecast([]float64{0.01})
	assert.Error(t, err)
}

func TestGARCH_Forecast(t *testing.T) {
	_, returns := featureRows(regimeSeries(3), 10)

	vol, err := NewGARCH(0).Forecast(returns)
	require.NoError(t, err)
	assert.Greater(t, vol, 0.0)
	assert.Less(t, vol, 0.5)

	_, err = NewGARCH(0).Forecast(returns[:10])
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = NewGARCH(0).Forecast(make([]float64, 80))
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestEngine_PrimaryDisabledUsesGMM(t *testing.T) {
	data := &fakeData{series: regimeSeries(11)}
	e := NewEngine(data, regimeConfig(false))

	state := e.Classify(context.Background())
	assert.Equal(t, MethodGMM, state.ClassifyMethod)
	assert.Equal(t, models.RegimeHighVol, state.Label)
	assert.Equal(t, []string{"SPY"}, data.symbols)
	require.NotNil(t, state.CrashRisk)
	assert.GreaterOrEqual(t, *state.CrashRisk, 0.0)
	assert.LessOrEqual(t, *state.CrashRisk, 1.0)
	assert.InDelta(t, state.Vol1D*math.Sqrt(252), state.VolAnnual, 1e-12)
	assert.Nil(t, state.RiskIndex)
}

func TestEngine_FallbackClassifierDegrades(t *testing.T) {
	data := &fakeData{series: regimeSeries(11), quote: &models.Quote{Symbol: "^VIX", Price: 40}}
	e := NewEngine(data, regimeConfig(true),
		WithClassifiers(failingClassifier{}, NewGMM(200)),
		WithForecasters(NewEWMA(DefaultLambda)),
	)

	state := e.Classify(context.Background())
	assert.Equal(t, MethodGMM, state.ClassifyMethod)
	assert.Equal(t, MethodEWMA, state.VolMethod)
	assert.True(t, state.Degraded)
	require.NotNil(t, state.RiskIndex)
	assert.Equal(t, 40.0, *state.RiskIndex)
	require.NotNil(t, state.CrashRisk)
}

func TestEngine_UnknownWhenReferenceMissing(t *testing.T) {
	data := &fakeData{err: errs.DataUnavailable("fake", errors.New("down"))}
	now := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	e := NewEngine(data, regimeConfig(true), WithClock(func() time.Time { return now }))

	state := e.Classify(context.Background())
	assert.Equal(t, models.RegimeUnknown, state.Label)
	assert.Nil(t, state.CrashRisk)
	assert.True(t, state.Degraded)
	assert.Equal(t, now, state.ComputedAt)
}

func TestEngine_AllModelsFail(t *testing.T) {
	data := &fakeData{series: regimeSeries(5)}
	e := NewEngine(data, regimeConfig(true),
		WithClassifiers(failingClassifier{}),
		WithForecasters(),
	)

	state := e.Classify(context.Background())
	assert.Equal(t, models.RegimeUnknown, state.Label)
	assert.Nil(t, state.CrashRisk)
	assert.True(t, state.Degraded)
}

func TestCrashRisk(t *testing.T) {
	assert.Nil(t, crashRisk(models.RegimeUnknown, 0, 0, nil))

	only := crashRisk(models.RegimeHighVol, 0, 0, nil)
	require.NotNil(t, only)
	assert.InDelta(t, 0.9, *only, 1e-12)

	vix := 60.0
	full := crashRisk(models.RegimeHighVol, 0.05, 0.01, &vix)
	require.NotNil(t, full)
	assert.InDelta(t, 0.4*0.9+0.35+0.25, *full, 1e-12)

	low := 5.0
	calm := crashRisk(models.RegimeCalm, 0.005, 0.01, &low)
	require.NotNil(t, calm)
	assert.InDelta(t, 0.04, *calm, 1e-12)
}
