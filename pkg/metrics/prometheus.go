package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	providerCalls *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	cacheHits     *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	symbolsScored prometheus.Gauge
	lastScore     *prometheus.GaugeVec
}

// New creates a recorder registered on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		providerCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nightscan_provider_calls_total",
				Help: "Provider calls by outcome",
			},
			[]string{"provider", "outcome"},
		),
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nightscan_provider_fallbacks_total",
				Help: "Times the gateway moved past a provider",
			},
			[]string{"from", "to"},
		),
		cacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nightscan_cache_hits_total",
				Help: "Cache hits by layer",
			},
			[]string{"layer"},
		),
		phaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nightscan_phase_duration_seconds",
				Help:    "Duration of pipeline phases in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800, 3600},
			},
			[]string{"phase", "status"},
		),
		symbolsScored: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "nightscan_symbols_scored",
				Help: "Symbols scored by the last run",
			},
		),
		lastScore: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nightscan_last_score",
				Help: "Last opportunity score for a symbol",
			},
			[]string{"symbol"},
		),
	}
}

func (r *Recorder) RecordProviderCall(provider, outcome string) {
	r.providerCalls.WithLabelValues(provider, outcome).Inc()
}

func (r *Recorder) RecordFallback(from, to string) {
	r.fallbacks.WithLabelValues(from, to).Inc()
}

func (r *Recorder) RecordCacheHit(layer string) {
	r.cacheHits.WithLabelValues(layer).Inc()
}

// RecordPhase records how long a pipeline phase took.
func (r *Recorder) RecordPhase(phase, status string, seconds float64) {
	r.phaseDuration.WithLabelValues(phase, status).Observe(seconds)
}

func (r *Recorder) RecordSymbolsScored(n int) {
	r.symbolsScored.Set(float64(n))
}

func (r *Recorder) RecordScore(symbol string, score float64) {
	r.lastScore.WithLabelValues(symbol).Set(score)
}
