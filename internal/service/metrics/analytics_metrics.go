package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ModelLatency tracks calls to the external model services.
	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nightscan",
			Subsystem: "models",
			Name:      "latency_seconds",
			Help:      "Latency of model service endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ModelErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nightscan",
			Subsystem: "models",
			Name:      "errors_total",
			Help:      "Errors by model service endpoint",
		},
		[]string{"endpoint"},
	)

	// FeedFetches counts news feed requests by outcome.
	FeedFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nightscan",
			Subsystem: "sentiment",
			Name:      "feed_fetches_total",
			Help:      "News feed fetches by source kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// Register adds the collectors to reg once.
func Register(reg prometheus.Registerer) {
	once.Do(func() {
		reg.MustRegister(ModelLatency, ModelErrors, FeedFetches)
	})
}
