package gateway

import (
	"time"

	"NightScan/internal/domain/repository"
	"NightScan/internal/service/retry"
	"NightScan/pkg/cache"
	"NightScan/pkg/logger"
)

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache enables the history cache. A zero ttl uses four hours.
func WithCache(c cache.Service, ttl time.Duration) Option {
	return func(g *Gateway) {
		g.cache = c
		if ttl > 0 {
			g.cacheTTL = ttl
		}
	}
}

func WithRetry(p retry.Policy) Option {
	return func(g *Gateway) { g.retry = p }
}

// WithBreaker sets how many consecutive failures open a provider's breaker
// and how long it stays open.
func WithBreaker(consecutiveFailures uint32, openTimeout time.Duration) Option {
	return func(g *Gateway) {
		g.tripAfter = consecutiveFailures
		g.openTimeout = openTimeout
	}
}

func WithBatchSampleSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.sampleSize = n
		}
	}
}

// WithCallTimeout bounds a single call to the named provider.
func WithCallTimeout(provider string, d time.Duration) Option {
	return func(g *Gateway) { g.callTimeouts[provider] = d }
}

func WithMetrics(m repository.Metrics) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}
