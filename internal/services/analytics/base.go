package analytics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"NightScan/internal/domain/errs"
	"NightScan/internal/service/metrics"
	"NightScan/internal/service/retry"
	xhttp "NightScan/pkg/http"
)

// HTTPServiceBase is the shared foundation for model service clients.
// Every failure it returns is a ModelUnavailable error.
type HTTPServiceBase struct {
	baseURL string
	client  *xhttp.Client
	retry   retry.Policy
}

type BaseOption func(*HTTPServiceBase)

func WithRetry(p retry.Policy) BaseOption {
	return func(b *HTTPServiceBase) { b.retry = p }
}

func WithHTTPClient(c *xhttp.Client) BaseOption {
	return func(b *HTTPServiceBase) { b.client = c }
}

// NewHTTPServiceBase builds a client for baseURL. A zero timeout uses 20s.
func NewHTTPServiceBase(baseURL string, timeout time.Duration, opts ...BaseOption) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	b := &HTTPServiceBase{
		baseURL: baseURL,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
		retry:   retry.Policy{MaxAttempts: 2, Initial: 200 * time.Millisecond, Max: time.Second, Multiplier: 2},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Configured reports whether a service URL was given.
func (b *HTTPServiceBase) Configured() bool { return b != nil && b.baseURL != "" }

// PostJSON posts payload to path once and decodes the JSON reply into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload, dest interface{}) error {
	if !b.Configured() {
		return errs.ModelUnavailable("post "+path, errors.New("model service not configured"))
	}

	start := time.Now()
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.baseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: payload,
	}, dest)
	metrics.ModelLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelErrors.WithLabelValues(path).Inc()
		return classify("post "+path, err)
	}
	return nil
}

// PostJSONWithRetry is PostJSON retried on 5xx and timeouts.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload, dest interface{}) error {
	err := b.retry.Do(ctx, func(ctx context.Context) error {
		return b.PostJSON(ctx, path, payload, dest)
	})
	if err != nil && errs.KindOf(err) != errs.KindModelUnavailable {
		return errs.ModelUnavailable("post "+path, err)
	}
	return err
}

// classify keeps server-side hiccups retryable. Everything else, including
// 404 and refused connections, means the model is not there.
func classify(op string, err error) error {
	code := xhttp.StatusCode(err)
	switch {
	case code >= http.StatusInternalServerError, code == http.StatusRequestTimeout:
		return errs.Transient(op, err)
	default:
		return errs.ModelUnavailable(op, err)
	}
}
