package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"NightScan/internal/domain/errs"
	domsvc "NightScan/internal/domain/service"
)

const MethodModel = "model"

// HTTPClassifier scores texts with the external sentiment model.
type HTTPClassifier struct{ base *HTTPServiceBase }

func NewHTTPClassifier(baseURL string, timeout time.Duration, opts ...BaseOption) *HTTPClassifier {
	return &HTTPClassifier{base: NewHTTPServiceBase(baseURL, timeout, opts...)}
}

func (c *HTTPClassifier) Name() string { return MethodModel }

// Configured reports whether the classifier has a service to call.
func (c *HTTPClassifier) Configured() bool { return c.base.Configured() }

type classifyRequest struct {
	Texts []string `json:"texts"`
}

type classifyResponse struct {
	Polarities []float64 `json:"polarities"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var cr classifyResponse
	if err := c.base.PostJSONWithRetry(ctx, "/sentiment/classify", classifyRequest{Texts: texts}, &cr); err != nil {
		return nil, err
	}
	if len(cr.Polarities) != len(texts) {
		return nil, errs.ModelUnavailable("classify", fmt.Errorf("got %d polarities for %d texts", len(cr.Polarities), len(texts)))
	}
	out := make([]float64, len(texts))
	for i, p := range cr.Polarities {
		if math.IsNaN(p) {
			p = 0
		}
		out[i] = math.Max(-1, math.Min(1, p))
	}
	return out, nil
}

var _ domsvc.TextClassifier = (*HTTPClassifier)(nil)
