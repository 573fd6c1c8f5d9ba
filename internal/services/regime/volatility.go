package regime

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	domsvc "NightScan/internal/domain/service"
)

const (
	MethodGARCH = "garch"
	MethodEWMA  = "ewma"

	// DefaultLambda is the RiskMetrics decay.
	DefaultLambda = 0.94

	minGARCHObs    = 50
	maxPersistence = 0.999
)

// GARCH fits GARCH(1,1) by maximum likelihood and forecasts one step ahead.
type GARCH struct {
	maxIter int
}

func NewGARCH(maxIter int) *GARCH {
	if maxIter <= 0 {
		maxIter = 500
	}
	return &GARCH{maxIter: maxIter}
}

func (g *GARCH) Name() string { return MethodGARCH }

type garchParams struct {
	omega, alpha, beta float64
}

// unpack maps unconstrained optimizer coordinates onto ω>0, α,β≥0, α+β<1.
func unpack(p []float64) garchParams {
	persistence := maxPersistence * logistic(p[1])
	share := logistic(p[2])
	return garchParams{
		omega: math.Exp(p[0]),
		alpha: persistence * share,
		beta:  persistence * (1 - share),
	}
}

func logistic(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

func (g *GARCH) Forecast(returns []float64) (float64, error) {
	if len(returns) < minGARCHObs {
		return 0, fmt.Errorf("garch: %w (%d returns)", ErrTooShort, len(returns))
	}
	mean := stat.Mean(returns, nil)
	r := make([]float64, len(returns))
	for i, v := range returns {
		r[i] = v - mean
	}
	v0 := stat.Variance(r, nil)
	if v0 <= 0 || math.IsNaN(v0) {
		return 0, fmt.Errorf("garch: %w: zero variance", ErrDegenerate)
	}

	nll := func(x []float64) float64 {
		p := unpack(x)
		s2 := v0
		var out float64
		for t := 1; t < len(r); t++ {
			s2 = p.omega + p.alpha*r[t-1]*r[t-1] + p.beta*s2
			if s2 <= 0 || math.IsNaN(s2) || math.IsInf(s2, 0) {
				return math.Inf(1)
			}
			out += math.Log(s2) + r[t]*r[t]/s2
		}
		return 0.5 * out
	}

	init := []float64{math.Log(v0 * 0.05), logit(0.95 / maxPersistence), logit(0.1 / 0.95)}
	res, err := optimize.Minimize(
		optimize.Problem{Func: nll},
		init,
		&optimize.Settings{MajorIterations: g.maxIter},
		&optimize.NelderMead{},
	)
	if res == nil {
		return 0, fmt.Errorf("garch fit: %w", err)
	}
	// A stopped simplex still carries its best point.
	if math.IsInf(res.F, 0) || math.IsNaN(res.F) {
		return 0, fmt.Errorf("garch fit: %w", ErrNotConverged)
	}

	p := unpack(res.X)
	s2 := v0
	for t := 1; t < len(r); t++ {
		s2 = p.omega + p.alpha*r[t-1]*r[t-1] + p.beta*s2
	}
	next := p.omega + p.alpha*r[len(r)-1]*r[len(r)-1] + p.beta*s2
	vol := math.Sqrt(next)
	if math.IsNaN(vol) || math.IsInf(vol, 0) || vol <= 0 {
		return 0, fmt.Errorf("garch forecast: %w", ErrDegenerate)
	}
	return vol, nil
}

// EWMA is the exponentially weighted variance of returns.
type EWMA struct {
	lambda float64
}

func NewEWMA(lambda float64) *EWMA {
	if lambda <= 0 || lambda >= 1 {
		lambda = DefaultLambda
	}
	return &EWMA{lambda: lambda}
}

func (e *EWMA) Name() string { return MethodEWMA }

func (e *EWMA) Forecast(returns []float64) (float64, error) {
	if len(returns) < 2 {
		return 0, errors.New("ewma: need at least two returns")
	}
	s2 := returns[0] * returns[0]
	for _, r := range returns[1:] {
		s2 = e.lambda*s2 + (1-e.lambda)*r*r
	}
	vol := math.Sqrt(s2)
	if math.IsNaN(vol) || math.IsInf(vol, 0) {
		return 0, fmt.Errorf("ewma: %w", ErrDegenerate)
	}
	return vol, nil
}

var (
	_ domsvc.VolatilityForecaster = (*GARCH)(nil)
	_ domsvc.VolatilityForecaster = (*EWMA)(nil)
)
