package regime

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"NightScan/internal/domain/models"
	domsvc "NightScan/internal/domain/service"
)

// GMM is a 3-component Gaussian mixture over the rolling volatility column.
type GMM struct {
	maxIter int
}

func NewGMM(maxIter int) *GMM {
	if maxIter <= 0 {
		maxIter = 200
	}
	return &GMM{maxIter: maxIter}
}

func (g *GMM) Name() string { return MethodGMM }

// Classify runs EM on the volatility feature and labels the last row.
// Hitting the iteration limit keeps the last estimate.
func (g *GMM) Classify(x [][2]float64) (models.RegimeLabel, error) {
	n := len(x)
	if n < numStates {
		return models.RegimeUnknown, ErrTooShort
	}
	v := make([]float64, n)
	for i := range x {
		v[i] = x[i][1]
	}

	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	baseVar := math.Max(stat.Variance(v, nil)/numStates, minVariance)

	var weight, mean, vari [numStates]float64
	for k := 0; k < numStates; k++ {
		weight[k] = 1.0 / numStates
		mean[k] = stat.Quantile((float64(k)+0.5)/numStates, stat.Empirical, sorted, nil)
		vari[k] = baseVar
	}

	resp := make([][numStates]float64, n)
	prev := math.Inf(-1)
	for iter := 0; iter < g.maxIter; iter++ {
		var ll float64
		var lp [numStates]float64
		for i, xi := range v {
			for k := 0; k < numStates; k++ {
				lp[k] = math.Log(weight[k]) + logGauss(xi, mean[k], vari[k])
			}
			norm := logSumExp(lp[:])
			ll += norm
			for k := 0; k < numStates; k++ {
				resp[i][k] = math.Exp(lp[k] - norm)
			}
		}
		if math.IsNaN(ll) {
			return models.RegimeUnknown, ErrDegenerate
		}
		if iter > 0 && math.Abs(ll-prev) < convergeTol*(1+math.Abs(prev)) {
			break
		}
		prev = ll

		for k := 0; k < numStates; k++ {
			var nk, sum float64
			for i := range v {
				nk += resp[i][k]
				sum += resp[i][k] * v[i]
			}
			if nk < 1e-9 {
				continue
			}
			mean[k] = sum / nk
			var sq float64
			for i := range v {
				d := v[i] - mean[k]
				sq += resp[i][k] * d * d
			}
			vari[k] = math.Max(sq/nk, minVariance)
			weight[k] = math.Max(nk/float64(n), 1e-12)
		}
	}

	last := resp[n-1]
	best := 0
	for k := 1; k < numStates; k++ {
		if last[k] > last[best] {
			best = k
		}
	}
	return labelFor(best, mean[:]), nil
}

var _ domsvc.RegimeClassifier = (*GMM)(nil)
