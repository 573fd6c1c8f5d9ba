package regime

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"NightScan/internal/domain/models"
	domsvc "NightScan/internal/domain/service"
)

const (
	MethodHMM = "hmm"
	MethodGMM = "gmm"

	numStates    = 3
	minVariance  = 1e-12
	convergeTol  = 1e-6
	minObsPerFit = 30
)

var (
	ErrNotConverged = errors.New("regime: model did not converge")
	ErrDegenerate   = errors.New("regime: degenerate model")
	ErrTooShort     = errors.New("regime: not enough observations")
)

// labels are assigned to states sorted by increasing mean volatility.
var labels = [numStates]models.RegimeLabel{models.RegimeCalm, models.RegimeNormal, models.RegimeHighVol}

// HMM is a 3-state Gaussian hidden Markov model with diagonal covariance,
// fit by Baum-Welch in log space.
type HMM struct {
	maxIter int
}

func NewHMM(maxIter int) *HMM {
	if maxIter <= 0 {
		maxIter = 200
	}
	return &HMM{maxIter: maxIter}
}

func (h *HMM) Name() string { return MethodHMM }

type hmmParams struct {
	logPi [numStates]float64
	logA  [numStates][numStates]float64
	mean  [numStates][2]float64
	vari  [numStates][2]float64
}

// Classify fits the model to x and labels the filtered state of the last row.
func (h *HMM) Classify(x [][2]float64) (models.RegimeLabel, error) {
	T := len(x)
	if T < minObsPerFit {
		return models.RegimeUnknown, ErrTooShort
	}

	p := initHMM(x)
	logB := make([][numStates]float64, T)
	alpha := make([][numStates]float64, T)
	beta := make([][numStates]float64, T)

	prev := math.Inf(-1)
	converged := false
	for iter := 0; iter < h.maxIter; iter++ {
		for t := range x {
			for k := 0; k < numStates; k++ {
				logB[t][k] = logGauss2(x[t], p.mean[k], p.vari[k])
			}
		}
		ll := forward(p, logB, alpha)
		if math.IsNaN(ll) || math.IsInf(ll, 0) {
			return models.RegimeUnknown, fmt.Errorf("%w: log-likelihood %v", ErrDegenerate, ll)
		}
		if iter > 0 && math.Abs(ll-prev) < convergeTol*(1+math.Abs(prev)) {
			converged = true
			break
		}
		prev = ll
		backward(p, logB, beta)
		if err := p.reestimate(x, logB, alpha, beta, ll); err != nil {
			return models.RegimeUnknown, err
		}
	}
	if !converged {
		return models.RegimeUnknown, fmt.Errorf("%w after %d iterations", ErrNotConverged, h.maxIter)
	}

	last := alpha[T-1]
	best := 0
	for k := 1; k < numStates; k++ {
		if last[k] > last[best] {
			best = k
		}
	}

	vols := make([]float64, numStates)
	for k := range vols {
		vols[k] = p.mean[k][1]
	}
	return labelFor(best, vols), nil
}

// initHMM seeds states from volatility terciles.
func initHMM(x [][2]float64) hmmParams {
	var p hmmParams
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]][1] < x[idx[b]][1] })

	chunk := len(x) / numStates
	for k := 0; k < numStates; k++ {
		lo, hi := k*chunk, (k+1)*chunk
		if k == numStates-1 {
			hi = len(x)
		}
		for d := 0; d < 2; d++ {
			var sum, sq float64
			for _, i := range idx[lo:hi] {
				sum += x[i][d]
			}
			m := sum / float64(hi-lo)
			for _, i := range idx[lo:hi] {
				sq += (x[i][d] - m) * (x[i][d] - m)
			}
			p.mean[k][d] = m
			p.vari[k][d] = math.Max(sq/float64(hi-lo), minVariance)
		}
		p.logPi[k] = -math.Log(numStates)
		for j := 0; j < numStates; j++ {
			if j == k {
				p.logA[k][j] = math.Log(0.9)
			} else {
				p.logA[k][j] = math.Log(0.1 / (numStates - 1))
			}
		}
	}
	return p
}

func forward(p hmmParams, logB, alpha [][numStates]float64) float64 {
	for k := 0; k < numStates; k++ {
		alpha[0][k] = p.logPi[k] + logB[0][k]
	}
	var tmp [numStates]float64
	for t := 1; t < len(logB); t++ {
		for j := 0; j < numStates; j++ {
			for i := 0; i < numStates; i++ {
				tmp[i] = alpha[t-1][i] + p.logA[i][j]
			}
			alpha[t][j] = logSumExp(tmp[:]) + logB[t][j]
		}
	}
	return logSumExp(alpha[len(logB)-1][:])
}

func backward(p hmmParams, logB, beta [][numStates]float64) {
	T := len(logB)
	for k := 0; k < numStates; k++ {
		beta[T-1][k] = 0
	}
	var tmp [numStates]float64
	for t := T - 2; t >= 0; t-- {
		for i := 0; i < numStates; i++ {
			for j := 0; j < numStates; j++ {
				tmp[j] = p.logA[i][j] + logB[t+1][j] + beta[t+1][j]
			}
			beta[t][i] = logSumExp(tmp[:])
		}
	}
}

func (p *hmmParams) reestimate(x [][2]float64, logB, alpha, beta [][numStates]float64, ll float64) error {
	T := len(x)
	var occ [numStates]float64
	var trans [numStates][numStates]float64
	var sum, sq [numStates][2]float64

	for t := 0; t < T; t++ {
		for k := 0; k < numStates; k++ {
			g := math.Exp(alpha[t][k] + beta[t][k] - ll)
			if t == 0 {
				p.logPi[k] = math.Log(math.Max(g, 1e-300))
			}
			occ[k] += g
			for d := 0; d < 2; d++ {
				sum[k][d] += g * x[t][d]
				sq[k][d] += g * x[t][d] * x[t][d]
			}
			if t < T-1 {
				for j := 0; j < numStates; j++ {
					trans[k][j] += math.Exp(alpha[t][k] + p.logA[k][j] + logB[t+1][j] + beta[t+1][j] - ll)
				}
			}
		}
	}

	for k := 0; k < numStates; k++ {
		if occ[k] < 1 {
			return fmt.Errorf("%w: state %d has no support", ErrDegenerate, k)
		}
		var out float64
		for j := 0; j < numStates; j++ {
			out += trans[k][j]
		}
		for j := 0; j < numStates; j++ {
			p.logA[k][j] = math.Log(math.Max(trans[k][j]/out, 1e-300))
		}
		for d := 0; d < 2; d++ {
			m := sum[k][d] / occ[k]
			p.mean[k][d] = m
			p.vari[k][d] = math.Max(sq[k][d]/occ[k]-m*m, minVariance)
		}
	}
	return nil
}

func logGauss2(x, mean, vari [2]float64) float64 {
	var out float64
	for d := 0; d < 2; d++ {
		out += logGauss(x[d], mean[d], vari[d])
	}
	return out
}

func logGauss(x, mean, vari float64) float64 {
	diff := x - mean
	return -0.5 * (math.Log(2*math.Pi*vari) + diff*diff/vari)
}

func logSumExp(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		if x > m {
			m = x
		}
	}
	if math.IsInf(m, -1) {
		return m
	}
	var s float64
	for _, x := range v {
		s += math.Exp(x - m)
	}
	return m + math.Log(s)
}

// labelFor maps state to a label by its rank among the state volatilities.
func labelFor(state int, vols []float64) models.RegimeLabel {
	rank := 0
	for k, v := range vols {
		if v < vols[state] || (v == vols[state] && k < state) {
			rank++
		}
	}
	return labels[rank]
}

var _ domsvc.RegimeClassifier = (*HMM)(nil)
