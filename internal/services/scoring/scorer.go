package scoring

import (
	"math"
	"sort"

	"NightScan/internal/domain/models"
	domsvc "NightScan/internal/domain/service"
	"NightScan/internal/services/features"
	"NightScan/internal/services/prediction"
	"NightScan/pkg/config"
)

// Factor names as they appear in OpportunityScore.Factors.
const (
	FactorConfidence   = "confidence"
	FactorTechnical    = "technical"
	FactorRegime       = "regime"
	FactorLiquidity    = "liquidity"
	FactorVolatility   = "volatility"
	FactorSector       = "sector"
	FactorBeta         = "beta"
	FactorCrashHaircut = "crash_haircut"
)

const (
	liquidityBars  = 20
	volatilityBars = 60
)

// Scorer turns predictions into 0-100 opportunity scores.
type Scorer struct {
	cfg config.ScoringConfig
}

func NewScorer(cfg config.ScoringConfig) *Scorer {
	if cfg.VolatilityCap <= 0 {
		cfg.VolatilityCap = 0.6
	}
	if cfg.LiquidityFloor <= 0 {
		cfg.LiquidityFloor = 1e5
	}
	if cfg.LiquidityCeil <= cfg.LiquidityFloor {
		cfg.LiquidityCeil = cfg.LiquidityFloor * 1e5
	}
	return &Scorer{cfg: cfg}
}

func (s *Scorer) Score(p models.PredictionResult, regime models.RegimeState, in domsvc.ScoringInput) models.OpportunityScore {
	sign := p.Direction.Sign()
	annualVol := s.annualVolatility(in.Series)

	factors := map[string]float64{
		FactorConfidence: clip01(p.Confidence),
		FactorTechnical:  technicalStrength(p, sign),
		FactorRegime:     regimeAlignment(p.Direction, regime.Label),
		FactorLiquidity:  s.liquidity(in.Series),
		FactorVolatility: clip01(1 - annualVol/s.cfg.VolatilityCap),
		FactorSector:     clip01(0.5 + 0.5*clip(in.Symbol.SectorWeight, -1, 1)*sign),
		FactorBeta:       betaFactor(in.Symbol.Beta, regime.Label),
	}

	w := s.cfg.Weights
	weighted := w.Confidence*factors[FactorConfidence] +
		w.Technical*factors[FactorTechnical] +
		w.Regime*factors[FactorRegime] +
		w.Liquidity*factors[FactorLiquidity] +
		w.Volatility*factors[FactorVolatility] +
		w.Sector*factors[FactorSector] +
		w.Beta*factors[FactorBeta]
	if sum := w.Sum(); sum > 0 {
		weighted /= sum
	}
	score := 100 * weighted

	var haircut float64
	if p.Direction == models.DirectionBuy {
		haircut = regime.CrashRiskOr(0) * s.cfg.CrashHaircut
	}
	factors[FactorCrashHaircut] = haircut
	score = clip(score-haircut, 0, 100)

	return models.OpportunityScore{
		Symbol:     models.NormalizeTicker(in.Symbol.Ticker),
		Sector:     in.Symbol.Sector,
		Score:      score,
		Tier:       models.TierFor(score),
		Confidence: clip01(p.Confidence),
		Volatility: annualVol,
		Direction:  p.Direction,
		Source:     in.Source,
		Factors:    factors,
	}
}

// Rank orders by score desc, confidence desc, volatility asc, then ticker.
// The input is not modified.
func (s *Scorer) Rank(scores []models.OpportunityScore) []models.OpportunityScore {
	out := make([]models.OpportunityScore, len(scores))
	copy(out, scores)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Score != b.Score:
			return a.Score > b.Score
		case a.Confidence != b.Confidence:
			return a.Confidence > b.Confidence
		case a.Volatility != b.Volatility:
			return a.Volatility < b.Volatility
		default:
			return a.Symbol < b.Symbol
		}
	})
	return out
}

func (s *Scorer) annualVolatility(series models.HistoricalSeries) float64 {
	returns := features.ComputeLogReturns(series.Candles)
	if len(returns) > volatilityBars {
		returns = returns[len(returns)-volatilityBars:]
	}
	return features.DailyVolatility(returns) * math.Sqrt(features.TradingDaysPerYear)
}

// liquidity maps log10 average dollar volume between the floor and ceiling.
func (s *Scorer) liquidity(series models.HistoricalSeries) float64 {
	adv := features.AverageDollarVolume(series.Candles, liquidityBars)
	if adv <= 0 {
		return 0
	}
	lo, hi := math.Log10(s.cfg.LiquidityFloor), math.Log10(s.cfg.LiquidityCeil)
	return clip01((math.Log10(adv) - lo) / (hi - lo))
}

// technicalStrength is how well trend and technical leans agree with the
// direction. HOLD is neutral.
func technicalStrength(p models.PredictionResult, sign float64) float64 {
	if sign == 0 {
		return 0.5
	}
	var sum float64
	var n int
	for _, name := range []string{prediction.SignalTrend, prediction.SignalTechnical} {
		if c, ok := p.Contribution(name); ok {
			sum += c.Lean * sign
			n++
		}
	}
	if n == 0 {
		return 0.5
	}
	return clip01(0.5 + 0.5*sum/float64(n))
}

func regimeAlignment(d models.Direction, label models.RegimeLabel) float64 {
	switch d {
	case models.DirectionBuy:
		switch label {
		case models.RegimeCalm:
			return 1
		case models.RegimeNormal:
			return 0.7
		case models.RegimeHighVol:
			return 0.3
		}
	case models.DirectionSell:
		switch label {
		case models.RegimeCalm:
			return 0.4
		case models.RegimeNormal:
			return 0.6
		case models.RegimeHighVol:
			return 0.9
		}
	}
	return 0.5
}

// betaFactor penalizes distance from market beta, twice as hard in HIGH_VOL.
// A zero beta is treated as unknown.
func betaFactor(beta float64, label models.RegimeLabel) float64 {
	if beta == 0 {
		beta = 1
	}
	k := 0.5
	if label == models.RegimeHighVol {
		k = 1
	}
	return clip01(1 - k*math.Abs(beta-1))
}

func clip01(v float64) float64 { return clip(v, 0, 1) }

func clip(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v):
		return lo
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

var _ domsvc.Scorer = (*Scorer)(nil)
