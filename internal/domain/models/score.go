package models

type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// TierFor maps a [0,100] score onto a priority tier.
func TierFor(score float64) Tier {
	switch {
	case score >= 80:
		return TierHigh
	case score >= 65:
		return TierMedium
	default:
		return TierLow
	}
}

// OpportunityScore is the ranked output for one symbol.
type OpportunityScore struct {
	Symbol     string             `json:"symbol"`
	Sector     string             `json:"sector"`
	Score      float64            `json:"score"`
	Tier       Tier               `json:"tier"`
	Confidence float64            `json:"confidence"`
	Volatility float64            `json:"volatility"`
	Direction  Direction          `json:"direction"`
	Source     SourceTag          `json:"source_used"`
	Factors    map[string]float64 `json:"factors"`
}
