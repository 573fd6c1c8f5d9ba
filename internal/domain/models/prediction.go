package models

type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionHold Direction = "HOLD"
	DirectionSell Direction = "SELL"
)

// Sign returns +1 for BUY, -1 for SELL and 0 for HOLD.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionBuy:
		return 1
	case DirectionSell:
		return -1
	default:
		return 0
	}
}

// SignalContribution records how one signal fed the ensemble.
type SignalContribution struct {
	Name       string  `json:"name"`
	Lean       float64 `json:"lean"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
}

// PredictionResult is the combined ensemble outcome for one symbol.
type PredictionResult struct {
	Symbol         string               `json:"symbol"`
	PriceChangePct float64              `json:"price_change_pct"`
	Direction      Direction            `json:"direction"`
	Confidence     float64              `json:"confidence"`
	Score          float64              `json:"score"`
	Contributions  []SignalContribution `json:"contributions"`
}

// Contribution returns the named contribution, if the signal was used.
func (p PredictionResult) Contribution(name string) (SignalContribution, bool) {
	for _, c := range p.Contributions {
		if c.Name == name {
			return c, true
		}
	}
	return SignalContribution{}, false
}

// SequenceForecast is the output of the external sequence model.
type SequenceForecast struct {
	Available      bool    `json:"available"`
	PriceChangePct float64 `json:"price_change_pct"`
	Confidence     float64 `json:"confidence"`
}
