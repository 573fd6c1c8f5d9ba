package models

import "time"

type RegimeLabel string

const (
	RegimeCalm    RegimeLabel = "CALM"
	RegimeNormal  RegimeLabel = "NORMAL"
	RegimeHighVol RegimeLabel = "HIGH_VOL"
	RegimeUnknown RegimeLabel = "UNKNOWN"
)

// Severity maps a label onto [0,1] for crash-risk composition.
func (l RegimeLabel) Severity() (float64, bool) {
	switch l {
	case RegimeCalm:
		return 0.1, true
	case RegimeNormal:
		return 0.4, true
	case RegimeHighVol:
		return 0.9, true
	default:
		return 0, false
	}
}

// RegimeState is computed once per run and shared read-only.
type RegimeState struct {
	Label          RegimeLabel `json:"label"`
	Vol1D          float64     `json:"vol_1d"`
	VolAnnual      float64     `json:"vol_annual"`
	CrashRisk      *float64    `json:"crash_risk"` // nil = unknown
	ClassifyMethod string      `json:"classify_method"`
	VolMethod      string      `json:"vol_method"`
	RiskIndex      *float64    `json:"risk_index,omitempty"`
	Degraded       bool        `json:"degraded"`
	ComputedAt     time.Time   `json:"computed_at"`
}

// UnknownRegime is the state reported when every method failed.
func UnknownRegime(at time.Time) RegimeState {
	return RegimeState{Label: RegimeUnknown, ClassifyMethod: "none", VolMethod: "none", Degraded: true, ComputedAt: at}
}

// CrashRiskOr returns the crash risk, or def when unknown.
func (r RegimeState) CrashRiskOr(def float64) float64 {
	if r.CrashRisk == nil {
		return def
	}
	return *r.CrashRisk
}
