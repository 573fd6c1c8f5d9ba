package models

import (
	"maps"
	"time"
)

// Phase statuses.
const (
	PhaseOK       = "ok"
	PhaseDegraded = "degraded"
	PhaseFailed   = "failed"
)

// Phase names in execution order.
const (
	PhaseSentimentRegime = "sentiment_regime"
	PhaseScanValidate    = "scan_validate"
	PhaseEventRisk       = "event_risk"
	PhasePredict         = "predict"
	PhaseScore           = "score"
	PhaseFinalize        = "finalize"
)

type PhaseStatus struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// PipelineRun is the summary of one end-to-end run. Once returned by the
// orchestrator it is a value that nobody mutates.
type PipelineRun struct {
	ID          string             `json:"id"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Phases      []PhaseStatus      `json:"phases"`
	Errors      int                `json:"errors"`
	Warnings    int                `json:"warnings"`
	WarningList []string           `json:"warning_list,omitempty"`
	ErrorDigest map[string]int     `json:"error_digest"`
	CallsUsed   map[string]int64   `json:"calls_used"`
	Regime      RegimeState        `json:"regime"`
	Ranked      []OpportunityScore `json:"ranked"`
	Skipped     map[string]string  `json:"skipped"`
	Coverage    string             `json:"coverage"`
}

// Phase returns the recorded status of the named phase.
func (r PipelineRun) Phase(name string) (PhaseStatus, bool) {
	for _, p := range r.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseStatus{}, false
}

// Clone returns a deep copy so the caller may hand it out freely.
func (r PipelineRun) Clone() PipelineRun {
	out := r
	out.Phases = append([]PhaseStatus(nil), r.Phases...)
	out.WarningList = append([]string(nil), r.WarningList...)
	out.ErrorDigest = maps.Clone(r.ErrorDigest)
	out.CallsUsed = maps.Clone(r.CallsUsed)
	out.Skipped = maps.Clone(r.Skipped)
	out.Ranked = make([]OpportunityScore, len(r.Ranked))
	for i, s := range r.Ranked {
		s.Factors = maps.Clone(s.Factors)
		out.Ranked[i] = s
	}
	return out
}
