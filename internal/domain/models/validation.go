package models

// Ineligibility reasons.
const (
	ReasonNone                = ""
	ReasonNoData              = "no_data"
	ReasonInsufficientHistory = "insufficient_history"
	ReasonFilteredByCriteria  = "filtered_by_criteria"
	ReasonDataUnavailable     = "data_unavailable"
)

// ValidationResult is the screening verdict for one symbol.
type ValidationResult struct {
	Symbol   string    `json:"symbol"`
	Eligible bool      `json:"eligible"`
	Reason   string    `json:"reason,omitempty"`
	Rows     int       `json:"rows"`
	Source   SourceTag `json:"source,omitempty"`
}
