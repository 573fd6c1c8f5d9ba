package models

// ScoresRequest filters the latest ranking.
type ScoresRequest struct {
	Tier      string `query:"tier" validate:"omitempty,oneof=high medium low"`
	Direction string `query:"direction" validate:"omitempty,oneofci=buy hold sell"`
	Sector    string `query:"sector" validate:"max=64"`
	Limit     int    `query:"limit" default:"50" validate:"min=1,max=500"`
}

// HealthResponse is served by /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	LastRunID string `json:"last_run_id,omitempty"`
	LastRunAt string `json:"last_run_at,omitempty"`
}
