package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"NightScan/internal/domain/models"
	domrepo "NightScan/internal/domain/repository"
)

// ErrNoRuns is returned when the archive holds no finished run yet.
var ErrNoRuns = errors.New("no pipeline run archived yet")

const (
	defaultScoresLimit = 50
	maxScoresLimit     = 500
)

// RunsUseCase serves archived runs to the read API.
type RunsUseCase struct {
	store domrepo.RunStore
}

func NewRunsUseCase(store domrepo.RunStore) *RunsUseCase {
	return &RunsUseCase{store: store}
}

type GetScoresParams struct {
	Tier      string
	Direction string
	Sector    string
	Limit     int
}

type GetScoresResult struct {
	RunID    string                    `json:"run_id"`
	Regime   models.RegimeLabel        `json:"regime"`
	Coverage string                    `json:"coverage"`
	Count    int                       `json:"count"`
	Scores   []models.OpportunityScore `json:"scores"`
}

func (uc *RunsUseCase) LatestRun(ctx context.Context) (*models.PipelineRun, error) {
	run, err := uc.store.LatestRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	if run == nil {
		return nil, ErrNoRuns
	}
	return run, nil
}

// GetScores filters the latest ranking. Rank order is preserved.
func (uc *RunsUseCase) GetScores(ctx context.Context, p GetScoresParams) (*GetScoresResult, error) {
	if p.Limit <= 0 {
		p.Limit = defaultScoresLimit
	}
	if p.Limit > maxScoresLimit {
		p.Limit = maxScoresLimit
	}

	run, err := uc.LatestRun(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.OpportunityScore, 0, min(p.Limit, len(run.Ranked)))
	for _, s := range run.Ranked {
		if p.Tier != "" && !strings.EqualFold(string(s.Tier), p.Tier) {
			continue
		}
		if p.Direction != "" && !strings.EqualFold(string(s.Direction), p.Direction) {
			continue
		}
		if p.Sector != "" && !strings.EqualFold(s.Sector, p.Sector) {
			continue
		}
		out = append(out, s)
		if len(out) == p.Limit {
			break
		}
	}

	return &GetScoresResult{
		RunID:    run.ID,
		Regime:   run.Regime.Label,
		Coverage: run.Coverage,
		Count:    len(out),
		Scores:   out,
	}, nil
}
