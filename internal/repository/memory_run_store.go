package repository

import (
	"context"
	"sync"

	"NightScan/internal/domain/models"
	domrepo "NightScan/internal/domain/repository"
)

// MemoryRunStore keeps the last few runs in process. Used when the
// ClickHouse archive is disabled.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs []models.PipelineRun
	keep int
}

var _ domrepo.RunStore = (*MemoryRunStore)(nil)

func NewMemoryRunStore(keep int) *MemoryRunStore {
	if keep <= 0 {
		keep = 10
	}
	return &MemoryRunStore{keep: keep}
}

func (s *MemoryRunStore) SaveRun(_ context.Context, run models.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run.Clone())
	if len(s.runs) > s.keep {
		s.runs = append([]models.PipelineRun(nil), s.runs[len(s.runs)-s.keep:]...)
	}
	return nil
}

func (s *MemoryRunStore) LatestRun(_ context.Context) (*models.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runs) == 0 {
		return nil, nil
	}
	run := s.runs[len(s.runs)-1].Clone()
	return &run, nil
}

// Len reports how many runs are held.
func (s *MemoryRunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
