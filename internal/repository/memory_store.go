package repository

import (
	"context"
	"sync"
	"time"

	"FinGuard/internal/domain/models"
	domrepo "FinGuard/internal/domain/repository"
)

// MemoryAnalysisStore keeps the most recent results in process. It backs the
// API when ClickHouse is disabled and is used by tests.
type MemoryAnalysisStore struct {
	mu       sync.RWMutex
	capacity int
	order    []string // oldest first
	byID     map[string]storedResult
	now      func() time.Time
}

type storedResult struct {
	result  models.AnalysisResult
	created time.Time
}

var _ domrepo.AnalysisStore = (*MemoryAnalysisStore)(nil)

// NewMemoryAnalysisStore creates a store holding at most capacity results.
func NewMemoryAnalysisStore(capacity int) *MemoryAnalysisStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryAnalysisStore{
		capacity: capacity,
		byID:     make(map[string]storedResult),
		now:      time.Now,
	}
}

func (s *MemoryAnalysisStore) Save(_ context.Context, r *models.AnalysisResult) error {
	row, err := toRow(r, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[r.ID]; !exists {
		s.order = append(s.order, r.ID)
	}
	s.byID[r.ID] = storedResult{result: *r, created: row.CreatedAt}

	for len(s.order) > s.capacity {
		delete(s.byID, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryAnalysisStore) Get(_ context.Context, id string) (*models.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.byID[id]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	r := stored.result
	return &r, nil
}

// List returns matching results newest first.
func (s *MemoryAnalysisStore) List(_ context.Context, f models.AnalysisFilter) ([]*models.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := limitOrDefault(f.Limit)
	out := make([]*models.AnalysisResult, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		stored := s.byID[s.order[i]]
		if f.Source != "" && stored.result.Source != f.Source {
			continue
		}
		if !f.Since.IsZero() && stored.created.Before(f.Since) {
			continue
		}
		r := stored.result
		out = append(out, &r)
	}
	return out, nil
}

func (s *MemoryAnalysisStore) Health(context.Context) error { return nil }

func (s *MemoryAnalysisStore) Close() error { return nil }
