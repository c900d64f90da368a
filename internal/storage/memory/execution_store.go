package memory

import (
	"context"
	"sort"
	"sync"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/storage"
)

// ExecutionStore is an in-memory implementation of storage.ExecutionStore.
type ExecutionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ExecutionRecord // keyed by id
}

// NewExecutionStore creates a new in-memory execution store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{
		data: make(map[string]*domain.ExecutionRecord),
	}
}

// Insert adds a new execution record. Returns ErrDuplicateKey if id exists.
func (s *ExecutionStore) Insert(_ context.Context, e *domain.ExecutionRecord) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.ID]; exists {
		return storage.ErrDuplicateKey
	}

	recordCopy := *e
	s.data[e.ID] = &recordCopy
	return nil
}

// GetByID retrieves an execution record by its ID. Returns ErrNotFound if not exists.
func (s *ExecutionStore) GetByID(_ context.Context, id string) (*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	recordCopy := *e
	return &recordCopy, nil
}

// GetByCandidateID retrieves all executions for a candidate record.
func (s *ExecutionStore) GetByCandidateID(_ context.Context, candidateID string) ([]*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ExecutionRecord
	for _, e := range s.data {
		if e.CandidateID == candidateID {
			recordCopy := *e
			result = append(result, &recordCopy)
		}
	}

	// Sort by (created_at, id) ASC
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.ExecutionStore = (*ExecutionStore)(nil)
