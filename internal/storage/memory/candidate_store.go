// Package memory provides in-memory store implementations, used in tests
// and in runs that do not need persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/storage"
)

// CandidateStore is an in-memory implementation of storage.CandidateStore.
type CandidateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CandidateRecord // keyed by id
}

// NewCandidateStore creates a new in-memory candidate store.
func NewCandidateStore() *CandidateStore {
	return &CandidateStore{
		data: make(map[string]*domain.CandidateRecord),
	}
}

// Insert adds a new candidate record. Returns ErrDuplicateKey if id exists.
func (s *CandidateStore) Insert(_ context.Context, c *domain.CandidateRecord) error {
	if c == nil || c.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.ID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	recordCopy := *c
	s.data[c.ID] = &recordCopy
	return nil
}

// GetByID retrieves a candidate record by its ID. Returns ErrNotFound if not exists.
func (s *CandidateStore) GetByID(_ context.Context, id string) (*domain.CandidateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	recordCopy := *c
	return &recordCopy, nil
}

// GetByBlockRange retrieves records with block numbers within [start, end] (inclusive).
func (s *CandidateStore) GetByBlockRange(_ context.Context, start, end uint64) ([]*domain.CandidateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CandidateRecord
	for _, c := range s.data {
		if c.BlockNumber >= start && c.BlockNumber <= end {
			recordCopy := *c
			result = append(result, &recordCopy)
		}
	}

	sortCandidates(result)
	return result, nil
}

// GetByVenue retrieves all records where the venue appears on either side.
func (s *CandidateStore) GetByVenue(_ context.Context, venue string) ([]*domain.CandidateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CandidateRecord
	for _, c := range s.data {
		if c.BuyVenue == venue || c.SellVenue == venue {
			recordCopy := *c
			result = append(result, &recordCopy)
		}
	}

	sortCandidates(result)
	return result, nil
}

// sortCandidates orders by (block_number, id) ASC for deterministic reads.
func sortCandidates(records []*domain.CandidateRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		return records[i].ID < records[j].ID
	})
}

// Verify interface compliance at compile time.
var _ storage.CandidateStore = (*CandidateStore)(nil)
