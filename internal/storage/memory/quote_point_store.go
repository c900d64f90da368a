package memory

import (
	"context"
	"sort"
	"sync"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/storage"
)

// quoteKey is the uniqueness key for quote points.
type quoteKey struct {
	venue string
	block uint64
}

// QuotePointStore is an in-memory implementation of storage.QuotePointStore.
type QuotePointStore struct {
	mu   sync.RWMutex
	data map[quoteKey]*domain.QuotePoint
}

// NewQuotePointStore creates a new in-memory quote point store.
func NewQuotePointStore() *QuotePointStore {
	return &QuotePointStore{
		data: make(map[quoteKey]*domain.QuotePoint),
	}
}

// InsertBulk adds multiple points. Fails entire batch on duplicate (venue, block_number).
func (s *QuotePointStore) InsertBulk(_ context.Context, points []*domain.QuotePoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check intra-batch and against existing rows before writing anything.
	seen := make(map[quoteKey]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.Venue == "" {
			return storage.ErrInvalidInput
		}
		k := quoteKey{p.Venue, p.BlockNumber}
		if _, dup := seen[k]; dup {
			return storage.ErrDuplicateKey
		}
		if _, dup := s.data[k]; dup {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, p := range points {
		pointCopy := *p
		s.data[quoteKey{p.Venue, p.BlockNumber}] = &pointCopy
	}
	return nil
}

// GetByVenue retrieves all points for a venue, ordered by block number ASC.
func (s *QuotePointStore) GetByVenue(_ context.Context, venue string) ([]*domain.QuotePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.QuotePoint
	for _, p := range s.data {
		if p.Venue == venue {
			pointCopy := *p
			result = append(result, &pointCopy)
		}
	}

	sortQuotePoints(result)
	return result, nil
}

// GetByBlockRange retrieves points for a venue within [start, end] (inclusive).
func (s *QuotePointStore) GetByBlockRange(_ context.Context, venue string, start, end uint64) ([]*domain.QuotePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.QuotePoint
	for _, p := range s.data {
		if p.Venue == venue && p.BlockNumber >= start && p.BlockNumber <= end {
			pointCopy := *p
			result = append(result, &pointCopy)
		}
	}

	sortQuotePoints(result)
	return result, nil
}

func sortQuotePoints(points []*domain.QuotePoint) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].BlockNumber < points[j].BlockNumber
	})
}

// Verify interface compliance at compile time.
var _ storage.QuotePointStore = (*QuotePointStore)(nil)
