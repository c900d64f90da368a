package storage

import (
	"context"

	"evm-arb-watcher/internal/domain"
)

// CandidateStore provides access to arb_candidates storage.
type CandidateStore interface {
	// Insert adds a new candidate record. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, c *domain.CandidateRecord) error

	// GetByID retrieves a candidate record by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.CandidateRecord, error)

	// GetByBlockRange retrieves records with block numbers within [start, end] (inclusive).
	GetByBlockRange(ctx context.Context, start, end uint64) ([]*domain.CandidateRecord, error)

	// GetByVenue retrieves all records where the venue appears on either side.
	GetByVenue(ctx context.Context, venue string) ([]*domain.CandidateRecord, error)
}

// ExecutionStore provides access to executions storage.
type ExecutionStore interface {
	// Insert adds a new execution record. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, e *domain.ExecutionRecord) error

	// GetByID retrieves an execution record by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.ExecutionRecord, error)

	// GetByCandidateID retrieves all executions for a candidate record.
	GetByCandidateID(ctx context.Context, candidateID string) ([]*domain.ExecutionRecord, error)
}

// QuotePointStore provides access to quote_points storage.
type QuotePointStore interface {
	// InsertBulk adds multiple points. Fails entire batch on duplicate (venue, block_number).
	InsertBulk(ctx context.Context, points []*domain.QuotePoint) error

	// GetByVenue retrieves all points for a venue, ordered by block number ASC.
	GetByVenue(ctx context.Context, venue string) ([]*domain.QuotePoint, error)

	// GetByBlockRange retrieves points for a venue within [start, end] (inclusive).
	GetByBlockRange(ctx context.Context, venue string, start, end uint64) ([]*domain.QuotePoint, error)
}
