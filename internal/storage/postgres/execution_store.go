package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/storage"
)

// ExecutionStore implements storage.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ExecutionStore = (*ExecutionStore)(nil)

// Insert adds a new execution record. Returns ErrDuplicateKey if id exists.
func (s *ExecutionStore) Insert(ctx context.Context, e *domain.ExecutionRecord) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO executions (
			id, candidate_id, tx_hash, ok, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		e.ID,
		e.CandidateID,
		e.TxHash,
		e.OK,
		e.Error,
		e.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

// GetByID retrieves an execution record by its ID. Returns ErrNotFound if not exists.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	query := `
		SELECT id, candidate_id, tx_hash, ok, error, created_at
		FROM executions
		WHERE id = $1
	`

	row := s.pool.QueryRow(ctx, query, id)
	e, err := scanExecutionRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get execution record by id: %w", err)
	}
	return e, nil
}

// GetByCandidateID retrieves all executions for a candidate record.
func (s *ExecutionStore) GetByCandidateID(ctx context.Context, candidateID string) ([]*domain.ExecutionRecord, error) {
	query := `
		SELECT id, candidate_id, tx_hash, ok, error, created_at
		FROM executions
		WHERE candidate_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, candidateID)
	if err != nil {
		return nil, fmt.Errorf("get execution records by candidate: %w", err)
	}
	defer rows.Close()

	var records []*domain.ExecutionRecord
	for rows.Next() {
		e, err := scanExecutionRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution record row: %w", err)
		}
		records = append(records, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution record rows: %w", err)
	}
	return records, nil
}

// scanExecutionRecord scans a single row into an ExecutionRecord.
func scanExecutionRecord(row pgx.Row) (*domain.ExecutionRecord, error) {
	var e domain.ExecutionRecord
	err := row.Scan(
		&e.ID,
		&e.CandidateID,
		&e.TxHash,
		&e.OK,
		&e.Error,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
