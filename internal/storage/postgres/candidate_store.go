package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/storage"
)

// CandidateStore implements storage.CandidateStore using PostgreSQL.
type CandidateStore struct {
	pool *Pool
}

// NewCandidateStore creates a new CandidateStore.
func NewCandidateStore(pool *Pool) *CandidateStore {
	return &CandidateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandidateStore = (*CandidateStore)(nil)

// Insert adds a new candidate record. Returns ErrDuplicateKey if id exists.
func (s *CandidateStore) Insert(ctx context.Context, c *domain.CandidateRecord) error {
	if c == nil || c.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO arb_candidates (
			id, block_number, buy_venue, sell_venue, profit_usd, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		c.ID,
		int64(c.BlockNumber),
		c.BuyVenue,
		c.SellVenue,
		c.ProfitUsd.String(),
		c.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert candidate record: %w", err)
	}
	return nil
}

// GetByID retrieves a candidate record by its ID. Returns ErrNotFound if not exists.
func (s *CandidateStore) GetByID(ctx context.Context, id string) (*domain.CandidateRecord, error) {
	query := `
		SELECT id, block_number, buy_venue, sell_venue, profit_usd::text, created_at
		FROM arb_candidates
		WHERE id = $1
	`

	row := s.pool.QueryRow(ctx, query, id)
	c, err := scanCandidateRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get candidate record by id: %w", err)
	}
	return c, nil
}

// GetByBlockRange retrieves records with block numbers within [start, end] (inclusive).
func (s *CandidateStore) GetByBlockRange(ctx context.Context, start, end uint64) ([]*domain.CandidateRecord, error) {
	query := `
		SELECT id, block_number, buy_venue, sell_venue, profit_usd::text, created_at
		FROM arb_candidates
		WHERE block_number >= $1 AND block_number <= $2
		ORDER BY block_number ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, int64(start), int64(end))
	if err != nil {
		return nil, fmt.Errorf("get candidate records by block range: %w", err)
	}
	defer rows.Close()

	return scanCandidateRecords(rows)
}

// GetByVenue retrieves all records where the venue appears on either side.
func (s *CandidateStore) GetByVenue(ctx context.Context, venue string) ([]*domain.CandidateRecord, error) {
	query := `
		SELECT id, block_number, buy_venue, sell_venue, profit_usd::text, created_at
		FROM arb_candidates
		WHERE buy_venue = $1 OR sell_venue = $1
		ORDER BY block_number ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, venue)
	if err != nil {
		return nil, fmt.Errorf("get candidate records by venue: %w", err)
	}
	defer rows.Close()

	return scanCandidateRecords(rows)
}

// scanCandidateRecord scans a single row into a CandidateRecord.
func scanCandidateRecord(row pgx.Row) (*domain.CandidateRecord, error) {
	var c domain.CandidateRecord
	var blockNumber int64
	var profitStr string

	err := row.Scan(
		&c.ID,
		&blockNumber,
		&c.BuyVenue,
		&c.SellVenue,
		&profitStr,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.BlockNumber = uint64(blockNumber)
	if c.ProfitUsd, err = parseDecimal(profitStr); err != nil {
		return nil, err
	}
	return &c, nil
}

// scanCandidateRecords scans multiple rows into a slice of CandidateRecord.
func scanCandidateRecords(rows pgx.Rows) ([]*domain.CandidateRecord, error) {
	var records []*domain.CandidateRecord

	for rows.Next() {
		c, err := scanCandidateRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate record row: %w", err)
		}
		records = append(records, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate record rows: %w", err)
	}

	return records, nil
}
