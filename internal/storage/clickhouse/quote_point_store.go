package clickhouse

import (
	"context"
	"fmt"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/storage"
)

// QuotePointStore implements storage.QuotePointStore using ClickHouse.
type QuotePointStore struct {
	conn *Conn
}

// NewQuotePointStore creates a new QuotePointStore.
func NewQuotePointStore(conn *Conn) *QuotePointStore {
	return &QuotePointStore{conn: conn}
}

// Compile-time interface check.
var _ storage.QuotePointStore = (*QuotePointStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate (venue, block_number).
func (s *QuotePointStore) InsertBulk(ctx context.Context, points []*domain.QuotePoint) error {
	if len(points) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		venue string
		block uint64
	}
	seen := make(map[key]struct{})
	for _, p := range points {
		if p == nil || p.Venue == "" {
			return storage.ErrInvalidInput
		}
		k := key{p.Venue, p.BlockNumber}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, p := range points {
		exists, err := s.exists(ctx, p.Venue, p.BlockNumber)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO quote_points (
			venue, address, block_number, price, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.Venue, p.Address.Hex(), p.BlockNumber, p.Price, p.TimestampMs,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByVenue retrieves all points for a venue, ordered by block number ASC.
func (s *QuotePointStore) GetByVenue(ctx context.Context, venue string) ([]*domain.QuotePoint, error) {
	query := `
		SELECT venue, address, block_number, price, timestamp_ms
		FROM quote_points
		WHERE venue = ?
		ORDER BY block_number ASC
	`

	rows, err := s.conn.Query(ctx, query, venue)
	if err != nil {
		return nil, fmt.Errorf("query by venue: %w", err)
	}
	defer rows.Close()

	return scanQuotePoints(rows)
}

// GetByBlockRange retrieves points for a venue within [start, end] (inclusive).
func (s *QuotePointStore) GetByBlockRange(ctx context.Context, venue string, start, end uint64) ([]*domain.QuotePoint, error) {
	query := `
		SELECT venue, address, block_number, price, timestamp_ms
		FROM quote_points
		WHERE venue = ? AND block_number >= ? AND block_number <= ?
		ORDER BY block_number ASC
	`

	rows, err := s.conn.Query(ctx, query, venue, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by block range: %w", err)
	}
	defer rows.Close()

	return scanQuotePoints(rows)
}

// exists checks if a point with the given key exists.
func (s *QuotePointStore) exists(ctx context.Context, venue string, block uint64) (bool, error) {
	query := `
		SELECT count(*) FROM quote_points
		WHERE venue = ? AND block_number = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, venue, block).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows is the row iterator subset needed by the scanners.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanQuotePoints scans multiple rows.
func scanQuotePoints(rows chRows) ([]*domain.QuotePoint, error) {
	var points []*domain.QuotePoint

	for rows.Next() {
		var p domain.QuotePoint
		var addressStr string

		err := rows.Scan(&p.Venue, &addressStr, &p.BlockNumber, &p.Price, &p.TimestampMs)
		if err != nil {
			return nil, fmt.Errorf("scan quote point row: %w", err)
		}

		p.Address = parseAddress(addressStr)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quote point rows: %w", err)
	}

	return points, nil
}
