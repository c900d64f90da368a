package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/storage"
)

func testCandidate(id string, block uint64, buy, sell string) *domain.CandidateRecord {
	return &domain.CandidateRecord{
		ID:          id,
		BlockNumber: block,
		BuyVenue:    buy,
		SellVenue:   sell,
		ProfitUsd:   decimal.RequireFromString("4.8"),
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestCandidateStoreInsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandidateStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testCandidate("c1", 100, "univ2", "univ3")))

	got, err := store.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.BlockNumber)
	assert.Equal(t, "univ2", got.BuyVenue)
	assert.True(t, got.ProfitUsd.Equal(decimal.RequireFromString("4.8")), "got %s", got.ProfitUsd)
}

func TestCandidateStoreDuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandidateStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testCandidate("c1", 100, "univ2", "univ3")))
	err := store.Insert(ctx, testCandidate("c1", 101, "univ2", "univ3"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestCandidateStoreNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandidateStore(pool)
	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCandidateStoreGetByBlockRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandidateStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testCandidate("c2", 102, "univ2", "univ3")))
	require.NoError(t, store.Insert(ctx, testCandidate("c1", 100, "univ2", "univ3")))
	require.NoError(t, store.Insert(ctx, testCandidate("c3", 200, "univ2", "univ3")))

	got, err := store.GetByBlockRange(ctx, 100, 150)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "c2", got[1].ID)
}

func TestCandidateStoreGetByVenue(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandidateStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testCandidate("c1", 100, "univ2", "univ3")))
	require.NoError(t, store.Insert(ctx, testCandidate("c2", 101, "univ3", "sushi")))
	require.NoError(t, store.Insert(ctx, testCandidate("c3", 102, "sushi", "univ2")))

	got, err := store.GetByVenue(ctx, "univ3")
	require.NoError(t, err)
	require.Len(t, got, 2, "venue matches on either side")
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "c2", got[1].ID)
}
