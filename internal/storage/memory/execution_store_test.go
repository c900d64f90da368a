package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/storage"
)

func execution(id, candidateID string, ok bool, at int64) *domain.ExecutionRecord {
	return &domain.ExecutionRecord{
		ID:          id,
		CandidateID: candidateID,
		TxHash:      "0xdeadbeef",
		OK:          ok,
		CreatedAt:   time.Unix(at, 0),
	}
}

func TestExecutionStoreInsertAndGet(t *testing.T) {
	s := NewExecutionStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, execution("e1", "c1", true, 1000)))

	got, err := s.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, got.OK)
	assert.Equal(t, "c1", got.CandidateID)
}

func TestExecutionStoreDuplicate(t *testing.T) {
	s := NewExecutionStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, execution("e1", "c1", true, 1000)))
	assert.ErrorIs(t, s.Insert(ctx, execution("e1", "c2", false, 1001)), storage.ErrDuplicateKey)
}

func TestExecutionStoreNotFound(t *testing.T) {
	s := NewExecutionStore()
	_, err := s.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExecutionStoreGetByCandidateID(t *testing.T) {
	s := NewExecutionStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, execution("e2", "c1", false, 2000)))
	require.NoError(t, s.Insert(ctx, execution("e1", "c1", true, 1000)))
	require.NoError(t, s.Insert(ctx, execution("e3", "c2", true, 1500)))

	got, err := s.GetByCandidateID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID, "ordered by creation time")
	assert.Equal(t, "e2", got[1].ID)
}
