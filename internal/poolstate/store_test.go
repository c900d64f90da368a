package poolstate

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/storage"
)

var (
	poolA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	poolB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func v2State(r0, r1 int64, block uint64) domain.PoolState {
	return domain.PoolState{
		Kind:     domain.VenueKindConstantProduct,
		Reserve0: big.NewInt(r0),
		Reserve1: big.NewInt(r1),
		Block:    block,
	}
}

func TestStoreApplyGet(t *testing.T) {
	s := NewStore()
	s.Apply(poolA, v2State(1000, 2000, 5))

	got, ok := s.Get(poolA)
	require.True(t, ok)
	assert.True(t, got.Equal(v2State(1000, 2000, 5)))

	_, ok = s.Get(poolB)
	assert.False(t, ok)
}

func TestStoreApplyIdempotent(t *testing.T) {
	s := NewStore()
	st := v2State(1000, 2000, 5)

	s.Apply(poolA, st)
	first, _ := s.Get(poolA)
	s.Apply(poolA, st)
	second, _ := s.Get(poolA)

	assert.True(t, first.Equal(second))
	assert.Len(t, s.All(), 1)
}

func TestStoreLastWriteWins(t *testing.T) {
	s := NewStore()
	s.Apply(poolA, v2State(1000, 2000, 5))
	s.Apply(poolA, v2State(900, 2200, 6))

	got, _ := s.Get(poolA)
	assert.Equal(t, uint64(6), got.Block)
	assert.Equal(t, int64(900), got.Reserve0.Int64())
}

func TestStorePoolStateNotFound(t *testing.T) {
	s := NewStore()
	_, err := s.PoolState(context.Background(), poolA)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreDrainTouched(t *testing.T) {
	s := NewStore()
	s.MarkTouched(poolA)
	s.MarkTouched(poolB)
	s.MarkTouched(poolA) // duplicate collapses

	drained := s.DrainTouched()
	assert.ElementsMatch(t, []common.Address{poolA, poolB}, drained)
	assert.Zero(t, s.TouchedCount())

	// Touches after the drain accumulate for the next one.
	s.MarkTouched(poolB)
	assert.Equal(t, 1, s.TouchedCount())
	assert.ElementsMatch(t, []common.Address{poolB}, s.DrainTouched())
}
