package domain

import "math/big"

// Quote is a tagged union over the two venue kinds. The kind is fixed at
// construction and consumers dispatch on it exhaustively. Produced fresh per
// read and never mutated.
type Quote struct {
	Kind VenueKind

	// Constant-product fields.
	Reserve0 *big.Int
	Reserve1 *big.Int
	// Price0 is the fee-adjusted price of token0 in token1, Q64.96.
	Price0 *big.Int
	// Price1 is the fee-adjusted price of token1 in token0, Q64.96.
	Price1 *big.Int

	// Concentrated-liquidity fields.
	SqrtPriceX96 *big.Int
	Tick         int32
	FeePpm       uint32
	// Price is the fee-adjusted price of token0 in token1, Q64.96.
	Price *big.Int
}

// NormalizedPrice returns the venue price in the shared
// "token1 per token0" Q64.96 unit, regardless of kind.
func (q *Quote) NormalizedPrice() *big.Int {
	if q.Kind == VenueKindConcentrated {
		return q.Price
	}
	return q.Price0
}

// PoolState is the latest observed on-chain state for one pool address.
// Overwritten on every successful read (last-write-wins); no history kept.
type PoolState struct {
	Kind VenueKind

	// Constant-product fields.
	Reserve0 *big.Int
	Reserve1 *big.Int

	// Concentrated-liquidity fields.
	SqrtPriceX96 *big.Int
	Tick         int32
	FeePpm       uint32

	// Block is the chain head at the time of the read.
	Block uint64
}

// Equal reports whether two snapshots carry the same observation.
func (p PoolState) Equal(o PoolState) bool {
	if p.Kind != o.Kind || p.Block != o.Block || p.Tick != o.Tick || p.FeePpm != o.FeePpm {
		return false
	}
	return bigEqual(p.Reserve0, o.Reserve0) &&
		bigEqual(p.Reserve1, o.Reserve1) &&
		bigEqual(p.SqrtPriceX96, o.SqrtPriceX96)
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}
