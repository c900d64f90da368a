// Package quote reads venue pool state and produces normalized prices.
// Both venue kinds resolve to the same "price of token0 in token1" Q64.96
// unit so the candidate generator can compare across kinds uninterpreted.
package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/fixedpoint"
)

// ErrNoLiquidity is returned when a pool reports zero reserves or a zero
// square-root price. The read fails; the adapter itself never retries.
var ErrNoLiquidity = errors.New("pool has no liquidity")

const (
	bpsPerUnit = 10_000
	ppmPerUnit = 1_000_000
)

// StateSource supplies the latest observed state for a pool address. The
// live loop backs this with the pool state store; direct reads back it with
// the chain client.
type StateSource interface {
	PoolState(ctx context.Context, addr common.Address) (domain.PoolState, error)
}

// Quoter turns venue pool state into normalized quotes.
type Quoter struct {
	states StateSource
}

// NewQuoter creates a Quoter over the given state source.
func NewQuoter(states StateSource) *Quoter {
	return &Quoter{states: states}
}

// Quote produces a fresh quote for the venue, dispatching on its kind.
func (q *Quoter) Quote(ctx context.Context, venue domain.VenueConfig) (*domain.Quote, error) {
	st, err := q.states.PoolState(ctx, venue.Address)
	if err != nil {
		return nil, fmt.Errorf("pool state %s: %w", venue.Name, err)
	}

	switch venue.Kind {
	case domain.VenueKindConstantProduct:
		return ConstantProductQuote(st, venue.FeeBps)
	case domain.VenueKindConcentrated:
		return ConcentratedQuote(st)
	default:
		return nil, fmt.Errorf("unknown venue kind %q", venue.Kind)
	}
}

// NormalizedPrice returns the venue's price of token0 in token1 as Q64.96.
func (q *Quoter) NormalizedPrice(ctx context.Context, venue domain.VenueConfig) (*big.Int, error) {
	quote, err := q.Quote(ctx, venue)
	if err != nil {
		return nil, err
	}
	return quote.NormalizedPrice(), nil
}

// ConstantProductQuote derives fee-adjusted prices from an x*y=k reserve
// pair: price0 = reserve1/reserve0 * (1 - feeBps/10000), price1 is the
// reciprocal with the same adjustment.
func ConstantProductQuote(st domain.PoolState, feeBps uint32) (*domain.Quote, error) {
	if st.Reserve0 == nil || st.Reserve1 == nil || st.Reserve0.Sign() == 0 || st.Reserve1.Sign() == 0 {
		return nil, ErrNoLiquidity
	}

	feeNum := big.NewInt(int64(bpsPerUnit - feeBps))
	feeDen := big.NewInt(bpsPerUnit)

	price0 := fixedpoint.Ratio(st.Reserve1, st.Reserve0)
	price0.Mul(price0, feeNum).Quo(price0, feeDen)

	price1 := fixedpoint.Ratio(st.Reserve0, st.Reserve1)
	price1.Mul(price1, feeNum).Quo(price1, feeDen)

	return &domain.Quote{
		Kind:     domain.VenueKindConstantProduct,
		Reserve0: new(big.Int).Set(st.Reserve0),
		Reserve1: new(big.Int).Set(st.Reserve1),
		Price0:   price0,
		Price1:   price1,
	}, nil
}

// ConcentratedQuote derives the fee-adjusted price from a pool's current
// square-root price: raw = sqrtPriceX96^2 / 2^192, adjusted by
// (1 - feePpm/1e6). The fee tier comes from pool state in parts per million.
func ConcentratedQuote(st domain.PoolState) (*domain.Quote, error) {
	if st.SqrtPriceX96 == nil || st.SqrtPriceX96.Sign() == 0 {
		return nil, ErrNoLiquidity
	}

	// sqrtPriceX96^2 / 2^192 expressed in Q64.96 is simply sqrt^2 >> 96.
	price := new(big.Int).Mul(st.SqrtPriceX96, st.SqrtPriceX96)
	price.Rsh(price, 96)

	feeNum := big.NewInt(int64(ppmPerUnit - st.FeePpm))
	price.Mul(price, feeNum).Quo(price, big.NewInt(ppmPerUnit))

	return &domain.Quote{
		Kind:         domain.VenueKindConcentrated,
		SqrtPriceX96: new(big.Int).Set(st.SqrtPriceX96),
		Tick:         st.Tick,
		FeePpm:       st.FeePpm,
		Price:        price,
	}, nil
}

