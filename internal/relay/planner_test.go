package relay

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/fixedpoint"
	"evm-arb-watcher/internal/quote"
)

var (
	v2Pool = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	v3Pool = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	trader = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	token0 = common.HexToAddress("0x0000000000000000000000000000000000000001")
	token1 = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

type fakeChain struct {
	nonce    uint64
	gasPrice *big.Int
	tip      *big.Int
}

func (f *fakeChain) NonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeChain) GasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeChain) MaxPriorityFeePerGas(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.tip), nil
}

type fakeStates map[common.Address]domain.PoolState

func (f fakeStates) PoolState(_ context.Context, addr common.Address) (domain.PoolState, error) {
	st, ok := f[addr]
	if !ok {
		return domain.PoolState{}, quote.ErrNoLiquidity
	}
	return st, nil
}

func plannerStrategy() *domain.StrategyCtx {
	return &domain.StrategyCtx{
		ChainID: 1,
		Venues: []domain.VenueConfig{
			{Name: "univ2", Kind: domain.VenueKindConstantProduct, Address: v2Pool, FeeBps: 30},
			{Name: "univ3", Kind: domain.VenueKindConcentrated, Address: v3Pool},
		},
		Token0:      domain.TokenInfo{Address: token0, Decimals: 0},
		Token1:      domain.TokenInfo{Address: token1, Decimals: 0},
		AmountIn:    big.NewInt(100),
		SlippageBps: 100,
		GasUnits:    250_000,
	}
}

func newTestPlanner(states fakeStates) *Planner {
	chain := &fakeChain{nonce: 7, gasPrice: big.NewInt(50), tip: big.NewInt(2)}
	p := NewPlanner(chain, states, plannerStrategy(), trader, PlannerConfig{})
	p.now = func() time.Time { return time.Unix(1_000_000, 0) }
	return p
}

func TestPlannerV2Route(t *testing.T) {
	states := fakeStates{
		v2Pool: {
			Kind:     domain.VenueKindConstantProduct,
			Reserve0: big.NewInt(1000),
			Reserve1: big.NewInt(2000),
		},
	}
	p := newTestPlanner(states)

	params, err := p.Plan(context.Background(), domain.Candidate{BuyVenue: "univ3", SellVenue: "univ2"})
	require.NoError(t, err)

	assert.Equal(t, V2RouterAddress, params.To)
	assert.Equal(t, uint64(7), params.Nonce)
	assert.Equal(t, uint64(250_000), params.GasLimit)
	// feeCap = 2*gasPrice + tip.
	assert.Equal(t, int64(102), params.MaxFeePerGas.Int64())
	assert.Equal(t, int64(2), params.MaxPriorityFeePerGas.Int64())
	assert.Equal(t, int64(1_000_000+60), params.Deadline)

	method, err := routerContract.MethodById(params.RouteCalldata[:4])
	require.NoError(t, err)
	assert.Equal(t, "swapExactTokensForTokens", method.Name)

	args, err := method.Inputs.Unpack(params.RouteCalldata[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(100), args[0].(*big.Int).Int64())
	// price 2.0 less 30 bps fee gives 199 out; 1% slippage floor gives 197.
	assert.Equal(t, int64(197), args[1].(*big.Int).Int64())
	assert.Equal(t, []common.Address{token0, token1}, args[2].([]common.Address))
	assert.Equal(t, trader, args[3].(common.Address))
}

func TestPlannerV3Route(t *testing.T) {
	states := fakeStates{
		v3Pool: {
			Kind:         domain.VenueKindConcentrated,
			SqrtPriceX96: new(big.Int).Set(fixedpoint.Q96),
			FeePpm:       3000,
		},
	}
	p := newTestPlanner(states)

	params, err := p.Plan(context.Background(), domain.Candidate{BuyVenue: "univ2", SellVenue: "univ3"})
	require.NoError(t, err)

	assert.Equal(t, V3RouterAddress, params.To)

	method, err := routerContract.MethodById(params.RouteCalldata[:4])
	require.NoError(t, err)
	assert.Equal(t, "exactInputSingle", method.Name)
}

func TestPlannerUnknownVenue(t *testing.T) {
	p := newTestPlanner(fakeStates{})

	_, err := p.Plan(context.Background(), domain.Candidate{BuyVenue: "univ2", SellVenue: "nope"})
	assert.ErrorContains(t, err, "unknown venue")
}

func TestPlannerNoLiquidity(t *testing.T) {
	states := fakeStates{
		v2Pool: {
			Kind:     domain.VenueKindConstantProduct,
			Reserve0: big.NewInt(0),
			Reserve1: big.NewInt(0),
		},
	}
	p := newTestPlanner(states)

	_, err := p.Plan(context.Background(), domain.Candidate{BuyVenue: "univ3", SellVenue: "univ2"})
	assert.ErrorIs(t, err, quote.ErrNoLiquidity)
}
