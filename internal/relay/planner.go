package relay

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/quote"
	"evm-arb-watcher/internal/risk"
)

// ChainReader supplies the chain data needed to assemble a transaction.
type ChainReader interface {
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error)
}

// DefaultDeadlineTTL is how long a planned trade stays valid.
const DefaultDeadlineTTL = 60 * time.Second

// PlannerConfig configures the Planner.
type PlannerConfig struct {
	// DeadlineTTL is the submission deadline horizon. Defaults to
	// DefaultDeadlineTTL when zero.
	DeadlineTTL time.Duration
	// GasLimit caps transaction gas. Defaults to the strategy's gas units
	// estimate when zero.
	GasLimit uint64
}

// Planner turns a winning candidate into relay submission parameters.
// The planned transaction is the sell leg: amountIn of token0 swapped at the
// venue quoting the higher price. The buy-back leg is planned from fresh
// state once the sell lands.
type Planner struct {
	chain    ChainReader
	states   quote.StateSource
	strategy *domain.StrategyCtx
	from     common.Address
	config   PlannerConfig

	// now is stubbed in tests.
	now func() time.Time
}

// NewPlanner creates a Planner for the trading account.
func NewPlanner(chain ChainReader, states quote.StateSource, strategy *domain.StrategyCtx, from common.Address, config PlannerConfig) *Planner {
	if config.DeadlineTTL == 0 {
		config.DeadlineTTL = DefaultDeadlineTTL
	}
	if config.GasLimit == 0 {
		config.GasLimit = strategy.GasUnits
	}
	return &Planner{
		chain:    chain,
		states:   states,
		strategy: strategy,
		from:     from,
		config:   config,
		now:      time.Now,
	}
}

// Plan assembles the calldata, nonce, fee caps and deadline for a candidate.
func (p *Planner) Plan(ctx context.Context, cand domain.Candidate) (domain.ExecParams, error) {
	venue, ok := p.strategy.VenueByName(cand.SellVenue)
	if !ok {
		return domain.ExecParams{}, fmt.Errorf("plan: unknown venue %q", cand.SellVenue)
	}

	st, err := p.states.PoolState(ctx, venue.Address)
	if err != nil {
		return domain.ExecParams{}, fmt.Errorf("plan: pool state %s: %w", venue.Name, err)
	}

	q, err := p.quoteFor(venue, st)
	if err != nil {
		return domain.ExecParams{}, err
	}

	// expectedOut = amountIn * price / 2^96, both in smallest units.
	expectedOut := new(big.Int).Mul(p.strategy.AmountIn, q.NormalizedPrice())
	expectedOut.Rsh(expectedOut, 96)
	minOut := risk.CalcMinOut(expectedOut, p.strategy.SlippageBps)

	deadline := p.now().Add(p.config.DeadlineTTL).Unix()

	calldata, to, err := p.packRoute(venue, st, minOut, deadline)
	if err != nil {
		return domain.ExecParams{}, fmt.Errorf("plan: pack route: %w", err)
	}

	nonce, err := p.chain.NonceAt(ctx, p.from)
	if err != nil {
		return domain.ExecParams{}, fmt.Errorf("plan: nonce: %w", err)
	}
	gasPrice, err := p.chain.GasPrice(ctx)
	if err != nil {
		return domain.ExecParams{}, fmt.Errorf("plan: gas price: %w", err)
	}
	tip, err := p.chain.MaxPriorityFeePerGas(ctx)
	if err != nil {
		return domain.ExecParams{}, fmt.Errorf("plan: priority fee: %w", err)
	}

	// Fee cap leaves headroom for the base fee to rise before inclusion.
	feeCap := new(big.Int).Mul(gasPrice, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	return domain.ExecParams{
		RouteCalldata:        calldata,
		To:                   to,
		Nonce:                nonce,
		GasLimit:             p.config.GasLimit,
		MaxFeePerGas:         feeCap,
		MaxPriorityFeePerGas: tip,
		Deadline:             deadline,
	}, nil
}

// quoteFor prices the venue from its latest state snapshot.
func (p *Planner) quoteFor(venue domain.VenueConfig, st domain.PoolState) (*domain.Quote, error) {
	switch venue.Kind {
	case domain.VenueKindConcentrated:
		return quote.ConcentratedQuote(st)
	default:
		return quote.ConstantProductQuote(st, venue.FeeBps)
	}
}

// packRoute builds router calldata for the venue kind.
func (p *Planner) packRoute(venue domain.VenueConfig, st domain.PoolState, minOut *big.Int, deadline int64) ([]byte, common.Address, error) {
	if venue.Kind == domain.VenueKindConcentrated {
		calldata, err := PackV3ExactInputSingle(ExactInputSingleParams{
			TokenIn:          p.strategy.Token0.Address,
			TokenOut:         p.strategy.Token1.Address,
			Fee:              big.NewInt(int64(st.FeePpm)),
			Recipient:        p.from,
			Deadline:         big.NewInt(deadline),
			AmountIn:         p.strategy.AmountIn,
			AmountOutMinimum: minOut,
		})
		return calldata, V3RouterAddress, err
	}

	path := []common.Address{p.strategy.Token0.Address, p.strategy.Token1.Address}
	calldata, err := PackV2Swap(p.strategy.AmountIn, minOut, path, p.from, deadline)
	return calldata, V2RouterAddress, err
}
