package poolstate

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/evm"
)

// BatchCaller aggregates many read-only contract calls into one request.
type BatchCaller interface {
	Aggregate(ctx context.Context, calls []evm.Call) ([]evm.CallResult, error)
}

// RefresherConfig bounds refresh retry behavior.
type RefresherConfig struct {
	// BatchRetries is attempts for the whole aggregated request.
	BatchRetries int
	// AddressRetries is attempts for an individual failing pool.
	AddressRetries int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
}

// DefaultRefresherConfig returns the default retry bounds.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		BatchRetries:   3,
		AddressRetries: 2,
		RetryDelay:     200 * time.Millisecond,
	}
}

// Refresher reads current pool state for a set of venues, one aggregated
// call per venue kind, and applies the results to the store. Pools that
// keep failing after the retry budget are logged and dropped; the next
// touch retries them.
type Refresher struct {
	caller BatchCaller
	store  *Store
	venues map[common.Address]domain.VenueConfig
	config RefresherConfig
	logger zerolog.Logger
}

// NewRefresher creates a Refresher for the configured venues.
func NewRefresher(caller BatchCaller, store *Store, venues []domain.VenueConfig, config RefresherConfig, logger zerolog.Logger) *Refresher {
	byAddr := make(map[common.Address]domain.VenueConfig, len(venues))
	for _, v := range venues {
		byAddr[v.Address] = v
	}
	return &Refresher{
		caller: caller,
		store:  store,
		venues: byAddr,
		config: config,
		logger: logger.With().Str("component", "refresher").Logger(),
	}
}

// poolCalls describes the batch entries belonging to one pool.
type poolCalls struct {
	venue domain.VenueConfig
	calls []evm.Call
}

// Refresh reads fresh state for the given pools at the given block height.
// Unknown addresses are skipped. Returns an error only when the batch
// itself cannot be executed after retries.
func (r *Refresher) Refresh(ctx context.Context, addrs []common.Address, block uint64) error {
	pending := make([]poolCalls, 0, len(addrs))
	for _, addr := range addrs {
		venue, ok := r.venues[addr]
		if !ok {
			r.logger.Warn().Str("pool", addr.Hex()).Msg("refresh requested for unknown pool")
			continue
		}
		pending = append(pending, poolCalls{venue: venue, calls: buildCalls(venue)})
	}
	if len(pending) == 0 {
		return nil
	}

	for attempt := 0; attempt < r.config.AddressRetries+1; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		failed, err := r.refreshOnce(ctx, pending, block)
		if err != nil {
			return err
		}
		if len(failed) == 0 {
			return nil
		}
		pending = failed
	}

	for _, p := range pending {
		r.logger.Warn().
			Str("pool", p.venue.Address.Hex()).
			Str("venue", p.venue.Name).
			Msg("dropping pool after refresh retries exhausted")
	}
	return nil
}

// refreshOnce runs one pass over the pending pools, issuing one aggregated
// read per venue kind. It returns the pools whose individual reads failed.
func (r *Refresher) refreshOnce(ctx context.Context, pools []poolCalls, block uint64) ([]poolCalls, error) {
	var failed []poolCalls
	for _, group := range partitionByKind(pools) {
		f, err := r.refreshKind(ctx, group, block)
		if err != nil {
			return nil, err
		}
		failed = append(failed, f...)
	}
	return failed, nil
}

// partitionByKind splits the pending pools into one group per venue kind,
// constant-product first, preserving input order within each group.
func partitionByKind(pools []poolCalls) [][]poolCalls {
	var constantProduct, concentrated []poolCalls
	for _, p := range pools {
		if p.venue.Kind == domain.VenueKindConcentrated {
			concentrated = append(concentrated, p)
		} else {
			constantProduct = append(constantProduct, p)
		}
	}

	var groups [][]poolCalls
	if len(constantProduct) > 0 {
		groups = append(groups, constantProduct)
	}
	if len(concentrated) > 0 {
		groups = append(groups, concentrated)
	}
	return groups
}

// refreshKind runs the aggregated read for one same-kind group and applies
// successful results.
func (r *Refresher) refreshKind(ctx context.Context, pools []poolCalls, block uint64) ([]poolCalls, error) {
	batch := make([]evm.Call, 0, len(pools)*2)
	for _, p := range pools {
		batch = append(batch, p.calls...)
	}

	results, err := r.aggregateWithRetry(ctx, batch)
	if err != nil {
		return nil, err
	}

	var failed []poolCalls
	idx := 0
	for _, p := range pools {
		slice := results[idx : idx+len(p.calls)]
		idx += len(p.calls)

		st, err := decodePoolState(p.venue, slice, block)
		if err != nil {
			r.logger.Debug().
				Str("pool", p.venue.Address.Hex()).
				Err(err).
				Msg("pool read failed, will retry")
			failed = append(failed, p)
			continue
		}
		r.store.Apply(p.venue.Address, st)
	}
	return failed, nil
}

// aggregateWithRetry retries the whole batch on transport failure.
func (r *Refresher) aggregateWithRetry(ctx context.Context, batch []evm.Call) ([]evm.CallResult, error) {
	var lastErr error
	for attempt := 0; attempt < r.config.BatchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.config.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		results, err := r.caller.Aggregate(ctx, batch)
		if err == nil {
			return results, nil
		}
		lastErr = err
		r.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("batch state read failed")
	}
	return nil, fmt.Errorf("batch state read: %w", lastErr)
}

// buildCalls returns the aggregated entries needed to read one pool.
func buildCalls(venue domain.VenueConfig) []evm.Call {
	switch venue.Kind {
	case domain.VenueKindConcentrated:
		return []evm.Call{
			{Target: venue.Address, AllowFailure: true, CallData: evm.PackSlot0()},
			{Target: venue.Address, AllowFailure: true, CallData: evm.PackFee()},
		}
	default:
		return []evm.Call{
			{Target: venue.Address, AllowFailure: true, CallData: evm.PackGetReserves()},
		}
	}
}

// decodePoolState assembles a PoolState from a pool's call results.
func decodePoolState(venue domain.VenueConfig, results []evm.CallResult, block uint64) (domain.PoolState, error) {
	for _, res := range results {
		if !res.Success {
			return domain.PoolState{}, fmt.Errorf("call reverted")
		}
	}

	switch venue.Kind {
	case domain.VenueKindConcentrated:
		slot0, err := evm.UnpackSlot0(results[0].ReturnData)
		if err != nil {
			return domain.PoolState{}, err
		}
		fee, err := evm.UnpackFee(results[1].ReturnData)
		if err != nil {
			return domain.PoolState{}, err
		}
		return domain.PoolState{
			Kind:         domain.VenueKindConcentrated,
			SqrtPriceX96: slot0.SqrtPriceX96,
			Tick:         slot0.Tick,
			FeePpm:       fee,
			Block:        block,
		}, nil
	default:
		reserves, err := evm.UnpackGetReserves(results[0].ReturnData)
		if err != nil {
			return domain.PoolState{}, err
		}
		return domain.PoolState{
			Kind:     domain.VenueKindConstantProduct,
			Reserve0: reserves.Reserve0,
			Reserve1: reserves.Reserve1,
			Block:    block,
		}, nil
	}
}
