// Package orchestrator runs the per-block evaluation loop.
// Flow per block: drain touched pools → refresh state → quote venues →
// generate candidates → simulate and guard-check → publish and act.
package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"evm-arb-watcher/internal/arb"
	"evm-arb-watcher/internal/bus"
	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/fixedpoint"
	"evm-arb-watcher/internal/observability"
	"evm-arb-watcher/internal/poolstate"
	"evm-arb-watcher/internal/quote"
	"evm-arb-watcher/internal/risk"
	"evm-arb-watcher/internal/sim"
	"evm-arb-watcher/internal/storage"
)

// StateRefresher re-reads on-chain state for a set of pools.
type StateRefresher interface {
	Refresh(ctx context.Context, addrs []common.Address, block uint64) error
}

// FeeSource reports the current gas price.
type FeeSource interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Planner turns a winning candidate into relay submission parameters.
type Planner interface {
	Plan(ctx context.Context, cand domain.Candidate) (domain.ExecParams, error)
}

// Executor submits a planned trade.
type Executor interface {
	Execute(ctx context.Context, params domain.ExecParams) domain.ExecResult
}

// Orchestrator consumes stream events and evaluates the venue universe once
// per block. A failed or panicking cycle is logged and the loop continues;
// only context cancellation stops it.
type Orchestrator struct {
	bus       *bus.Bus
	states    *poolstate.Store
	refresher StateRefresher
	quoter    *quote.Quoter
	fees      FeeSource
	strategy  *domain.StrategyCtx

	// Execution path; nil means watch-only.
	planner  Planner
	executor Executor

	candidates  storage.CandidateStore
	executions  storage.ExecutionStore
	quotePoints storage.QuotePointStore

	logger zerolog.Logger
}

// Options for creating an Orchestrator.
type Options struct {
	Bus       *bus.Bus
	States    *poolstate.Store
	Refresher StateRefresher
	Quoter    *quote.Quoter
	Fees      FeeSource
	Strategy  *domain.StrategyCtx

	// Planner and Executor are optional. When either is nil, winners are
	// published and recorded but never submitted.
	Planner  Planner
	Executor Executor

	Candidates storage.CandidateStore
	Executions storage.ExecutionStore
	// QuotePoints is optional; nil disables quote history.
	QuotePoints storage.QuotePointStore

	Logger zerolog.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		bus:         opts.Bus,
		states:      opts.States,
		refresher:   opts.Refresher,
		quoter:      opts.Quoter,
		fees:        opts.Fees,
		strategy:    opts.Strategy,
		planner:     opts.Planner,
		executor:    opts.Executor,
		candidates:  opts.Candidates,
		executions:  opts.Executions,
		quotePoints: opts.QuotePoints,
		logger:      opts.Logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Run consumes bus events until the context is cancelled or the bus closes.
// Pool logs mark their pool touched; each head announcement runs one cycle.
func (o *Orchestrator) Run(ctx context.Context) error {
	events, cancel := o.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case domain.EventV2Sync, domain.EventV2Swap, domain.EventV3Swap:
				for _, lg := range ev.Logs {
					o.states.MarkTouched(lg.Address)
				}
				observability.DefaultMetrics.TouchedPools.Set(float64(o.states.TouchedCount()))
			case domain.EventBlock:
				o.runCycle(ctx, ev.Block)
			}
		}
	}
}

// runCycle evaluates the venue universe at one block.
func (o *Orchestrator) runCycle(ctx context.Context, block uint64) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Uint64("block", block).Interface("panic", r).Msg("evaluation cycle panicked")
		}
	}()

	start := time.Now()

	if err := o.refreshTouched(ctx, block); err != nil {
		o.logger.Error().Uint64("block", block).Err(err).Msg("state refresh failed, skipping cycle")
		return
	}

	gasPrice, err := o.fees.GasPrice(ctx)
	if err != nil {
		o.logger.Error().Uint64("block", block).Err(err).Msg("gas price read failed, skipping cycle")
		return
	}
	observability.DefaultMetrics.GasPriceWei.Set(float64(gasPrice.Uint64()))

	gasUsd, err := arb.EstimateGasUsd(gasPrice, o.strategy.GasUnits, o.strategy.EthUsd)
	if err != nil {
		o.logger.Error().Uint64("block", block).Err(err).Msg("gas estimate failed, skipping cycle")
		return
	}

	prices, quotes, points := o.collectQuotes(ctx, block)
	if len(prices) < 2 {
		o.logger.Debug().Uint64("block", block).Int("venues", len(prices)).Msg("not enough quoted venues")
		return
	}

	candidates := arb.GenerateCandidates(arb.GeneratorParams{
		Prices:         prices,
		AmountIn:       o.strategy.AmountIn,
		Token0Decimals: o.strategy.Token0.Decimals,
		Token1Usd:      o.strategy.Token1.PriceUsd,
		SlippageBps:    o.strategy.SlippageBps,
		GasUsd:         gasUsd,
		MinProfitUsd:   o.strategy.MinProfitUsd,
	})

	winners := o.filterCandidates(ctx, candidates, quotes, gasPrice, gasUsd, block)
	if len(winners) > 0 {
		o.bus.Publish(domain.Event{Type: domain.EventCandidates, Block: block, Candidates: winners})
		o.actOn(ctx, winners, quotes, gasUsd, block)
	}

	o.persistQuotes(ctx, points)
	observability.RecordCycle(time.Since(start).Seconds(), time.Now().Unix())
}

// refreshTouched re-reads state for pools touched since the previous block.
func (o *Orchestrator) refreshTouched(ctx context.Context, block uint64) error {
	touched := o.states.DrainTouched()
	observability.DefaultMetrics.TouchedPools.Set(0)
	if len(touched) == 0 {
		return nil
	}

	start := time.Now()
	err := o.refresher.Refresh(ctx, touched, block)
	observability.DefaultMetrics.RefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RecordRefreshFailure()
		return err
	}
	observability.DefaultMetrics.PoolsTracked.Set(float64(len(o.states.All())))
	return nil
}

// collectQuotes prices every venue with cached state. Venues that cannot be
// quoted are skipped for the cycle. The full quotes are kept by name so the
// swap simulator and planner can re-use them later in the cycle.
func (o *Orchestrator) collectQuotes(ctx context.Context, block uint64) ([]arb.VenuePrice, map[string]*domain.Quote, []*domain.QuotePoint) {
	prices := make([]arb.VenuePrice, 0, len(o.strategy.Venues))
	quotes := make(map[string]*domain.Quote, len(o.strategy.Venues))
	points := make([]*domain.QuotePoint, 0, len(o.strategy.Venues))

	for _, venue := range o.strategy.Venues {
		q, err := o.quoter.Quote(ctx, venue)
		if err != nil {
			o.logger.Warn().Str("venue", venue.Name).Err(err).Msg("venue quote failed")
			continue
		}
		price := q.NormalizedPrice()
		prices = append(prices, arb.VenuePrice{Venue: venue.Name, Price: price})
		quotes[venue.Name] = q

		point := &domain.QuotePoint{
			Venue:       venue.Name,
			Address:     venue.Address,
			BlockNumber: block,
			Price:       fixedpoint.ToDecimal(price).InexactFloat64(),
			TimestampMs: time.Now().UnixMilli(),
		}
		points = append(points, point)
		o.bus.Publish(domain.Event{Type: domain.EventQuote, Block: block, Quote: point})
	}
	return prices, quotes, points
}

// filterCandidates re-prices each candidate with fresh quotes, runs the
// per-leg swap simulator over the candidate's route, and applies the risk
// guards, keeping only the survivors.
func (o *Orchestrator) filterCandidates(ctx context.Context, candidates []domain.Candidate, quotes map[string]*domain.Quote, gasPrice *big.Int, gasUsd decimal.Decimal, block uint64) []domain.Candidate {
	var winners []domain.Candidate
	for _, cand := range candidates {
		observability.RecordCandidateFound()

		fresh, err := arb.SimulateCandidate(ctx, o.quoter, o.strategy, cand, gasUsd)
		if err != nil {
			o.logger.Warn().Str("buy", cand.BuyVenue).Str("sell", cand.SellVenue).Err(err).Msg("candidate simulation failed")
			observability.RecordCandidateRejected("sim")
			continue
		}
		if fresh.ProfitUsd.LessThan(o.strategy.MinProfitUsd) {
			observability.RecordCandidateRejected("sim")
			continue
		}

		route := o.routeFor(cand, quotes)
		if res := sim.SimulateRoute(route); len(route) == 0 || !res.OK {
			o.logger.Info().Str("buy", cand.BuyVenue).Str("sell", cand.SellVenue).
				Str("leg_profit", res.ExpectedProfit.String()).Msg("candidate rejected by swap simulation")
			observability.RecordCandidateRejected("sim")
			continue
		}

		if _, err := risk.CheckGuards(o.guardContext(cand, gasPrice, block)); err != nil {
			var violation *risk.GuardViolation
			if errors.As(err, &violation) {
				o.logger.Info().Str("buy", cand.BuyVenue).Str("sell", cand.SellVenue).
					Str("check", violation.Check).Str("detail", violation.Detail).Msg("candidate rejected by guard")
				observability.RecordCandidateRejected(violation.Check)
			}
			continue
		}

		winners = append(winners, fresh)
	}
	return winners
}

// routeFor builds the candidate's two-leg simulation route from the
// cycle's fresh venue quotes. Returns nil when a venue or its quote is
// missing, which the caller treats as a failed simulation.
func (o *Orchestrator) routeFor(cand domain.Candidate, quotes map[string]*domain.Quote) []sim.Leg {
	buyVenue, ok := o.strategy.VenueByName(cand.BuyVenue)
	if !ok {
		return nil
	}
	sellVenue, ok := o.strategy.VenueByName(cand.SellVenue)
	if !ok {
		return nil
	}
	buy, ok := quotes[cand.BuyVenue]
	if !ok {
		return nil
	}
	sell, ok := quotes[cand.SellVenue]
	if !ok {
		return nil
	}

	return sim.RouteLegs(sim.RouteParams{
		Buy:         buy,
		Sell:        sell,
		BuyFeeBps:   buyVenue.FeeBps,
		SellFeeBps:  sellVenue.FeeBps,
		AmountIn:    o.strategy.AmountIn,
		SlippageBps: o.strategy.SlippageBps,
	})
}

// guardContext snapshots the guard inputs for one candidate. Reserves come
// from the first constant-product leg; concentrated pools do not expose
// reserves, so a route without a constant-product leg passes the liquidity
// floor by construction. Drift is measured against the older leg state.
func (o *Orchestrator) guardContext(cand domain.Candidate, gasPrice *big.Int, block uint64) domain.GuardContext {
	gctx := domain.GuardContext{
		GasPrice:         gasPrice,
		MaxGasPrice:      o.strategy.MaxGasPrice,
		Reserve0:         o.strategy.MinLiquidity,
		Reserve1:         o.strategy.MinLiquidity,
		MinLiquidity:     o.strategy.MinLiquidity,
		ObservedBlock:    block,
		CurrentBlock:     block,
		MaxBlockTagDrift: o.strategy.MaxBlockTagDrift,
	}

	reservesSet := false
	for _, name := range []string{cand.BuyVenue, cand.SellVenue} {
		venue, ok := o.strategy.VenueByName(name)
		if !ok {
			continue
		}
		st, ok := o.states.Get(venue.Address)
		if !ok {
			continue
		}
		if st.Block < gctx.ObservedBlock {
			gctx.ObservedBlock = st.Block
		}
		if !reservesSet && st.Kind == domain.VenueKindConstantProduct {
			gctx.Reserve0 = st.Reserve0
			gctx.Reserve1 = st.Reserve1
			reservesSet = true
		}
	}
	return gctx
}

// actOn records every winner and submits the most profitable one. The
// execution record is linked to the best winner's own candidate record; if
// that insert failed there is nothing to link, so nothing is submitted.
func (o *Orchestrator) actOn(ctx context.Context, winners []domain.Candidate, quotes map[string]*domain.Quote, gasUsd decimal.Decimal, block uint64) {
	sort.Slice(winners, func(i, j int) bool {
		return winners[i].ProfitUsd.GreaterThan(winners[j].ProfitUsd)
	})

	var bestRec *domain.CandidateRecord
	for i, w := range winners {
		rec := &domain.CandidateRecord{
			ID:          uuid.NewString(),
			BlockNumber: block,
			BuyVenue:    w.BuyVenue,
			SellVenue:   w.SellVenue,
			ProfitUsd:   w.ProfitUsd,
			CreatedAt:   time.Now().UTC(),
		}
		if err := o.candidates.Insert(ctx, rec); err != nil {
			o.logger.Error().Str("id", rec.ID).Err(err).Msg("candidate record insert failed")
			continue
		}
		if i == 0 {
			bestRec = rec
		}
	}
	if bestRec == nil || o.planner == nil || o.executor == nil {
		return
	}

	best := winners[0]
	plan := o.buildPlan(best, quotes, gasUsd)
	if plan == nil {
		o.logger.Info().Str("buy", best.BuyVenue).Str("sell", best.SellVenue).Msg("plan unprofitable at fresh prices, not submitting")
		return
	}

	params, err := o.planner.Plan(ctx, best)
	if err != nil {
		o.logger.Error().Str("buy", best.BuyVenue).Str("sell", best.SellVenue).Err(err).Msg("trade planning failed")
		return
	}

	o.logger.Info().Str("buy", best.BuyVenue).Str("sell", best.SellVenue).
		Str("expected_profit_usd", plan.ExpectedProfit.String()).Msg("submitting trade")

	result := o.executor.Execute(ctx, params)
	rec := &domain.ExecutionRecord{
		ID:          uuid.NewString(),
		CandidateID: bestRec.ID,
		OK:          result.OK,
		Error:       result.Error,
		CreatedAt:   time.Now().UTC(),
	}
	if result.OK {
		rec.TxHash = result.TxHash.Hex()
	}
	if err := o.executions.Insert(ctx, rec); err != nil {
		o.logger.Error().Str("id", rec.ID).Err(err).Msg("execution record insert failed")
	}
}

// buildPlan prices the candidate's two-leg strategy in USD terms at the
// cycle's fresh quotes. Returns nil when the gross spread no longer covers
// gas.
func (o *Orchestrator) buildPlan(cand domain.Candidate, quotes map[string]*domain.Quote, gasUsd decimal.Decimal) *arb.Strategy {
	buy, ok := quotes[cand.BuyVenue]
	if !ok {
		return nil
	}
	sell, ok := quotes[cand.SellVenue]
	if !ok {
		return nil
	}

	usd := func(price *big.Int) decimal.Decimal {
		return fixedpoint.ToDecimal(fixedpoint.Mul(price, o.strategy.Token1.PriceUsd))
	}
	amount := decimal.NewFromBigInt(o.strategy.AmountIn, -int32(o.strategy.Token0.Decimals))

	return arb.BuildStrategy(arb.BuildStrategyParams{
		BuyVenue:  cand.BuyVenue,
		SellVenue: cand.SellVenue,
		BuyPrice:  usd(buy.NormalizedPrice()),
		SellPrice: usd(sell.NormalizedPrice()),
		Amount:    amount,
		GasUsd:    gasUsd,
	})
}

// persistQuotes appends the cycle's quote points to history. Duplicate
// (venue, block) points happen when heads repeat and are not an error.
func (o *Orchestrator) persistQuotes(ctx context.Context, points []*domain.QuotePoint) {
	if o.quotePoints == nil || len(points) == 0 {
		return
	}
	if err := o.quotePoints.InsertBulk(ctx, points); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return
		}
		o.logger.Error().Err(err).Msg("quote history insert failed")
	}
}
