package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-arb-watcher/internal/bus"
	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/fixedpoint"
	"evm-arb-watcher/internal/poolstate"
	"evm-arb-watcher/internal/quote"
	"evm-arb-watcher/internal/storage/memory"
)

var (
	poolA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	poolB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	poolC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

type fakeRefresher struct {
	mu    sync.Mutex
	calls [][]common.Address
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, addrs []common.Address, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, addrs)
	return f.err
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeFees struct {
	price *big.Int
}

func (f *fakeFees) GasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.price), nil
}

type fakePlanner struct {
	mu      sync.Mutex
	planned []domain.Candidate
}

func (f *fakePlanner) Plan(_ context.Context, cand domain.Candidate) (domain.ExecParams, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planned = append(f.planned, cand)
	return domain.ExecParams{Deadline: time.Now().Add(time.Minute).Unix()}, nil
}

type fakeExecutor struct {
	mu     sync.Mutex
	count  int
	result domain.ExecResult
}

func (f *fakeExecutor) Execute(context.Context, domain.ExecParams) domain.ExecResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return f.result
}

// testStrategy watches two zero-fee constant-product venues over a pair with
// zero-decimal tokens so the expected numbers stay round.
func testStrategy() *domain.StrategyCtx {
	return &domain.StrategyCtx{
		ChainID: 1,
		Venues: []domain.VenueConfig{
			{Name: "univ2a", Kind: domain.VenueKindConstantProduct, Address: poolA},
			{Name: "univ2b", Kind: domain.VenueKindConstantProduct, Address: poolB},
		},
		Token0:           domain.TokenInfo{Decimals: 0},
		Token1:           domain.TokenInfo{Decimals: 0, PriceUsd: fixedpoint.ToQ96(big.NewInt(1))},
		AmountIn:         big.NewInt(1_000_000),
		SlippageBps:      100,
		GasUnits:         100_000,
		EthUsd:           decimal.NewFromInt(2000),
		MinProfitUsd:     decimal.NewFromInt(1),
		MaxGasPrice:      big.NewInt(100_000_000_000),
		MinLiquidity:     big.NewInt(10),
		MaxBlockTagDrift: 5,
	}
}

type setup struct {
	bus        *bus.Bus
	states     *poolstate.Store
	refresher  *fakeRefresher
	planner    *fakePlanner
	executor   *fakeExecutor
	candidates *memory.CandidateStore
	executions *memory.ExecutionStore
	points     *memory.QuotePointStore
	events     <-chan domain.Event
	cancel     context.CancelFunc
	done       chan error
}

func startOrchestrator(t *testing.T, mutate func(*Options)) *setup {
	t.Helper()

	s := &setup{
		bus:        bus.New(),
		states:     poolstate.NewStore(),
		refresher:  &fakeRefresher{},
		planner:    &fakePlanner{},
		executor:   &fakeExecutor{result: domain.ExecResult{OK: true, TxHash: common.HexToHash("0xabc")}},
		candidates: memory.NewCandidateStore(),
		executions: memory.NewExecutionStore(),
		points:     memory.NewQuotePointStore(),
		done:       make(chan error, 1),
	}

	// poolA quotes 1.0, poolB quotes 2.0: buy at A, sell at B is profitable.
	// Reserves are deep enough that the trade amount moves either execution
	// price by roughly 10 bps, inside the 100 bps slippage budget.
	s.states.Apply(poolA, domain.PoolState{
		Kind:     domain.VenueKindConstantProduct,
		Reserve0: big.NewInt(1_000_000_000),
		Reserve1: big.NewInt(1_000_000_000),
		Block:    41,
	})
	s.states.Apply(poolB, domain.PoolState{
		Kind:     domain.VenueKindConstantProduct,
		Reserve0: big.NewInt(1_000_000_000),
		Reserve1: big.NewInt(2_000_000_000),
		Block:    41,
	})

	strategy := testStrategy()
	opts := Options{
		Bus:         s.bus,
		States:      s.states,
		Refresher:   s.refresher,
		Quoter:      quote.NewQuoter(s.states),
		Fees:        &fakeFees{price: big.NewInt(1_000_000_000)},
		Strategy:    strategy,
		Planner:     s.planner,
		Executor:    s.executor,
		Candidates:  s.candidates,
		Executions:  s.executions,
		QuotePoints: s.points,
		Logger:      zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	events, cancelSub := s.bus.Subscribe()
	s.events = events

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	orch := New(opts)
	go func() {
		s.done <- orch.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-s.done
		cancelSub()
		s.bus.Close()
	})
	return s
}

// awaitEvent drains the subscription until an event of the wanted type shows
// up or the timeout expires.
func awaitEvent(t *testing.T, events <-chan domain.Event, want domain.EventType, timeout time.Duration) (domain.Event, bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev, true
			}
		case <-deadline:
			return domain.Event{}, false
		}
	}
}

func syncLog(addr common.Address) domain.Event {
	return domain.Event{Type: domain.EventV2Sync, Logs: []types.Log{{Address: addr}}}
}

func TestRunMarksTouchedPools(t *testing.T) {
	s := startOrchestrator(t, nil)

	s.bus.Publish(syncLog(poolA))

	require.Eventually(t, func() bool {
		return s.states.TouchedCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCycleFindsAndExecutesCandidate(t *testing.T) {
	s := startOrchestrator(t, nil)
	ctx := context.Background()

	s.bus.Publish(syncLog(poolA))
	require.Eventually(t, func() bool { return s.states.TouchedCount() == 1 }, time.Second, 5*time.Millisecond)

	s.bus.Publish(domain.Event{Type: domain.EventBlock, Block: 42})

	ev, ok := awaitEvent(t, s.events, domain.EventCandidates, 2*time.Second)
	require.True(t, ok, "expected a candidates event")
	assert.Equal(t, uint64(42), ev.Block)
	require.Len(t, ev.Candidates, 1, "only the profitable direction survives")
	assert.Equal(t, "univ2a", ev.Candidates[0].BuyVenue)
	assert.Equal(t, "univ2b", ev.Candidates[0].SellVenue)
	// (2.0*0.99 - 1.0*1.01) * 1e6 = $970,000 gross, minus $0.20 of gas.
	assert.InDelta(t, 969_999.8, ev.Candidates[0].ProfitUsd.InexactFloat64(), 0.5)

	require.Eventually(t, func() bool {
		recs, err := s.candidates.GetByBlockRange(ctx, 42, 42)
		return err == nil && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	recs, err := s.candidates.GetByBlockRange(ctx, 42, 42)
	require.NoError(t, err)
	assert.Equal(t, "univ2a", recs[0].BuyVenue)
	assert.NotEmpty(t, recs[0].ID)

	require.Eventually(t, func() bool {
		execs, err := s.executions.GetByCandidateID(ctx, recs[0].ID)
		return err == nil && len(execs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	execs, err := s.executions.GetByCandidateID(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.True(t, execs[0].OK)
	assert.Equal(t, common.HexToHash("0xabc").Hex(), execs[0].TxHash)

	// Touched pool was refreshed at the announced block.
	s.refresher.mu.Lock()
	defer s.refresher.mu.Unlock()
	require.Len(t, s.refresher.calls, 1)
	assert.Equal(t, []common.Address{poolA}, s.refresher.calls[0])
}

func TestCyclePersistsQuoteHistory(t *testing.T) {
	s := startOrchestrator(t, nil)
	ctx := context.Background()

	s.bus.Publish(domain.Event{Type: domain.EventBlock, Block: 50})

	require.Eventually(t, func() bool {
		pts, err := s.points.GetByVenue(ctx, "univ2a")
		return err == nil && len(pts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	pts, err := s.points.GetByVenue(ctx, "univ2b")
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, uint64(50), pts[0].BlockNumber)
	assert.InDelta(t, 2.0, pts[0].Price, 0.01)
	assert.Equal(t, poolB, pts[0].Address)
}

func TestCycleSkipsOnRefreshFailure(t *testing.T) {
	s := startOrchestrator(t, func(opts *Options) {
		opts.Refresher.(*fakeRefresher).err = errors.New("rpc down")
	})

	s.bus.Publish(syncLog(poolA))
	require.Eventually(t, func() bool { return s.states.TouchedCount() == 1 }, time.Second, 5*time.Millisecond)

	s.bus.Publish(domain.Event{Type: domain.EventBlock, Block: 42})

	require.Eventually(t, func() bool { return s.refresher.callCount() == 1 }, time.Second, 5*time.Millisecond)

	_, ok := awaitEvent(t, s.events, domain.EventCandidates, 200*time.Millisecond)
	assert.False(t, ok, "failed refresh must skip the cycle")

	recs, err := s.candidates.GetByBlockRange(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCycleRejectsOnGasGuard(t *testing.T) {
	s := startOrchestrator(t, func(opts *Options) {
		// Gas price (1 gwei) exceeds this ceiling, so every candidate fails
		// the gas guard.
		opts.Strategy.MaxGasPrice = big.NewInt(1)
	})

	s.bus.Publish(domain.Event{Type: domain.EventBlock, Block: 42})

	_, ok := awaitEvent(t, s.events, domain.EventCandidates, 300*time.Millisecond)
	assert.False(t, ok, "guarded candidates must not be published")

	recs, err := s.candidates.GetByBlockRange(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCycleRejectsOnSwapSimulation(t *testing.T) {
	s := startOrchestrator(t, nil)

	// Drain the sell pool: its quote still reads 2.0 but the trade amount
	// dwarfs the reserves, so the simulated execution price collapses.
	s.states.Apply(poolB, domain.PoolState{
		Kind:     domain.VenueKindConstantProduct,
		Reserve0: big.NewInt(20_000),
		Reserve1: big.NewInt(40_000),
		Block:    41,
	})

	s.bus.Publish(domain.Event{Type: domain.EventBlock, Block: 42})

	_, ok := awaitEvent(t, s.events, domain.EventCandidates, 300*time.Millisecond)
	assert.False(t, ok, "simulated candidates past slippage must not be published")

	recs, err := s.candidates.GetByBlockRange(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// flakyCandidateStore refuses the first n inserts, then delegates.
type flakyCandidateStore struct {
	*memory.CandidateStore
	mu    sync.Mutex
	fails int
}

func (f *flakyCandidateStore) Insert(ctx context.Context, rec *domain.CandidateRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("insert refused")
	}
	return f.CandidateStore.Insert(ctx, rec)
}

func TestCycleSkipsExecutionWhenBestInsertFails(t *testing.T) {
	// Three venues produce three winners; the most profitable one (buy A,
	// sell B) fails to persist. The trade must not go out linked to another
	// candidate's record.
	flaky := &flakyCandidateStore{CandidateStore: memory.NewCandidateStore(), fails: 1}
	s := startOrchestrator(t, func(opts *Options) {
		opts.Strategy.Venues = append(opts.Strategy.Venues,
			domain.VenueConfig{Name: "univ2c", Kind: domain.VenueKindConstantProduct, Address: poolC})
		opts.Candidates = flaky
	})
	s.states.Apply(poolC, domain.PoolState{
		Kind:     domain.VenueKindConstantProduct,
		Reserve0: big.NewInt(1_000_000_000),
		Reserve1: big.NewInt(1_500_000_000),
		Block:    41,
	})
	ctx := context.Background()

	s.bus.Publish(domain.Event{Type: domain.EventBlock, Block: 42})

	ev, ok := awaitEvent(t, s.events, domain.EventCandidates, 2*time.Second)
	require.True(t, ok)
	require.Len(t, ev.Candidates, 3)

	require.Eventually(t, func() bool {
		recs, err := flaky.GetByBlockRange(ctx, 42, 42)
		return err == nil && len(recs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	recs, err := flaky.GetByBlockRange(ctx, 42, 42)
	require.NoError(t, err)
	for _, rec := range recs {
		assert.False(t, rec.BuyVenue == "univ2a" && rec.SellVenue == "univ2b",
			"the refused best candidate must not reappear")
	}

	s.executor.mu.Lock()
	defer s.executor.mu.Unlock()
	assert.Zero(t, s.executor.count, "no submission without the best winner's own record")
}

func TestCycleWatchOnlyWithoutExecutor(t *testing.T) {
	s := startOrchestrator(t, func(opts *Options) {
		opts.Planner = nil
		opts.Executor = nil
	})
	ctx := context.Background()

	s.bus.Publish(domain.Event{Type: domain.EventBlock, Block: 42})

	_, ok := awaitEvent(t, s.events, domain.EventCandidates, 2*time.Second)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		recs, err := s.candidates.GetByBlockRange(ctx, 42, 42)
		return err == nil && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	recs, _ := s.candidates.GetByBlockRange(ctx, 42, 42)
	execs, err := s.executions.GetByCandidateID(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, execs, "watch-only mode never submits")

	s.executor.mu.Lock()
	defer s.executor.mu.Unlock()
	assert.Zero(t, s.executor.count)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := startOrchestrator(t, nil)

	s.cancel()
	select {
	case err := <-s.done:
		assert.ErrorIs(t, err, context.Canceled)
		s.done <- nil
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop on cancel")
	}
}
