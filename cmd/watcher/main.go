// Package main runs the live arbitrage watcher:
// - Stream (continuous): sharded WebSocket subscriptions, reconnect, backfill
// - Orchestrator (per block): refresh → quote → generate → filter → act
// - Metrics: Prometheus endpoint plus health check
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"evm-arb-watcher/internal/bus"
	"evm-arb-watcher/internal/config"
	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/evm"
	"evm-arb-watcher/internal/observability"
	"evm-arb-watcher/internal/orchestrator"
	"evm-arb-watcher/internal/poolstate"
	"evm-arb-watcher/internal/quote"
	"evm-arb-watcher/internal/relay"
	"evm-arb-watcher/internal/storage"
	chstore "evm-arb-watcher/internal/storage/clickhouse"
	"evm-arb-watcher/internal/storage/memory"
	"evm-arb-watcher/internal/storage/migrations"
	pgstore "evm-arb-watcher/internal/storage/postgres"
	"evm-arb-watcher/internal/stream"
)

// allStores holds the storage implementations the watcher writes to.
type allStores struct {
	candidates  storage.CandidateStore
	executions  storage.ExecutionStore
	quotePoints storage.QuotePointStore
}

func main() {
	// Load .env if present; system env vars win.
	_ = godotenv.Load()

	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("ETH_RPC_ENDPOINT"), "Ethereum JSON-RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("ETH_WS_ENDPOINT"), "Ethereum WebSocket endpoint")
	relayEndpoint := flag.String("relay-endpoint", os.Getenv("RELAY_ENDPOINT"), "Private transaction relay endpoint")
	configPath := flag.String("config", "watcher.yaml", "Path to the venue configuration file")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	execute := flag.Bool("execute", false, "Submit winning candidates through the relay (default: watch only)")
	shards := flag.Int("shards", stream.DefaultConfig().Shards, "Number of log subscription shards")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	if *rpcEndpoint == "" {
		logger.Fatal().Msg("--rpc-endpoint is required")
	}
	if *wsEndpoint == "" {
		logger.Fatal().Msg("--ws-endpoint is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal().Msg("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	strategy, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load configuration")
	}
	logger.Info().Int("venues", len(strategy.Venues)).Uint64("chain", strategy.ChainID).Msg("configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := evm.NewHTTPClient(*rpcEndpoint)
	if err := verifyChainID(ctx, client, strategy.ChainID); err != nil {
		logger.Fatal().Err(err).Msg("chain id check failed")
	}

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create stores")
	}
	defer cleanup()

	// Shared in-process state.
	events := bus.New()
	states := poolstate.NewStore()
	refresher := poolstate.NewRefresher(
		evm.NewMulticall(client), states, strategy.Venues,
		poolstate.DefaultRefresherConfig(), logger,
	)

	// The first block refreshes the whole universe.
	for _, v := range strategy.Venues {
		states.MarkTouched(v.Address)
	}

	planner, executor, err := buildExecution(*execute, *relayEndpoint, client, states, strategy, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up execution")
	}

	orch := orchestrator.New(orchestrator.Options{
		Bus:         events,
		States:      states,
		Refresher:   refresher,
		Quoter:      quote.NewQuoter(states),
		Fees:        client,
		Strategy:    strategy,
		Planner:     planner,
		Executor:    executor,
		Candidates:  stores.candidates,
		Executions:  stores.executions,
		QuotePoints: stores.quotePoints,
		Logger:      logger,
	})

	streamConfig := stream.DefaultConfig()
	streamConfig.Shards = *shards
	live := stream.New(
		func(ctx context.Context) (stream.Conn, error) {
			return evm.DialWS(ctx, *wsEndpoint, nil)
		},
		client, events, poolAddresses(strategy), streamConfig, logger,
	)

	// Shutdown on SIGINT/SIGTERM; a second signal forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		select {
		case <-sigCh:
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error().Msg("graceful shutdown timed out")
			os.Exit(1)
		}
	}()

	go serveMetrics(*metricsAddr, logger)

	errCh := make(chan error, 2)
	go func() {
		if err := live.Run(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("stream: %w", err)
		}
	}()
	go func() {
		if err := orch.Run(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("orchestrator: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("watcher failed")
		cancel()
	}
	events.Close()
	logger.Info().Msg("shutdown complete")
}

// verifyChainID refuses to start against the wrong network.
func verifyChainID(ctx context.Context, client *evm.HTTPClient, want uint64) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if chainID.Uint64() != want {
		return fmt.Errorf("endpoint serves chain %s, configuration expects %d", chainID, want)
	}
	return nil
}

// buildExecution wires the relay path when execution is enabled. Signing
// keys come from the environment only, never from flags.
func buildExecution(execute bool, endpoint string, client *evm.HTTPClient, states *poolstate.Store, strategy *domain.StrategyCtx, logger zerolog.Logger) (orchestrator.Planner, orchestrator.Executor, error) {
	if !execute {
		return nil, nil, nil
	}
	if endpoint == "" {
		return nil, nil, fmt.Errorf("--relay-endpoint is required with --execute")
	}

	txKey, err := crypto.HexToECDSA(os.Getenv("TX_PRIVATE_KEY"))
	if err != nil {
		return nil, nil, fmt.Errorf("TX_PRIVATE_KEY: %w", err)
	}
	authKey, err := crypto.HexToECDSA(os.Getenv("RELAY_AUTH_KEY"))
	if err != nil {
		return nil, nil, fmt.Errorf("RELAY_AUTH_KEY: %w", err)
	}

	chainID := new(big.Int).SetUint64(strategy.ChainID)
	executor := relay.New(relay.Config{Endpoint: endpoint}, chainID, txKey, authKey, logger)
	planner := relay.NewPlanner(client, states, strategy,
		crypto.PubkeyToAddress(txKey.PublicKey), relay.PlannerConfig{})
	return planner, executor, nil
}

// createStores creates the persistence layer, running migrations first.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			candidates:  memory.NewCandidateStore(),
			executions:  memory.NewExecutionStore(),
			quotePoints: memory.NewQuotePointStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		candidates:  pgstore.NewCandidateStore(pool),
		executions:  pgstore.NewExecutionStore(pool),
		quotePoints: chstore.NewQuotePointStore(chConn),
	}
	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// poolAddresses flattens the venue universe for the stream.
func poolAddresses(strategy *domain.StrategyCtx) []common.Address {
	addrs := make([]common.Address, 0, len(strategy.Venues))
	for _, v := range strategy.Venues {
		addrs = append(addrs, v.Address)
	}
	return addrs
}

// serveMetrics exposes /metrics and /health.
func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}
