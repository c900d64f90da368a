package stream

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"evm-arb-watcher/internal/bus"
	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/evm"
	"evm-arb-watcher/internal/observability"
)

// Conn is one WebSocket session. Implemented by evm.WSConn.
type Conn interface {
	SubscribeNewHeads(ctx context.Context) (<-chan evm.Head, error)
	SubscribeLogs(ctx context.Context, filter evm.LogsFilter) (<-chan types.Log, error)
	Done() <-chan struct{}
	Close() error
}

// Dialer opens a fresh session.
type Dialer func(ctx context.Context) (Conn, error)

// LogReader reads historical logs, used to close gaps after a session drop.
type LogReader interface {
	GetLogs(ctx context.Context, q evm.FilterQuery) ([]types.Log, error)
}

// Config tunes stream behavior.
type Config struct {
	// Shards is the number of log subscription shards.
	Shards int
	// MaxBackfillSpan caps how many blocks one gap backfill may cover.
	MaxBackfillSpan uint64
	// ReconnectDelay is the initial delay before a session rebuild.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the rebuild delay.
	MaxReconnectDelay time.Duration
}

// DefaultConfig returns default stream configuration.
func DefaultConfig() Config {
	return Config{
		Shards:            2,
		MaxBackfillSpan:   1000,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

// Stream runs the subscriptions and publishes everything it sees onto the
// bus. Sessions that drop are rebuilt indefinitely with exponential
// backoff; blocks missed in between are recovered with a bounded
// eth_getLogs query and redelivered through the same path as live logs.
type Stream struct {
	dial   Dialer
	reader LogReader
	bus    *bus.Bus
	shards [][]common.Address
	config Config
	logger zerolog.Logger

	// head is the latest block announced on newHeads, shared with shard
	// workers for bounding backfill.
	head atomic.Uint64
}

// New creates a Stream watching the given pool addresses.
func New(dial Dialer, reader LogReader, b *bus.Bus, addrs []common.Address, config Config, logger zerolog.Logger) *Stream {
	return &Stream{
		dial:   dial,
		reader: reader,
		bus:    b,
		shards: ShardAddresses(addrs, config.Shards),
		config: config,
		logger: logger.With().Str("component", "stream").Logger(),
	}
}

// logTopics is the topic filter shared by every shard.
var logTopics = [][]common.Hash{{evm.TopicV2Sync, evm.TopicV2Swap, evm.TopicV3Swap}}

// Run blocks until the context is cancelled, keeping the head
// subscription and every shard alive.
func (s *Stream) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runHeads(ctx)
	}()

	for i, addrs := range s.shards {
		wg.Add(1)
		go func(shard int, addrs []common.Address) {
			defer wg.Done()
			s.runShard(ctx, shard, addrs)
		}(i, addrs)
	}

	wg.Wait()
	return ctx.Err()
}

// runHeads keeps the newHeads subscription alive.
func (s *Stream) runHeads(ctx context.Context) {
	delay := s.config.ReconnectDelay
	for ctx.Err() == nil {
		ok := s.headSession(ctx)
		if ctx.Err() != nil {
			return
		}
		observability.RecordReconnect("heads")
		if ok {
			delay = s.config.ReconnectDelay
		}
		delay = s.sleep(ctx, delay)
	}
}

// headSession runs one newHeads session to completion. Returns true when
// at least one head was received, which resets the backoff.
func (s *Stream) headSession(ctx context.Context) bool {
	conn, err := s.dial(ctx)
	if err != nil {
		s.publishError("heads dial: " + err.Error())
		return false
	}
	defer conn.Close()

	heads, err := conn.SubscribeNewHeads(ctx)
	if err != nil {
		s.publishError("heads subscribe: " + err.Error())
		return false
	}

	received := false
	for {
		select {
		case <-ctx.Done():
			return received
		case <-conn.Done():
			s.publishError("heads session dropped")
			return received
		case head := <-heads:
			received = true
			number := uint64(head.Number)
			s.head.Store(number)
			observability.RecordBlock(number)
			s.bus.Publish(domain.Event{Type: domain.EventBlock, Block: number})
		}
	}
}

// runShard keeps one log subscription shard alive, backfilling the gap
// after every session rebuild.
func (s *Stream) runShard(ctx context.Context, shard int, addrs []common.Address) {
	logger := s.logger.With().Int("shard", shard).Logger()
	label := strconv.Itoa(shard)

	var lastBlock uint64
	delay := s.config.ReconnectDelay
	first := true
	for ctx.Err() == nil {
		if !first {
			observability.RecordReconnect(label)
			delay = s.sleep(ctx, delay)
			if ctx.Err() != nil {
				return
			}
		}
		first = false

		ok := s.shardSession(ctx, logger, addrs, &lastBlock)
		if ok {
			delay = s.config.ReconnectDelay
		}
	}
}

// shardSession runs one log session. It backfills from the last block the
// shard delivered before subscribing anew, then consumes live logs until
// the transport drops. Returns true when the session made progress.
func (s *Stream) shardSession(ctx context.Context, logger zerolog.Logger, addrs []common.Address, lastBlock *uint64) bool {
	conn, err := s.dial(ctx)
	if err != nil {
		s.publishError("shard dial: " + err.Error())
		return false
	}
	defer conn.Close()

	logs, err := conn.SubscribeLogs(ctx, evm.LogsFilter{Addresses: addrs, Topics: logTopics})
	if err != nil {
		s.publishError("shard subscribe: " + err.Error())
		return false
	}

	// The subscription is live; anything between the last delivered block
	// and the current head arrived while we were away.
	s.backfill(ctx, logger, addrs, lastBlock)

	progressed := true
	for {
		select {
		case <-ctx.Done():
			return progressed
		case <-conn.Done():
			s.publishError("shard session dropped")
			return progressed
		case lg := <-logs:
			if lg.BlockNumber > *lastBlock {
				*lastBlock = lg.BlockNumber
			}
			s.publishLog(lg)
		}
	}
}

// backfill recovers logs missed between lastBlock and the current head,
// bounded by MaxBackfillSpan. Recovered logs flow through the same
// publish path as live ones, so consumers cannot tell them apart.
func (s *Stream) backfill(ctx context.Context, logger zerolog.Logger, addrs []common.Address, lastBlock *uint64) {
	head := s.head.Load()
	if *lastBlock == 0 || head <= *lastBlock {
		return
	}

	from := *lastBlock + 1
	if span := head - *lastBlock; span > s.config.MaxBackfillSpan {
		from = head - s.config.MaxBackfillSpan + 1
		logger.Warn().
			Uint64("missed", span).
			Uint64("span", s.config.MaxBackfillSpan).
			Msg("gap exceeds backfill span, older logs skipped")
	}

	recovered, err := s.reader.GetLogs(ctx, evm.FilterQuery{
		FromBlock: from,
		ToBlock:   head,
		Addresses: addrs,
		Topics:    logTopics,
	})
	if err != nil {
		logger.Error().Err(err).Uint64("from", from).Uint64("to", head).Msg("gap backfill failed")
		s.publishError("backfill: " + err.Error())
		return
	}

	observability.RecordBackfill(len(recovered))
	logger.Info().Int("logs", len(recovered)).Uint64("from", from).Uint64("to", head).Msg("gap backfilled")
	for _, lg := range recovered {
		if lg.BlockNumber > *lastBlock {
			*lastBlock = lg.BlockNumber
		}
		s.publishLog(lg)
	}
}

// publishLog classifies a pool log by its first topic and publishes it.
func (s *Stream) publishLog(lg types.Log) {
	var typ domain.EventType
	switch {
	case evm.LogTopicMatches(lg.Topics, evm.TopicV2Sync):
		typ = domain.EventV2Sync
	case evm.LogTopicMatches(lg.Topics, evm.TopicV2Swap):
		typ = domain.EventV2Swap
	case evm.LogTopicMatches(lg.Topics, evm.TopicV3Swap):
		typ = domain.EventV3Swap
	default:
		return
	}

	observability.RecordLog(string(typ))
	s.bus.Publish(domain.Event{Type: typ, Block: lg.BlockNumber, Logs: []types.Log{lg}})
}

func (s *Stream) publishError(msg string) {
	s.logger.Warn().Msg(msg)
	s.bus.Publish(domain.Event{Type: domain.EventWSError, Message: msg})
}

// sleep waits for the current backoff delay and returns the next one.
func (s *Stream) sleep(ctx context.Context, delay time.Duration) time.Duration {
	select {
	case <-ctx.Done():
		return delay
	case <-time.After(delay):
	}
	next := delay * 2
	if next > s.config.MaxReconnectDelay {
		next = s.config.MaxReconnectDelay
	}
	return next
}
