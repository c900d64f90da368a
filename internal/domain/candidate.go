package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Candidate is one profitable buy/sell pairing across two venues.
// Ephemeral: recomputed every cycle, only constructed when the expected
// profit clears the configured minimum.
type Candidate struct {
	BuyVenue  string
	SellVenue string
	ProfitUsd decimal.Decimal
}

// SimResult is the outcome of simulating one swap leg or a whole route.
// OK is false whenever liquidity is zero, the slippage tolerance is
// exceeded, or the expected profit is non-positive.
type SimResult struct {
	OK bool
	// ExpectedProfit is denominated in output-token terms.
	ExpectedProfit decimal.Decimal
}

// GuardContext is the input snapshot for the pre-trade risk checks.
type GuardContext struct {
	GasPrice    *big.Int // wei
	MaxGasPrice *big.Int // wei

	Reserve0     *big.Int
	Reserve1     *big.Int
	MinLiquidity *big.Int

	ObservedBlock    uint64
	CurrentBlock     uint64
	MaxBlockTagDrift uint64
}

// ExecParams describes a trade to submit through the private relay.
type ExecParams struct {
	RouteCalldata        []byte
	To                   common.Address
	Nonce                uint64
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	// Deadline is a unix timestamp; submission is refused once it has passed.
	Deadline int64
}

// ExecResult is the structured outcome of a relay submission. Failures are
// returned here, never raised past the relay boundary.
type ExecResult struct {
	OK     bool
	TxHash common.Hash
	Error  string
}

// CandidateRecord is a persisted winning candidate for audit and reporting.
type CandidateRecord struct {
	ID          string
	BlockNumber uint64
	BuyVenue    string
	SellVenue   string
	ProfitUsd   decimal.Decimal
	CreatedAt   time.Time
}

// ExecutionRecord is a persisted relay submission outcome.
type ExecutionRecord struct {
	ID          string
	CandidateID string
	TxHash      string
	OK          bool
	Error       string
	CreatedAt   time.Time
}

// QuotePoint is one per-block normalized price observation for a venue.
type QuotePoint struct {
	Venue       string
	Address     common.Address
	BlockNumber uint64
	Price       float64
	TimestampMs int64
}
