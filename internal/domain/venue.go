package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// VenueKind identifies the AMM curve a venue uses.
type VenueKind string

const (
	// VenueKindConstantProduct is a Uniswap V2-style x*y=k pair.
	VenueKindConstantProduct VenueKind = "v2"
	// VenueKindConcentrated is a Uniswap V3-style concentrated-liquidity pool.
	VenueKindConcentrated VenueKind = "v3"
)

// VenueConfig describes one liquidity venue to watch. Immutable after startup.
type VenueConfig struct {
	Name    string
	Kind    VenueKind
	Address common.Address
	// FeeBps is the swap fee in basis points for constant-product venues.
	// Concentrated venues report their fee (in ppm) from pool state instead.
	FeeBps uint32
}

// TokenInfo describes one side of the traded pair. Immutable per run.
type TokenInfo struct {
	Address  common.Address
	Decimals uint8
	// PriceUsd is the USD price per whole token as a Q64.96 fixed-point value.
	PriceUsd *big.Int
}

// StrategyCtx is the normalized, validated run configuration. It is built
// once at startup from schema-checked external input and read-only afterwards.
type StrategyCtx struct {
	ChainID      uint64
	Venues       []VenueConfig
	Token0       TokenInfo
	Token1       TokenInfo
	AmountIn     *big.Int // token0 smallest units
	SlippageBps  uint32
	GasUnits     uint64
	EthUsd       decimal.Decimal
	MinProfitUsd decimal.Decimal

	// Pre-trade guard limits.
	MaxGasPrice      *big.Int // wei
	MinLiquidity     *big.Int // smallest units, applies to both reserves
	MaxBlockTagDrift uint64   // blocks
}

// VenueByName returns the venue with the given name, or false when absent.
func (s *StrategyCtx) VenueByName(name string) (VenueConfig, bool) {
	for _, v := range s.Venues {
		if v.Name == name {
			return v, true
		}
	}
	return VenueConfig{}, false
}

// PoolAddresses returns the watched pool addresses for one venue kind.
func (s *StrategyCtx) PoolAddresses(kind VenueKind) []common.Address {
	var out []common.Address
	for _, v := range s.Venues {
		if v.Kind == kind {
			out = append(out, v.Address)
		}
	}
	return out
}
