package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Event topic hashes for the pool event types the watcher consumes.
var (
	TopicV2Sync = crypto.Keccak256Hash([]byte("Sync(uint112,uint112)"))
	TopicV2Swap = crypto.Keccak256Hash([]byte("Swap(address,address,uint256,uint256,uint256,uint256,address)"))
	TopicV3Swap = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
)

const pairABI = `[
{"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"reserve0","type":"uint112"},{"internalType":"uint112","name":"reserve1","type":"uint112"},{"internalType":"uint32","name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"}
]`

const poolABI = `[
{"inputs":[],"name":"slot0","outputs":[{"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},{"internalType":"int24","name":"tick","type":"int24"},{"internalType":"uint16","name":"observationIndex","type":"uint16"},{"internalType":"uint16","name":"observationCardinality","type":"uint16"},{"internalType":"uint16","name":"observationCardinalityNext","type":"uint16"},{"internalType":"uint8","name":"feeProtocol","type":"uint8"},{"internalType":"bool","name":"unlocked","type":"bool"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"fee","outputs":[{"internalType":"uint24","name":"","type":"uint24"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"liquidity","outputs":[{"internalType":"uint128","name":"","type":"uint128"}],"stateMutability":"view","type":"function"}
]`

var (
	pairContract = mustParseABI(pairABI)
	poolContract = mustParseABI(poolABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// PackGetReserves builds the getReserves() calldata for a constant-product pair.
func PackGetReserves() []byte {
	data, err := pairContract.Pack("getReserves")
	if err != nil {
		panic(err)
	}
	return data
}

// Reserves is the decoded pair state.
type Reserves struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// UnpackGetReserves decodes a getReserves() return.
func UnpackGetReserves(data []byte) (Reserves, error) {
	out, err := pairContract.Unpack("getReserves", data)
	if err != nil {
		return Reserves{}, fmt.Errorf("unpack getReserves: %w", err)
	}
	return Reserves{
		Reserve0: out[0].(*big.Int),
		Reserve1: out[1].(*big.Int),
	}, nil
}

// PackSlot0 builds the slot0() calldata for a concentrated-liquidity pool.
func PackSlot0() []byte {
	data, err := poolContract.Pack("slot0")
	if err != nil {
		panic(err)
	}
	return data
}

// Slot0 is the decoded pool price state.
type Slot0 struct {
	SqrtPriceX96 *big.Int
	Tick         int32
}

// UnpackSlot0 decodes a slot0() return.
func UnpackSlot0(data []byte) (Slot0, error) {
	out, err := poolContract.Unpack("slot0", data)
	if err != nil {
		return Slot0{}, fmt.Errorf("unpack slot0: %w", err)
	}
	return Slot0{
		SqrtPriceX96: out[0].(*big.Int),
		Tick:         int32(out[1].(*big.Int).Int64()),
	}, nil
}

// PackFee builds the fee() calldata for a concentrated-liquidity pool.
func PackFee() []byte {
	data, err := poolContract.Pack("fee")
	if err != nil {
		panic(err)
	}
	return data
}

// UnpackFee decodes a fee() return, in parts-per-million.
func UnpackFee(data []byte) (uint32, error) {
	out, err := poolContract.Unpack("fee", data)
	if err != nil {
		return 0, fmt.Errorf("unpack fee: %w", err)
	}
	return uint32(out[0].(*big.Int).Uint64()), nil
}

// PairReservesReturn encodes a getReserves() return payload. Used to build
// fixtures and fake node responses.
func PairReservesReturn(reserve0, reserve1 *big.Int) ([]byte, error) {
	return pairContract.Methods["getReserves"].Outputs.Pack(reserve0, reserve1, uint32(0))
}

// PoolSlot0Return encodes a slot0() return payload.
func PoolSlot0Return(sqrtPriceX96 *big.Int, tick int32) ([]byte, error) {
	return poolContract.Methods["slot0"].Outputs.Pack(
		sqrtPriceX96, big.NewInt(int64(tick)), uint16(0), uint16(1), uint16(1), uint8(0), true)
}

// PoolFeeReturn encodes a fee() return payload.
func PoolFeeReturn(feePpm uint32) ([]byte, error) {
	return poolContract.Methods["fee"].Outputs.Pack(big.NewInt(int64(feePpm)))
}

// LogTopicMatches reports whether the first topic of a log equals the hash.
func LogTopicMatches(topics []common.Hash, want common.Hash) bool {
	return len(topics) > 0 && topics[0] == want
}
