// Package relay submits trades through a private transaction relay with
// deadline and timeout protection.
package relay

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Canonical mainnet router deployments.
var (
	V2RouterAddress = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	V3RouterAddress = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
)

const routerABI = `[
{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"components":[{"internalType":"address","name":"tokenIn","type":"address"},{"internalType":"address","name":"tokenOut","type":"address"},{"internalType":"uint24","name":"fee","type":"uint24"},{"internalType":"address","name":"recipient","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"},{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMinimum","type":"uint256"},{"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],"internalType":"struct ISwapRouter.ExactInputSingleParams","name":"params","type":"tuple"}],"name":"exactInputSingle","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],"stateMutability":"payable","type":"function"}
]`

var routerContract = mustParseABI(routerABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// PackV2Swap encodes a swapExactTokensForTokens call.
func PackV2Swap(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline int64) ([]byte, error) {
	return routerContract.Pack("swapExactTokensForTokens",
		amountIn, amountOutMin, path, to, big.NewInt(deadline))
}

// ExactInputSingleParams mirrors the concentrated router's parameter tuple.
type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// PackV3ExactInputSingle encodes an exactInputSingle call.
func PackV3ExactInputSingle(p ExactInputSingleParams) ([]byte, error) {
	if p.SqrtPriceLimitX96 == nil {
		p.SqrtPriceLimitX96 = big.NewInt(0)
	}
	return routerContract.Pack("exactInputSingle", p)
}
