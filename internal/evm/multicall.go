package evm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Multicall3Address is the canonical deterministic deployment, identical on
// all major chains.
var Multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

const multicall3ABI = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

// Call is one target invocation inside an aggregated batch. AllowFailure
// lets the batch succeed while this entry reports failure individually.
type Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// CallResult is the per-entry outcome of an aggregated batch.
type CallResult struct {
	Success    bool
	ReturnData []byte
}

// ContractCaller is the read-only call capability Multicall needs.
type ContractCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Multicall batches many read-only contract calls into a single eth_call
// through the Multicall3 aggregator.
type Multicall struct {
	caller   ContractCaller
	address  common.Address
	contract abi.ABI
}

// NewMulticall creates a Multicall against the canonical aggregator address.
func NewMulticall(caller ContractCaller) *Multicall {
	parsed, err := abi.JSON(strings.NewReader(multicall3ABI))
	if err != nil {
		panic(fmt.Sprintf("multicall3 abi: %v", err))
	}
	return &Multicall{
		caller:   caller,
		address:  Multicall3Address,
		contract: parsed,
	}
}

// Aggregate executes the calls as one batch. The outer error covers the
// batch transport; per-call failures come back as CallResult.Success=false
// when the call was marked AllowFailure.
func (m *Multicall) Aggregate(ctx context.Context, calls []Call) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	input, err := m.contract.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate3: %w", err)
	}

	ret, err := m.caller.CallContract(ctx, m.address, input)
	if err != nil {
		return nil, fmt.Errorf("aggregate3 call: %w", err)
	}

	out, err := m.contract.Unpack("aggregate3", ret)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate3: %w", err)
	}
	results := *abi.ConvertType(out[0], new([]CallResult)).(*[]CallResult)
	if len(results) != len(calls) {
		return nil, fmt.Errorf("aggregate3 returned %d results for %d calls", len(results), len(calls))
	}
	return results, nil
}
