package evm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const multicall3ABI = `[{
	"inputs": [{
		"components": [
			{"name": "target", "type": "address"},
			{"name": "allowFailure", "type": "bool"},
			{"name": "callData", "type": "bytes"}
		],
		"name": "calls",
		"type": "tuple[]"
	}],
	"name": "aggregate3",
	"outputs": [{
		"components": [
			{"name": "success", "type": "bool"},
			{"name": "returnData", "type": "bytes"}
		],
		"name": "returnData",
		"type": "tuple[]"
	}],
	"stateMutability": "payable",
	"type": "function"
}]`

var multicallABI = mustParseABI(multicall3ABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Call is one read-only contract call within a multicall batch.
type Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Result is the outcome of one call in a batch. When the call was made with
// AllowFailure and reverted, Success is false and ReturnData empty.
type Result struct {
	Success    bool
	ReturnData []byte
}

// Multicall batches many read-only contract calls into one network round trip
// via Multicall3 aggregate3.
func (c *Client) Multicall(ctx context.Context, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	type mcCall struct {
		Target       common.Address
		AllowFailure bool
		CallData     []byte
	}
	packed := make([]mcCall, len(calls))
	for i, call := range calls {
		packed[i] = mcCall(call)
	}

	input, err := multicallABI.Pack("aggregate3", packed)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate3: %w", err)
	}

	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &c.multicallAddr,
		Data: input,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("multicall: %w", err)
	}

	var decoded []struct {
		Success    bool
		ReturnData []byte
	}
	if err := multicallABI.UnpackIntoInterface(&decoded, "aggregate3", raw); err != nil {
		return nil, fmt.Errorf("unpack aggregate3: %w", err)
	}

	results := make([]Result, len(decoded))
	for i, d := range decoded {
		results[i] = Result(d)
	}
	return results, nil
}
