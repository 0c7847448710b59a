package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc20ABIJSON = `[{
	"inputs": [{"name": "account", "type": "address"}],
	"name": "balanceOf",
	"outputs": [{"name": "", "type": "uint256"}],
	"stateMutability": "view",
	"type": "function"
}]`

var (
	erc20ABI = mustParseABI(erc20ABIJSON)

	// TransferTopic is keccak256("Transfer(address,address,uint256)").
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

// PackBalanceOf encodes a balanceOf(owner) call for use inside a multicall.
func PackBalanceOf(owner common.Address) ([]byte, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	return data, nil
}

// UnpackUint256 decodes a single uint256 return value.
func UnpackUint256(data []byte) (*big.Int, error) {
	if len(data) != 32 {
		return nil, fmt.Errorf("unexpected return length %d", len(data))
	}
	return new(big.Int).SetBytes(data), nil
}

// Transfer is one decoded ERC-20 Transfer event.
type Transfer struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
	Block uint64
}

// TransferLogs replays Transfer events for the given token contracts over
// [fromBlock, toBlock], splitting the range into chunks that respect the
// provider's eth_getLogs limit.
func (c *Client) TransferLogs(ctx context.Context, tokens []common.Address, fromBlock, toBlock uint64) ([]Transfer, error) {
	if fromBlock > toBlock {
		return nil, nil
	}

	var transfers []Transfer
	for start := fromBlock; start <= toBlock; start += c.maxLogRange {
		end := start + c.maxLogRange - 1
		if end > toBlock {
			end = toBlock
		}

		logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: tokens,
			Topics:    [][]common.Hash{{TransferTopic}},
		})
		if err != nil {
			return nil, fmt.Errorf("filter logs [%d, %d]: %w", start, end, err)
		}

		for _, l := range logs {
			t, ok := decodeTransfer(l)
			if !ok {
				continue
			}
			transfers = append(transfers, t)
		}
	}

	return transfers, nil
}

func decodeTransfer(l types.Log) (Transfer, bool) {
	// Indexed from and to plus the value word. ERC-721 Transfer shares the
	// signature but indexes the third topic; skip those.
	if len(l.Topics) != 3 || len(l.Data) != 32 {
		return Transfer{}, false
	}
	return Transfer{
		Token: l.Address,
		From:  common.BytesToAddress(l.Topics[1].Bytes()),
		To:    common.BytesToAddress(l.Topics[2].Bytes()),
		Value: new(big.Int).SetBytes(l.Data),
		Block: l.BlockNumber,
	}, true
}
