package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/chain"
)

// Client is a direct RPC connection to one chain, used when the subgraph lags
// or for state the subgraph does not index.
type Client struct {
	eth           *ethclient.Client
	logger        *zap.Logger
	multicallAddr common.Address
	// maxLogRange is the provider-imposed eth_getLogs range limit.
	maxLogRange uint64
}

// Dial connects to the chain's RPC endpoint.
func Dial(ctx context.Context, logger *zap.Logger, cfg chain.Config) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", cfg.Chain, err)
	}

	return &Client{
		eth:           eth,
		logger:        logger.With(zap.String("chain", string(cfg.Chain))),
		multicallAddr: common.HexToAddress(cfg.MulticallAddress),
		maxLogRange:   cfg.MaxLogBlockRange,
	}, nil
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}

// MaxLogRange exposes the configured eth_getLogs range bound.
func (c *Client) MaxLogRange() uint64 {
	return c.maxLogRange
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}
