package chain

import (
	"fmt"
	"time"
)

// Chain identifies a supported blockchain network.
type Chain string

const (
	Mainnet  Chain = "MAINNET"
	Optimism Chain = "OPTIMISM"
	Fantom   Chain = "FANTOM"
	Sonic    Chain = "SONIC"
	Base     Chain = "BASE"
)

// Category names a sync watermark bucket. Each (chain, category) pair owns one
// watermark row and is the unit of incremental synchronization.
type Category string

const (
	CategoryPoolSnapshots     Category = "POOL_SNAPSHOTS"
	CategoryBptBalances       Category = "BPT_BALANCES"
	CategoryStakedBptBalances Category = "STAKED_BPT_BALANCES"
	CategoryPoolOnchainData   Category = "POOL_ONCHAIN_DATA"
)

// Config carries everything a sync pass needs to know about one network.
// It is passed explicitly into every orchestrator call; there is no ambient
// per-request network singleton.
type Config struct {
	Chain            Chain
	ChainID          uint64
	SubgraphURL      string
	RPCURL           string
	MulticallAddress string
	// MaxLogBlockRange is the provider-imposed limit on eth_getLogs ranges.
	MaxLogBlockRange uint64
	// SubgraphLagThreshold is the max tolerated distance between the chain head
	// and the subgraph's indexed block before the RPC fallback kicks in.
	SubgraphLagThreshold uint64
	// ReorgMargin is the trailing window re-read on every incremental balance
	// sync to hedge against subgraph re-orgs and late indexing.
	ReorgMargin      uint64
	NativeAssetPrice string
	BlockTime        time.Duration
}

// Registry holds the static per-chain configuration.
type Registry struct {
	configs map[Chain]Config
}

// NewRegistry builds a registry from the provided configs.
func NewRegistry(configs ...Config) *Registry {
	r := &Registry{configs: make(map[Chain]Config, len(configs))}
	for _, c := range configs {
		r.configs[c.Chain] = c
	}
	return r
}

// Get returns the config for a chain or an error for unknown chains.
func (r *Registry) Get(c Chain) (Config, error) {
	cfg, ok := r.configs[c]
	if !ok {
		return Config{}, fmt.Errorf("unknown chain %q", c)
	}
	return cfg, nil
}

// All returns every registered config.
func (r *Registry) All() []Config {
	out := make([]Config, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	return out
}

// Parse validates a chain string from an API argument or header.
func Parse(s string) (Chain, error) {
	switch Chain(s) {
	case Mainnet, Optimism, Fantom, Sonic, Base:
		return Chain(s), nil
	}
	return "", fmt.Errorf("unknown chain %q", s)
}
