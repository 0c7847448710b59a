package models

import "github.com/beetslabs/poolsync/pkg/chain"

// PoolType discriminates the math/decoding variant of a pool.
type PoolType string

const (
	PoolTypeWeighted      PoolType = "WEIGHTED"
	PoolTypeStable        PoolType = "STABLE"
	PoolTypeMetaStable    PoolType = "META_STABLE"
	PoolTypeLinear        PoolType = "LINEAR"
	PoolTypePhantomStable PoolType = "PHANTOM_STABLE"
)

// Pool is the immutable identity of a pool. Mutable on-chain fields live on
// PoolDynamicData, owned exclusively by the pool state syncer.
type Pool struct {
	ID      string      `json:"id"`
	Chain   chain.Chain `json:"chain"`
	Address string      `json:"address"`
	Type    PoolType    `json:"type"`
	// ShareTokenAddress is the BPT address; for most pool types it equals the
	// pool address.
	ShareTokenAddress string `json:"shareTokenAddress"`
	Name              string `json:"name"`
	Symbol            string `json:"symbol"`
	// WrappedIndex is the token slot holding the wrapped (yield-bearing) token
	// of a linear pool; nil for every other pool type.
	WrappedIndex *int `json:"wrappedIndex"`
}

// PoolToken is one token slot of a pool, ordered by on-chain index.
type PoolToken struct {
	PoolID   string      `json:"poolId"`
	Chain    chain.Chain `json:"chain"`
	Address  string      `json:"address"`
	Index    int         `json:"index"`
	Decimals int         `json:"decimals"`
	Balance  string      `json:"balance"`
	// PriceRate scales the token balance into the pool's numeraire. Resolved by
	// an ordered override cascade in the pool state syncer.
	PriceRate string `json:"priceRate"`
	// Weight is set for weighted pools only.
	Weight *string `json:"weight"`
	// WrappedTokenRate is set for linear pool wrapped tokens.
	WrappedTokenRate *string `json:"wrappedTokenRate"`
}

// PoolDynamicData holds the mutable per-pool fields refreshed from chain state.
// Updates are change-detected against the persisted row; a field-identical
// fetch enqueues no write.
type PoolDynamicData struct {
	PoolID           string      `json:"poolId"`
	Chain            chain.Chain `json:"chain"`
	SwapFee          string      `json:"swapFee"`
	TotalShares      string      `json:"totalShares"`
	TotalSharesNum   float64     `json:"totalSharesNum"`
	SwapEnabled      bool        `json:"swapEnabled"`
	ProtocolYieldFee string      `json:"protocolYieldFee"`
	// Stable pools only.
	Amp *string `json:"amp"`
	// Linear pools only.
	LowerTarget *string `json:"lowerTarget"`
	UpperTarget *string `json:"upperTarget"`
	BlockNumber uint64  `json:"blockNumber"`
}
