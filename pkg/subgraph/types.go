package subgraph

// Meta carries the subgraph's current indexing position.
type Meta struct {
	Block struct {
		Number uint64 `json:"number"`
	} `json:"block"`
}

// RawSnapshot is a pool snapshot row as the subgraph returns it. Numeric
// fields arrive as string decimals and are normalized downstream.
type RawSnapshot struct {
	ID              string   `json:"id"`
	PoolID          string   `json:"poolId"`
	Timestamp       int64    `json:"timestamp"`
	DailyVolumes    []string `json:"dailyVolumes"`
	DailySwapFees   []string `json:"dailySwapFees"`
	DailySurpluses  []string `json:"dailySurpluses"`
	Amounts         []string `json:"amounts"`
	TotalShares     string   `json:"totalShares"`
	TotalSwapVolume string   `json:"totalSwapVolume"`
	TotalSwapFee    string   `json:"totalSwapFee"`
	TotalSurplus    string   `json:"totalSurplus"`
}

// PoolShare is one wallet's share-token balance as indexed by the subgraph.
type PoolShare struct {
	ID          string `json:"id"`
	Balance     string `json:"balance"`
	UserAddress struct {
		ID string `json:"id"`
	} `json:"userAddress"`
	PoolID struct {
		ID      string `json:"id"`
		Address string `json:"address"`
	} `json:"poolId"`
}

// SnapshotFilter narrows a snapshot list query.
type SnapshotFilter struct {
	PoolIDs []string
	// BlockGTE limits results to entities changed at or after this block;
	// zero means a full fetch.
	BlockGTE uint64
}

// ShareFilter narrows a pool share list query.
type ShareFilter struct {
	BlockGTE uint64
}

type graphResponse[T any] struct {
	Data   T `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}
