package models

import "github.com/beetslabs/poolsync/pkg/chain"

// SyncWatermark records the last block number synced for one (chain, category)
// pair. It drives the incremental fetch window of every sync pass and is only
// advanced after all writes for a pass are durably committed.
type SyncWatermark struct {
	Category    chain.Category `json:"category"`
	Chain       chain.Chain    `json:"chain"`
	BlockNumber uint64         `json:"blockNumber"`
}
