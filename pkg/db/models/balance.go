package models

import (
	"fmt"

	"github.com/beetslabs/poolsync/pkg/chain"
)

// PoolShareBalance is one wallet's balance of a pool-share token. The table is
// sparse: zero balances are deleted, never stored.
type PoolShareBalance struct {
	ID           string      `json:"id"`
	PoolID       string      `json:"poolId"`
	Chain        chain.Chain `json:"chain"`
	UserAddress  string      `json:"userAddress"`
	TokenAddress string      `json:"tokenAddress"`
	// Balance is the exact string decimal; BalanceNum the float approximation
	// used for filtering and aggregation.
	Balance    string  `json:"balance"`
	BalanceNum float64 `json:"balanceNum"`
}

// BalanceID encodes pool share token + holder into the row id.
func BalanceID(tokenAddress, userAddress string) string {
	return fmt.Sprintf("%s-%s", tokenAddress, userAddress)
}

// User is a wallet referenced by at least one balance row.
type User struct {
	Address string      `json:"address"`
	Chain   chain.Chain `json:"chain"`
}
