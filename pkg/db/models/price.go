package models

import "github.com/beetslabs/poolsync/pkg/chain"

// TokenPrice is a USD price for one token at one day-aligned timestamp.
type TokenPrice struct {
	TokenAddress string      `json:"tokenAddress"`
	Chain        chain.Chain `json:"chain"`
	Timestamp    int64       `json:"timestamp"`
	Price        float64     `json:"price"`
}
