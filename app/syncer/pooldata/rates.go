package pooldata

import (
	"strings"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
)

// RateCache provides out-of-band price rates for metastable pool tokens whose
// rate providers are not readable on-chain.
type RateCache interface {
	Rate(c chain.Chain, tokenAddress string) (string, bool)
}

// StaticRateCache is a fixed rate table keyed by chain and token address.
type StaticRateCache map[chain.Chain]map[string]string

func (s StaticRateCache) Rate(c chain.Chain, tokenAddress string) (string, bool) {
	rate, ok := s[c][strings.ToLower(tokenAddress)]
	return rate, ok
}

// rateRule proposes a price rate for one token slot. Rules run in order and
// later matches win, encoding increasingly specific pool-type knowledge.
type rateRule func(pool *models.Pool, token *models.PoolToken, data *OnchainPoolData, cache RateCache) (string, bool)

var rateRules = []rateRule{
	onchainRate,
	metastableCacheRate,
	bptSelfRate,
	linearWrappedRate,
}

// ResolvePriceRate runs the ordered override cascade for one token slot and
// returns the winning rate, falling back to the token's persisted rate when no
// rule matches.
func ResolvePriceRate(pool *models.Pool, token *models.PoolToken, data *OnchainPoolData, cache RateCache) string {
	rate := token.PriceRate
	for _, rule := range rateRules {
		if r, ok := rule(pool, token, data, cache); ok {
			rate = r
		}
	}
	return rate
}

func onchainRate(_ *models.Pool, token *models.PoolToken, data *OnchainPoolData, _ RateCache) (string, bool) {
	rate, ok := data.TokenRates[strings.ToLower(token.Address)]
	return rate, ok
}

func metastableCacheRate(pool *models.Pool, token *models.PoolToken, _ *OnchainPoolData, cache RateCache) (string, bool) {
	if pool.Type != models.PoolTypeMetaStable || cache == nil {
		return "", false
	}
	return cache.Rate(pool.Chain, token.Address)
}

// bptSelfRate applies when a pool token is the pool's own share token (phantom
// stable pools hold their own BPT): its rate is the pool-level rate.
func bptSelfRate(pool *models.Pool, token *models.PoolToken, data *OnchainPoolData, _ RateCache) (string, bool) {
	if !strings.EqualFold(token.Address, pool.ShareTokenAddress) || data.PoolRate == "" {
		return "", false
	}
	return data.PoolRate, true
}

func linearWrappedRate(pool *models.Pool, token *models.PoolToken, data *OnchainPoolData, _ RateCache) (string, bool) {
	if pool.Type != models.PoolTypeLinear {
		return "", false
	}
	rate, ok := data.WrappedTokenRates[strings.ToLower(token.Address)]
	return rate, ok
}
