package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/utils"
)

// multicall3Address is deployed at the same address on every supported chain.
const multicall3Address = "0xcA11bde05977b3631167028862bE2a173976CA11"

var chainDefaults = map[chain.Chain]chain.Config{
	chain.Mainnet:  {ChainID: 1, BlockTime: 12 * time.Second, MaxLogBlockRange: 10000},
	chain.Optimism: {ChainID: 10, BlockTime: 2 * time.Second, MaxLogBlockRange: 10000},
	chain.Fantom:   {ChainID: 250, BlockTime: time.Second, MaxLogBlockRange: 2000},
	chain.Sonic:    {ChainID: 146, BlockTime: time.Second, MaxLogBlockRange: 5000},
	chain.Base:     {ChainID: 8453, BlockTime: 2 * time.Second, MaxLogBlockRange: 10000},
}

// LoadRegistry builds the chain registry from the environment. CHAINS selects
// the active networks; per-chain endpoints come from SUBGRAPH_URL_<CHAIN> and
// RPC_URL_<CHAIN>.
func LoadRegistry() (*chain.Registry, error) {
	var configs []chain.Config
	for _, name := range strings.Split(utils.Env("CHAINS", "FANTOM,OPTIMISM,SONIC"), ",") {
		c, err := chain.Parse(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("CHAINS: %w", err)
		}

		cfg := chainDefaults[c]
		cfg.Chain = c
		cfg.SubgraphURL = utils.Env("SUBGRAPH_URL_"+string(c), "")
		cfg.RPCURL = utils.Env("RPC_URL_"+string(c), "")
		cfg.MulticallAddress = utils.Env("MULTICALL_ADDRESS_"+string(c), multicall3Address)
		cfg.MaxLogBlockRange = uint64(utils.EnvInt64("MAX_LOG_RANGE_"+string(c), int64(cfg.MaxLogBlockRange)))
		cfg.SubgraphLagThreshold = uint64(utils.EnvInt64("SUBGRAPH_LAG_THRESHOLD", 60))
		cfg.ReorgMargin = uint64(utils.EnvInt64("REORG_MARGIN", 10))

		if cfg.SubgraphURL == "" {
			return nil, fmt.Errorf("SUBGRAPH_URL_%s is required", c)
		}
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("RPC_URL_%s is required", c)
		}

		configs = append(configs, cfg)
	}
	return chain.NewRegistry(configs...), nil
}
