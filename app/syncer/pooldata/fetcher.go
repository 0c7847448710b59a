package pooldata

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
	"github.com/beetslabs/poolsync/pkg/evm"
)

const vaultABIJSON = `[{
	"inputs": [{"name": "poolId", "type": "bytes32"}],
	"name": "getPoolTokens",
	"outputs": [
		{"name": "tokens", "type": "address[]"},
		{"name": "balances", "type": "uint256[]"},
		{"name": "lastChangeBlock", "type": "uint256"}
	],
	"stateMutability": "view",
	"type": "function"
}]`

const poolABIJSON = `[
	{"inputs": [], "name": "getSwapFeePercentage", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "totalSupply", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "getSwapEnabled", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "getRate", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "getNormalizedWeights", "outputs": [{"name": "", "type": "uint256[]"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "getAmplificationParameter", "outputs": [
		{"name": "value", "type": "uint256"},
		{"name": "isUpdating", "type": "bool"},
		{"name": "precision", "type": "uint256"}
	], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "getTargets", "outputs": [
		{"name": "lowerTarget", "type": "uint256"},
		{"name": "upperTarget", "type": "uint256"}
	], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "getWrappedTokenRate", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

var (
	vaultABI = mustParseABI(vaultABIJSON)
	poolABI  = mustParseABI(poolABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// fixedPointDecimals is the scale of vault fixed-point values (fees, rates,
// weights, share supply).
const fixedPointDecimals = 18

// MulticallClient is the chain surface the fetcher consumes.
type MulticallClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Multicall(ctx context.Context, calls []evm.Call) ([]evm.Result, error)
}

// VaultFetcher reads pool state from the vault and the pool contracts, one
// multicall batch for the whole pool set.
type VaultFetcher struct {
	logger *zap.Logger
	rpc    MulticallClient
	vault  common.Address
}

func NewVaultFetcher(logger *zap.Logger, rpc MulticallClient, vaultAddress string) *VaultFetcher {
	return &VaultFetcher{
		logger: logger,
		rpc:    rpc,
		vault:  common.HexToAddress(vaultAddress),
	}
}

// poolCallLayout records which multicall result indexes belong to one pool.
type poolCallLayout struct {
	pool        *models.Pool
	poolTokens  int
	swapFee     int
	totalSupply int
	swapEnabled int
	rate        int
	weights     int
	amp         int
	targets     int
	// wrappedRates maps token address to the result index of its
	// getWrappedTokenRate call.
	wrappedRates map[string]int
}

// FetchPoolData reads authoritative on-chain state for every pool in one
// multicall round trip. Calls that a pool type does not implement run with
// allowFailure and decode into absent fields.
func (f *VaultFetcher) FetchPoolData(ctx context.Context, cfg chain.Config, pools []*models.Pool, tokensByPool map[string][]*models.PoolToken) (map[string]*OnchainPoolData, error) {
	block, err := f.rpc.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain head: %w", err)
	}

	var calls []evm.Call
	layouts := make([]*poolCallLayout, 0, len(pools))

	queue := func(target common.Address, contract abi.ABI, method string, args ...any) (int, error) {
		data, err := contract.Pack(method, args...)
		if err != nil {
			return 0, fmt.Errorf("pack %s: %w", method, err)
		}
		calls = append(calls, evm.Call{Target: target, AllowFailure: true, CallData: data})
		return len(calls) - 1, nil
	}

	for _, pool := range pools {
		poolAddr := common.HexToAddress(pool.Address)
		layout := &poolCallLayout{pool: pool, wrappedRates: make(map[string]int)}

		var poolID [32]byte
		copy(poolID[:], common.FromHex(pool.ID))

		if layout.poolTokens, err = queue(f.vault, vaultABI, "getPoolTokens", poolID); err != nil {
			return nil, err
		}
		if layout.swapFee, err = queue(poolAddr, poolABI, "getSwapFeePercentage"); err != nil {
			return nil, err
		}
		if layout.totalSupply, err = queue(poolAddr, poolABI, "totalSupply"); err != nil {
			return nil, err
		}
		if layout.swapEnabled, err = queue(poolAddr, poolABI, "getSwapEnabled"); err != nil {
			return nil, err
		}
		if layout.rate, err = queue(poolAddr, poolABI, "getRate"); err != nil {
			return nil, err
		}

		layout.weights, layout.amp, layout.targets = -1, -1, -1
		switch pool.Type {
		case models.PoolTypeWeighted:
			if layout.weights, err = queue(poolAddr, poolABI, "getNormalizedWeights"); err != nil {
				return nil, err
			}
		case models.PoolTypeStable, models.PoolTypeMetaStable, models.PoolTypePhantomStable:
			if layout.amp, err = queue(poolAddr, poolABI, "getAmplificationParameter"); err != nil {
				return nil, err
			}
		case models.PoolTypeLinear:
			if layout.targets, err = queue(poolAddr, poolABI, "getTargets"); err != nil {
				return nil, err
			}
			if token := linearWrappedToken(pool, tokensByPool[pool.ID]); token != nil {
				idx, err := queue(poolAddr, poolABI, "getWrappedTokenRate")
				if err != nil {
					return nil, err
				}
				layout.wrappedRates[strings.ToLower(token.Address)] = idx
			}
		}

		layouts = append(layouts, layout)
	}

	results, err := f.rpc.Multicall(ctx, calls)
	if err != nil {
		return nil, err
	}
	if len(results) != len(calls) {
		return nil, fmt.Errorf("multicall returned %d results for %d calls", len(results), len(calls))
	}

	out := make(map[string]*OnchainPoolData, len(pools))
	for _, layout := range layouts {
		data, err := f.decodePool(layout, results, tokensByPool[layout.pool.ID], block)
		if err != nil {
			f.logger.Error("Failed to decode on-chain pool data",
				zap.String("pool", layout.pool.ID),
				zap.Error(err))
			continue
		}
		out[layout.pool.ID] = data
	}
	return out, nil
}

// linearWrappedToken picks the wrapped token slot of a linear pool: the token
// at the pool's wrapped index, never the pool's own BPT. Rows predating the
// wrapped-index backfill fall back to the slot already carrying a rate.
func linearWrappedToken(pool *models.Pool, tokens []*models.PoolToken) *models.PoolToken {
	for _, t := range tokens {
		if strings.EqualFold(t.Address, pool.ShareTokenAddress) {
			continue
		}
		if pool.WrappedIndex != nil && t.Index == *pool.WrappedIndex {
			return t
		}
	}
	if pool.WrappedIndex != nil {
		return nil
	}
	for _, t := range tokens {
		if t.WrappedTokenRate != nil {
			return t
		}
	}
	return nil
}

func (f *VaultFetcher) decodePool(layout *poolCallLayout, results []evm.Result, tokens []*models.PoolToken, block uint64) (*OnchainPoolData, error) {
	data := &OnchainPoolData{
		SwapEnabled:       true,
		TokenBalances:     make(map[string]string),
		TokenRates:        make(map[string]string),
		WrappedTokenRates: make(map[string]string),
		TokenWeights:      make(map[string]string),
		BlockNumber:       block,
	}

	decimalsByToken := make(map[string]int, len(tokens))
	for _, t := range tokens {
		decimalsByToken[strings.ToLower(t.Address)] = t.Decimals
	}

	if r := results[layout.poolTokens]; r.Success {
		var decoded struct {
			Tokens          []common.Address
			Balances        []*big.Int
			LastChangeBlock *big.Int
		}
		if err := vaultABI.UnpackIntoInterface(&decoded, "getPoolTokens", r.ReturnData); err != nil {
			return nil, fmt.Errorf("decode getPoolTokens: %w", err)
		}
		for i, addr := range decoded.Tokens {
			key := strings.ToLower(addr.Hex())
			dec, ok := decimalsByToken[key]
			if !ok {
				dec = fixedPointDecimals
			}
			data.TokenBalances[key] = scaleFixed(decoded.Balances[i], dec)
		}
	} else {
		return nil, fmt.Errorf("getPoolTokens reverted")
	}

	swapFee, err := fixedResult(results, layout.swapFee)
	if err != nil {
		return nil, fmt.Errorf("swap fee: %w", err)
	}
	data.SwapFee = swapFee

	totalSupply, err := fixedResult(results, layout.totalSupply)
	if err != nil {
		return nil, fmt.Errorf("total supply: %w", err)
	}
	data.TotalShares = totalSupply

	// Pools without the swap-enabled surface are always enabled.
	if r := results[layout.swapEnabled]; r.Success && len(r.ReturnData) == 32 {
		data.SwapEnabled = r.ReturnData[31] == 1
	}

	if r := results[layout.rate]; r.Success {
		if v, err := evm.UnpackUint256(r.ReturnData); err == nil {
			data.PoolRate = scaleFixed(v, fixedPointDecimals)
		}
	}

	if layout.weights >= 0 {
		if r := results[layout.weights]; r.Success {
			var weights []*big.Int
			if err := poolABI.UnpackIntoInterface(&weights, "getNormalizedWeights", r.ReturnData); err != nil {
				return nil, fmt.Errorf("decode weights: %w", err)
			}
			for i, t := range tokens {
				if i < len(weights) {
					data.TokenWeights[strings.ToLower(t.Address)] = scaleFixed(weights[i], fixedPointDecimals)
				}
			}
		}
	}

	if layout.amp >= 0 {
		if r := results[layout.amp]; r.Success {
			var decoded struct {
				Value      *big.Int
				IsUpdating bool
				Precision  *big.Int
			}
			if err := poolABI.UnpackIntoInterface(&decoded, "getAmplificationParameter", r.ReturnData); err != nil {
				return nil, fmt.Errorf("decode amp: %w", err)
			}
			if decoded.Precision == nil || decoded.Precision.Sign() == 0 {
				return nil, fmt.Errorf("amp precision is zero")
			}
			amp := decimal.NewFromBigInt(decoded.Value, 0).
				Div(decimal.NewFromBigInt(decoded.Precision, 0)).String()
			data.Amp = &amp
		}
	}

	if layout.targets >= 0 {
		if r := results[layout.targets]; r.Success {
			var decoded struct {
				LowerTarget *big.Int
				UpperTarget *big.Int
			}
			if err := poolABI.UnpackIntoInterface(&decoded, "getTargets", r.ReturnData); err != nil {
				return nil, fmt.Errorf("decode targets: %w", err)
			}
			lower := scaleFixed(decoded.LowerTarget, fixedPointDecimals)
			upper := scaleFixed(decoded.UpperTarget, fixedPointDecimals)
			data.LowerTarget = &lower
			data.UpperTarget = &upper
		}
	}

	for tokenAddr, idx := range layout.wrappedRates {
		if r := results[idx]; r.Success {
			if v, err := evm.UnpackUint256(r.ReturnData); err == nil {
				data.WrappedTokenRates[tokenAddr] = scaleFixed(v, fixedPointDecimals)
			}
		}
	}

	return data, nil
}

func fixedResult(results []evm.Result, idx int) (string, error) {
	r := results[idx]
	if !r.Success {
		return "", fmt.Errorf("call reverted")
	}
	v, err := evm.UnpackUint256(r.ReturnData)
	if err != nil {
		return "", err
	}
	return scaleFixed(v, fixedPointDecimals), nil
}

func scaleFixed(v *big.Int, decimals int) string {
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
