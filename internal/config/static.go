package config

// Chain-static configuration for the target deployment (BSC mainnet).
// Token decimals and pool ABIs are fixed per deployment; multi-chain
// generalization is out of scope.

// Known pair symbols. A pool's pair side is one of these or an agent token.
const (
	PairWBNB = "WBNB"
	PairUSDT = "USDT"
	PairUSDC = "USDC"
	PairBUSD = "BUSD"
	PairDAI  = "DAI"
)

// Wrapped native and USD-pegged stable addresses (lowercase hex).
var (
	WBNBAddress = "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c"

	StableAddresses = map[string]string{
		PairUSDT: "0x55d398326f99059ff775485246999027b3197955",
		PairUSDC: "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d",
		PairBUSD: "0xe9e7cea3dedca5984780bafc599bd69add087d56",
		PairDAI:  "0x1af3f329e8be154074d8769d1ffa4ee058b1dbc3",
	}
)

// KnownDecimals short-circuits the on-chain decimals() lookup for addresses
// whose decimals never change. All BSC-pegged stables use 18.
var KnownDecimals = map[string]uint8{
	WBNBAddress:                                  18,
	"0x55d398326f99059ff775485246999027b3197955": 18, // USDT
	"0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d": 18, // USDC
	"0xe9e7cea3dedca5984780bafc599bd69add087d56": 18, // BUSD
	"0x1af3f329e8be154074d8769d1ffa4ee058b1dbc3": 18, // DAI
}

// FallbackDecimals is used when a token's decimals() call fails.
const FallbackDecimals = 18

// IsStablePair reports whether the pair symbol is a USD-pegged stable.
func IsStablePair(pair string) bool {
	switch pair {
	case PairUSDT, PairUSDC, PairBUSD, PairDAI:
		return true
	}
	return false
}

// BNBReferencePool is one source for the BNB/USD reference price. All
// sources are concentrated-liquidity pools paired against a stable.
type BNBReferencePool struct {
	Address        string // pool address, lowercase hex
	StableIsToken0 bool   // invert the derived price when the stable is token0
	Decimals0      uint8
	Decimals1      uint8
}

// BNBReferencePools are the PancakeSwap V3 WBNB/stable pools the reference
// price is averaged over.
var BNBReferencePools = []BNBReferencePool{
	{Address: "0x36696169c63e42cd08ce11f5deebbcebae652050", StableIsToken0: false, Decimals0: 18, Decimals1: 18}, // WBNB/USDT 0.05%
	{Address: "0x85faac652b707fdf6907ef726751087f9e0b6687", StableIsToken0: false, Decimals0: 18, Decimals1: 18}, // WBNB/BUSD 0.05%
	{Address: "0xf2688fb5b81049dfb7703ada5e770543770612c4", StableIsToken0: false, Decimals0: 18, Decimals1: 18}, // WBNB/USDT 0.01%
}

// PoolSpec describes one pool inside a token binding.
type PoolSpec struct {
	Address  string // pool address
	Protocol string // uniswapv2 | uniswapv3 | aerodromev2 | aerodromev3 | slipstream
	Pair     string // WBNB | USDT | USDC | BUSD | DAI | agent symbol
	PairAddr string // pair token address; required when Pair is an agent symbol
	Priority int    // lower is stronger; weight contribution is 1/priority
	FeeTier  int    // concentrated-liquidity fee tier, 0 for V2
}

// TokenSpec is the static or request-supplied configuration of a monitored
// token.
type TokenSpec struct {
	Address  string
	Symbol   string
	Name     string
	Decimals uint8 // fallback when the on-chain read fails
	Pools    []PoolSpec
}

// AgentSource is one pricing source for an agent token.
type AgentSource struct {
	Address  string // pool address
	Protocol string
	Pair     string // pair symbol; a stable, WBNB, or another agent symbol
	PairAddr string // set when Pair resolves through another agent token
	Priority int
}

// AgentTokenSpec seeds the agent-token registry: tokens whose USD price is
// derived from other pools, possibly recursively.
type AgentTokenSpec struct {
	Address string
	Symbol  string
	Sources []AgentSource
}

// StaticTokens are bindings available for AddToken without a dynamic spec.
// Deployments extend this list; dynamic tokens arrive via the API.
var StaticTokens = map[string]TokenSpec{}

// StaticAgentTokens seeds the agent registry. Empty by default; deployments
// register agent tokens at startup or via the API.
var StaticAgentTokens = []AgentTokenSpec{}
