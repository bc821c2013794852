package pool

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract ABIs for the supported pool families, trimmed to what the
// service calls and decodes.

const pairABIJSON = `[
  {"type":"function","stateMutability":"view","name":"token0","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","stateMutability":"view","name":"token1","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","stateMutability":"view","name":"getReserves","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
  {"type":"function","stateMutability":"nonpayable","name":"swap","inputs":[{"name":"amount0Out","type":"uint256"},{"name":"amount1Out","type":"uint256"},{"name":"to","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]},
  {"type":"event","anonymous":false,"name":"Swap","inputs":[
    {"indexed":true,"name":"sender","type":"address"},
    {"indexed":false,"name":"amount0In","type":"uint256"},
    {"indexed":false,"name":"amount1In","type":"uint256"},
    {"indexed":false,"name":"amount0Out","type":"uint256"},
    {"indexed":false,"name":"amount1Out","type":"uint256"},
    {"indexed":true,"name":"to","type":"address"}]}
]`

const poolV3ABIJSON = `[
  {"type":"function","stateMutability":"view","name":"token0","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","stateMutability":"view","name":"token1","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","stateMutability":"view","name":"fee","inputs":[],"outputs":[{"name":"","type":"uint24"}]},
  {"type":"function","stateMutability":"view","name":"tickSpacing","inputs":[],"outputs":[{"name":"","type":"int24"}]},
  {"type":"function","stateMutability":"view","name":"liquidity","inputs":[],"outputs":[{"name":"","type":"uint128"}]},
  {"type":"function","stateMutability":"view","name":"slot0","inputs":[],"outputs":[
    {"name":"sqrtPriceX96","type":"uint160"},
    {"name":"tick","type":"int24"},
    {"name":"observationIndex","type":"uint16"},
    {"name":"observationCardinality","type":"uint16"},
    {"name":"observationCardinalityNext","type":"uint16"},
    {"name":"feeProtocol","type":"uint8"},
    {"name":"unlocked","type":"bool"}]},
  {"type":"event","anonymous":false,"name":"Swap","inputs":[
    {"indexed":true,"name":"sender","type":"address"},
    {"indexed":true,"name":"recipient","type":"address"},
    {"indexed":false,"name":"amount0","type":"int256"},
    {"indexed":false,"name":"amount1","type":"int256"},
    {"indexed":false,"name":"sqrtPriceX96","type":"uint160"},
    {"indexed":false,"name":"liquidity","type":"uint128"},
    {"indexed":false,"name":"tick","type":"int24"}]}
]`

// The sibling concentrated family returns a narrower slot0 tuple (no
// feeProtocol word).
const slot0NarrowABIJSON = `[
  {"type":"function","stateMutability":"view","name":"slot0","inputs":[],"outputs":[
    {"name":"sqrtPriceX96","type":"uint160"},
    {"name":"tick","type":"int24"},
    {"name":"observationIndex","type":"uint16"},
    {"name":"observationCardinality","type":"uint16"},
    {"name":"observationCardinalityNext","type":"uint16"},
    {"name":"unlocked","type":"bool"}]}
]`

// The constant-product sibling family indexes both counterparties, leaving
// the four amounts in data but shifting the event signature.
const pairAltABIJSON = `[
  {"type":"event","anonymous":false,"name":"Swap","inputs":[
    {"indexed":true,"name":"sender","type":"address"},
    {"indexed":true,"name":"to","type":"address"},
    {"indexed":false,"name":"amount0In","type":"uint256"},
    {"indexed":false,"name":"amount1In","type":"uint256"},
    {"indexed":false,"name":"amount0Out","type":"uint256"},
    {"indexed":false,"name":"amount1Out","type":"uint256"}]}
]`

const erc20ABIJSON = `[
  {"type":"function","stateMutability":"view","name":"decimals","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","stateMutability":"view","name":"symbol","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

var (
	pairABI        abi.ABI
	pairAltABI     abi.ABI
	poolV3ABI      abi.ABI
	slot0NarrowABI abi.ABI
	erc20ABI       abi.ABI

	// The log topics the registry subscribes to per pool variant. Both
	// concentrated families share one Swap signature.
	V2SwapTopic    common.Hash
	V2AltSwapTopic common.Hash
	V3SwapTopic    common.Hash

	// slot0Payload is the packed slot0() calldata, shared across pools.
	slot0Payload []byte
)

func init() {
	var err error
	if pairABI, err = abi.JSON(strings.NewReader(pairABIJSON)); err != nil {
		panic(err)
	}
	if pairAltABI, err = abi.JSON(strings.NewReader(pairAltABIJSON)); err != nil {
		panic(err)
	}
	if poolV3ABI, err = abi.JSON(strings.NewReader(poolV3ABIJSON)); err != nil {
		panic(err)
	}
	if slot0NarrowABI, err = abi.JSON(strings.NewReader(slot0NarrowABIJSON)); err != nil {
		panic(err)
	}
	if erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		panic(err)
	}

	V2SwapTopic = pairABI.Events["Swap"].ID
	V2AltSwapTopic = pairAltABI.Events["Swap"].ID
	V3SwapTopic = poolV3ABI.Events["Swap"].ID

	if slot0Payload, err = poolV3ABI.Pack("slot0"); err != nil {
		panic(err)
	}
}

// SwapTopic returns the subscription topic for a pool variant.
func SwapTopic(k Kind) common.Hash {
	switch {
	case k.IsV3():
		return V3SwapTopic
	case k == KindV2Alt:
		return V2AltSwapTopic
	}
	return V2SwapTopic
}
