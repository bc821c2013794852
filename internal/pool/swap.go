package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// V2Swap is the decoded payload of a constant-product Swap log. All
// amounts are unsigned base units.
type V2Swap struct {
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
	Sender     common.Address
	To         common.Address
}

// V3Swap is the decoded payload of a concentrated-liquidity Swap log.
// Amounts are signed; negative means the amount left the pool.
type V3Swap struct {
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         *big.Int
	Sender       common.Address
	Recipient    common.Address
}

// DecodeV2Swap unpacks a V2-family Swap log.
func DecodeV2Swap(lg types.Log) (*V2Swap, error) {
	var ev struct {
		Amount0In  *big.Int
		Amount1In  *big.Int
		Amount0Out *big.Int
		Amount1Out *big.Int
	}
	if err := pairABI.UnpackIntoInterface(&ev, "Swap", lg.Data); err != nil {
		return nil, fmt.Errorf("unpack v2 swap: %w", err)
	}

	sw := &V2Swap{
		Amount0In:  ev.Amount0In,
		Amount1In:  ev.Amount1In,
		Amount0Out: ev.Amount0Out,
		Amount1Out: ev.Amount1Out,
	}
	if len(lg.Topics) >= 2 {
		sw.Sender = common.BytesToAddress(lg.Topics[1].Bytes())
	}
	if len(lg.Topics) >= 3 {
		sw.To = common.BytesToAddress(lg.Topics[2].Bytes())
	}
	return sw, nil
}

// DecodeV3Swap unpacks a V3-family Swap log.
func DecodeV3Swap(lg types.Log) (*V3Swap, error) {
	var ev struct {
		Amount0      *big.Int
		Amount1      *big.Int
		SqrtPriceX96 *big.Int
		Liquidity    *big.Int
		Tick         *big.Int
	}
	if err := poolV3ABI.UnpackIntoInterface(&ev, "Swap", lg.Data); err != nil {
		return nil, fmt.Errorf("unpack v3 swap: %w", err)
	}

	sw := &V3Swap{
		Amount0:      ev.Amount0,
		Amount1:      ev.Amount1,
		SqrtPriceX96: ev.SqrtPriceX96,
		Liquidity:    ev.Liquidity,
		Tick:         ev.Tick,
	}
	if len(lg.Topics) >= 2 {
		sw.Sender = common.BytesToAddress(lg.Topics[1].Bytes())
	}
	if len(lg.Topics) >= 3 {
		sw.Recipient = common.BytesToAddress(lg.Topics[2].Bytes())
	}
	return sw, nil
}

// DecodeV2SwapCall unpacks the calldata of a direct pair swap(amount0Out,
// amount1Out, to, data) call. The mempool tracker uses it to classify
// direction before the transaction mines.
func DecodeV2SwapCall(data []byte) (amount0Out, amount1Out *big.Int, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	args, err := pairABI.Methods["swap"].Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("unpack swap calldata: %w", err)
	}
	if len(args) < 2 {
		return nil, nil, fmt.Errorf("unexpected swap argument count: %d", len(args))
	}
	a0, ok0 := args[0].(*big.Int)
	a1, ok1 := args[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("unexpected swap argument types")
	}
	return a0, a1, nil
}

// SwapInfo is the classified view of a swap from the monitored token's
// perspective. IsBuy means the outside party received the monitored token
// from the pool.
type SwapInfo struct {
	IsBuy          bool
	TokenAmount    float64 // monitored-token amount in human units
	PairAmount     float64 // pair-token amount in human units
	TokenAmountStr string
	PairAmountStr  string
	EventType      string // "v2" | "v3"
	Sender         common.Address
	Recipient      common.Address
}

// ClassifyV2 derives direction and amounts from a V2 swap. With the
// monitored token as token0: amount0Out > 0 is a buy with pair input
// amount1In; otherwise a sell with pair output amount1Out. Symmetric for
// token1.
func ClassifyV2(sw *V2Swap, isToken0 bool, tokenDecimals, pairDecimals uint8) SwapInfo {
	info := SwapInfo{EventType: "v2", Sender: sw.Sender, Recipient: sw.To}

	var tokenRaw, pairRaw *big.Int
	if isToken0 {
		if sw.Amount0Out.Sign() > 0 {
			info.IsBuy = true
			tokenRaw, pairRaw = sw.Amount0Out, sw.Amount1In
		} else {
			tokenRaw, pairRaw = sw.Amount0In, sw.Amount1Out
		}
	} else {
		if sw.Amount1Out.Sign() > 0 {
			info.IsBuy = true
			tokenRaw, pairRaw = sw.Amount1Out, sw.Amount0In
		} else {
			tokenRaw, pairRaw = sw.Amount1In, sw.Amount0Out
		}
	}

	info.TokenAmount = ToHuman(tokenRaw, tokenDecimals)
	info.PairAmount = ToHuman(pairRaw, pairDecimals)
	info.TokenAmountStr = FormatAmount(info.TokenAmount)
	info.PairAmountStr = FormatAmount(info.PairAmount)
	return info
}

// ClassifyV3 derives direction and amounts from a V3 swap. The monitored
// side leaving the pool (negative) is a buy.
func ClassifyV3(sw *V3Swap, isToken0 bool, tokenDecimals, pairDecimals uint8) SwapInfo {
	info := SwapInfo{EventType: "v3", Sender: sw.Sender, Recipient: sw.Recipient}

	var tokenRaw, pairRaw *big.Int
	if isToken0 {
		info.IsBuy = sw.Amount0.Sign() < 0
		tokenRaw = new(big.Int).Abs(sw.Amount0)
		pairRaw = new(big.Int).Abs(sw.Amount1)
	} else {
		info.IsBuy = sw.Amount1.Sign() < 0
		tokenRaw = new(big.Int).Abs(sw.Amount1)
		pairRaw = new(big.Int).Abs(sw.Amount0)
	}

	info.TokenAmount = ToHuman(tokenRaw, tokenDecimals)
	info.PairAmount = ToHuman(pairRaw, pairDecimals)
	info.TokenAmountStr = FormatAmount(info.TokenAmount)
	info.PairAmountStr = FormatAmount(info.PairAmount)
	return info
}
