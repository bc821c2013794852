package registry

import "github.com/adred-codev/dexfeed/internal/price"

// PriceUpdate is the room broadcast for an aggregate price change.
type PriceUpdate struct {
	*price.TokenPrice
	Formatted map[string]string `json:"formatted"`
}

// SwapEventFrame nests the swap payload under data. Outbound frames carry
// the event name in a top-level type key, and the swap's own type field
// (buy/sell) must not collide with it.
type SwapEventFrame struct {
	Data SwapEvent `json:"data"`
}

// SwapEvent is the room broadcast emitted synchronously on swap-log
// arrival. Sender is the log's sender (usually a router); the real
// transaction origin follows in a SwapUpdate.
type SwapEvent struct {
	TokenAddress string  `json:"tokenAddress"`
	Symbol       string  `json:"symbol"`
	PoolAddress  string  `json:"poolAddress"`
	TxHash       string  `json:"txHash"`
	Type         string  `json:"type"`
	Sender       string  `json:"sender"`
	AmountBNB    float64 `json:"amountBNB"`
	AmountToken  float64 `json:"amountToken"`
	PairSymbol   string  `json:"pairSymbol"`
	PairAmount   float64 `json:"pairAmount"`
	PriceUSD     float64 `json:"priceUSD"`
	ValueUSD     float64 `json:"valueUSD"`
	Timestamp    string  `json:"timestamp"`
}

// SwapUpdate carries the resolved transaction origin for an earlier
// SwapEvent with the same hash.
type SwapUpdate struct {
	TxHash string `json:"txHash"`
	Sender string `json:"sender"`
}
