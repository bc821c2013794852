package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/adred-codev/dexfeed/internal/config"
)

type failCaller struct{}

func (failCaller) CallContract(context.Context, ethereum.CallMsg) ([]byte, error) {
	return nil, errors.New("node unavailable")
}

func TestDecimalsFallback(t *testing.T) {
	l := NewLoader(failCaller{}, zerolog.Nop())
	ctx := context.Background()

	// Known addresses never hit the chain.
	wbnb := common.HexToAddress(config.WBNBAddress)
	assert.Equal(t, uint8(18), l.Decimals(ctx, wbnb))

	// Unknown token with a failed read: global fallback.
	tok := common.HexToAddress("0x0000000000000000000000000000000000000123")
	assert.Equal(t, uint8(config.FallbackDecimals), l.Decimals(ctx, tok))

	// A seeded binding value takes over the failure path.
	l.SeedFallback(tok, 9)
	assert.Equal(t, uint8(9), l.Decimals(ctx, tok))

	// Seeding zero is a no-op, not an override.
	other := common.HexToAddress("0x0000000000000000000000000000000000000456")
	l.SeedFallback(other, 0)
	assert.Equal(t, uint8(config.FallbackDecimals), l.Decimals(ctx, other))
}
