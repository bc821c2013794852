package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t,
		"0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c",
		NormalizeAddress(" 0xBB4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c "))
	assert.Equal(t, "", NormalizeAddress("  "))
}

func TestNormalizeHex(t *testing.T) {
	addr := common.HexToAddress("0xBB4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	assert.Equal(t, "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c", NormalizeHex(addr))
}

func TestIsHexAddress(t *testing.T) {
	assert.True(t, IsHexAddress("0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c"))
	assert.False(t, IsHexAddress("0x1234"))
	assert.False(t, IsHexAddress("not an address"))
}

func TestDecodePendingHash(t *testing.T) {
	hash, ok := decodePendingHash([]byte(`"0x1111111111111111111111111111111111111111111111111111111111111111"`))
	assert.True(t, ok)
	assert.Equal(t, common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111"), hash)

	// Some providers deliver block headers or short strings here.
	_, ok = decodePendingHash([]byte(`{"number":"0x1"}`))
	assert.False(t, ok)
	_, ok = decodePendingHash([]byte(`"0x1234"`))
	assert.False(t, ok)
}
