package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress lowercases a hex address for use as a map key. Every
// address-keyed map in the service normalizes on insert and lookup through
// this helper; checksum and lowercase variants must never coexist as keys.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// NormalizeHex returns the lowercase hex form of an address value.
func NormalizeHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// IsHexAddress reports whether s parses as a 20-byte hex address.
func IsHexAddress(s string) bool {
	return common.IsHexAddress(s)
}
