package pool

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// ToHuman converts a raw base-unit amount to a float divided by
// 10^decimals. Precision loss on very large amounts is accepted; display
// is the only consumer.
func ToHuman(raw *big.Int, decimals uint8) float64 {
	if raw == nil || raw.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetInt(raw)
	scale := new(big.Float).SetFloat64(math.Pow10(int(decimals)))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}

// FormatAmount renders a human amount: scientific with 4 significant
// digits below 0.01, fixed 4 decimals below 1000, thousands-grouped with
// 2 decimals above.
func FormatAmount(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs == 0:
		return "0"
	case abs < 0.01:
		return fmt.Sprintf("%.3e", v)
	case abs < 1000:
		return fmt.Sprintf("%.4f", v)
	default:
		return groupThousands(v)
	}
}

func groupThousands(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	parts := strings.SplitN(s, ".", 2)
	intPart, fracPart := parts[0], parts[1]

	neg := strings.HasPrefix(intPart, "-")
	if neg {
		intPart = intPart[1:]
	}

	var b strings.Builder
	pre := len(intPart) % 3
	if pre > 0 {
		b.WriteString(intPart[:pre])
	}
	for i := pre; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}

	out := b.String() + "." + fracPart
	if neg {
		out = "-" + out
	}
	return out
}
