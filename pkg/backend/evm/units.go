package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/nikolaydubina/fpdecimal"
)

// toUnits converts a decimal amount to the contract's integer units
func toUnits(d fpdecimal.Decimal, decimals int) (*big.Int, error) {
	s := d.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		return nil, fmt.Errorf("negative amount %s", s)
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	// The decimal type always renders its full scale; trailing zeros do
	// not carry precision, so 42.000 still fits a 0-decimal token.
	frac = strings.TrimRight(frac, "0")
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %s exceeds %d decimal places", s, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return out, nil
}

// fromUnits converts contract integer units back to a decimal amount.
// Precision beyond what the decimal type carries is truncated.
func fromUnits(raw *big.Int, decimals int) fpdecimal.Decimal {
	f := new(big.Float).SetInt(raw)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	v, _ := new(big.Float).Quo(f, scale).Float64()
	return fpdecimal.FromFloat(v)
}
