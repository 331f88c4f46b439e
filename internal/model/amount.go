package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// PriceDecimals is the fixed-point precision of every price.
const PriceDecimals = 8

// ParseAmount parses a base-10 unsigned integer into a 256-bit value.
func ParseAmount(value string) (*uint256.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return new(uint256.Int), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	out, overflow := uint256.FromBig(parsed)
	if overflow {
		return nil, fmt.Errorf("amount %s: %w", value, ErrOverflow)
	}
	return out, nil
}

// FormatAmount renders a 256-bit value in base 10.
func FormatAmount(value *uint256.Int) string {
	if value == nil {
		return "0"
	}
	return value.ToBig().String()
}

// ParseFixed converts a decimal string such as "60000.5" into a fixed-point
// integer with the given number of decimals. Extra precision is rejected.
func ParseFixed(value string, decimals uint8) (*uint256.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty value")
	}
	whole, frac, _ := strings.Cut(value, ".")
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("value %s has more than %d decimals", value, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))
	return ParseAmount(strings.TrimLeft(whole+frac, "0"))
}

// ParsePrice parses a human price into 8-decimal fixed point.
func ParsePrice(value string) (*uint256.Int, error) {
	return ParseFixed(value, PriceDecimals)
}

func cloneAmount(value *uint256.Int) *uint256.Int {
	if value == nil {
		return new(uint256.Int)
	}
	return value.Clone()
}
