package token

import (
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]*)?$|^\.[0-9]+$`)

// ParseUnits converts a decimal string to smallest units. Fraction digits
// beyond decimals are truncated.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	clean := strings.TrimSpace(amount)
	if strings.HasPrefix(clean, "-") {
		return nil, clierr.New(clierr.CodeUsage, "amount must be non-negative")
	}
	if !decimalPattern.MatchString(clean) {
		return nil, clierr.New(clierr.CodeUsage, "amount must be in decimal form like 1.23")
	}
	parts := strings.SplitN(clean, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	d := int(decimals)
	if len(fracPart) > d {
		fracPart = fracPart[:d]
	}
	fracPart = fracPart + strings.Repeat("0", d-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return new(big.Int), nil
	}
	out, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return out, nil
}

// FormatUnits renders smallest units as a decimal string without trailing
// zeros.
func FormatUnits(units *big.Int, decimals uint8) string {
	if units == nil {
		return "0"
	}
	negative := units.Sign() < 0
	s := new(big.Int).Abs(units).String()
	d := int(decimals)
	if d > 0 {
		if len(s) <= d {
			s = strings.Repeat("0", d-len(s)+1) + s
		}
		intPart := s[:len(s)-d]
		fracPart := strings.TrimRight(s[len(s)-d:], "0")
		s = intPart
		if fracPart != "" {
			s = intPart + "." + fracPart
		}
	}
	if negative {
		return "-" + s
	}
	return s
}

// Rescale converts an amount between two decimal precisions, truncating.
func Rescale(units *big.Int, from, to uint8) *big.Int {
	out := new(big.Int).Set(units)
	switch {
	case to > from:
		out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(to-from)), nil))
	case from > to:
		out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(from-to)), nil))
	}
	return out
}
