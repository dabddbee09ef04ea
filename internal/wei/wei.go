// Package wei provides shared BNB parsing and formatting utilities.
//
// BNB uses 18 decimal places. All amounts are stored as big.Int in
// wei (1 BNB = 10^18 wei).
package wei

import (
	"math/big"
	"strings"
)

const Decimals = 18

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Parse converts a decimal BNB string (e.g. "1.5") to its wei
// big.Int representation. Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 18 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Pad or trim to 18 decimals
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a wei big.Int to a human-readable BNB decimal string
// with trailing zeros trimmed (e.g. "1.5", "0.001", "2").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	whole := s[:decimal]
	frac := strings.TrimRight(s[decimal:], "0")
	result := whole
	if frac != "" {
		result = whole + "." + frac
	}
	if neg {
		result = "-" + result
	}
	return result
}

// BNB returns n whole BNB expressed in wei.
func BNB(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), unit)
}

// ToGwei converts a wei amount to gwei as a float (1 gwei = 10^9 wei).
// Intended for display and heuristics, not settlement math.
func ToGwei(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), big.NewFloat(1e9)).Float64()
	return f
}
