package main

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts are stored in minor units (cents); the CLI speaks major units.
const minorUnitExponent = 2

var minorUnitsPerMajor = decimal.New(1, minorUnitExponent)

func parseAmount(raw string) (int64, error) {
	value, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	minor := value.Mul(minorUnitsPerMajor)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("invalid amount %q: at most %d decimal places", raw, minorUnitExponent)
	}
	return minor.IntPart(), nil
}

func formatAmount(minor int64) string {
	return decimal.New(minor, -minorUnitExponent).StringFixed(minorUnitExponent)
}
