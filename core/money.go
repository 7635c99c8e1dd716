package core

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - decimal helpers with the engine's rounding contract
// =============================================================================

var (
	Hundred = decimal.NewFromInt(100)
	Twelve  = decimal.NewFromInt(12)
	Quarter = decimal.RequireFromString("0.25")
)

// Round rounds half-up to the nearest currency unit.
// Engine amounts are non-negative, where half-away-from-zero equals half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

// MulRound multiplies and rounds in one step.
func MulRound(d, rate decimal.Decimal) decimal.Decimal {
	return Round(d.Mul(rate))
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MustDecimal parses s and panics on malformed input. Intended for constants.
func MustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Int is shorthand for decimal.NewFromInt.
func Int(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}
