// Package money holds the fixed-point helpers shared by the coverage and
// billing domains. Amounts are carried as decimal.Decimal and rounded to
// cents only where a rounding step is explicitly part of the calculation.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is the number of decimal places persisted for currency amounts.
const Cents = 2

var (
	Zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
	oneCent = decimal.New(1, -Cents)
)

// Parse reads a currency amount from its string form.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// Round rounds to cents, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Cents)
}

// Floor rounds down to cents.
func Floor(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(Cents)
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	return Max(d, decimal.Zero)
}

// Percent returns pct percent of amount without rounding.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// Sum adds all amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// SplitEven divides total into n parts floored to the cent. The last part
// absorbs the leftover cents so the parts always add back to total.
func SplitEven(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	parts := make([]decimal.Decimal, n)
	each := Floor(total.Div(decimal.NewFromInt(int64(n))))
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		parts[i] = each
		allocated = allocated.Add(each)
	}
	parts[n-1] = total.Sub(allocated)
	return parts
}

// SplitByPercent divides total by the given percentages, which must add up
// to 100. Each part is floored to the cent and the leftover cents go to the
// last part with a non-zero percentage.
func SplitByPercent(total decimal.Decimal, percents []decimal.Decimal) []decimal.Decimal {
	parts := make([]decimal.Decimal, len(percents))
	allocated := decimal.Zero
	last := -1
	for i, pct := range percents {
		parts[i] = Floor(Percent(total, pct))
		allocated = allocated.Add(parts[i])
		if pct.IsPositive() {
			last = i
		}
	}
	if last >= 0 {
		parts[last] = parts[last].Add(total.Sub(allocated))
	}
	return parts
}

// IsWholeCents reports whether d has no precision beyond cents.
func IsWholeCents(d decimal.Decimal) bool {
	return d.Mod(oneCent).IsZero()
}
