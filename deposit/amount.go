package deposit

import "github.com/shopspring/decimal"

const (
	DefaultPercentage = 25
	centsPerUnit      = 100
)

// ComputeAmount returns the deposit for a bid in cents. The whole-unit share
// is rounded half away from zero before conversion, so the result is always a
// multiple of 100.
func ComputeAmount(bidAmount int64, percentage int) int64 {
	if percentage <= 0 {
		percentage = DefaultPercentage
	}
	units := decimal.NewFromInt(bidAmount).
		Mul(decimal.NewFromInt(int64(percentage))).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return units.IntPart() * centsPerUnit
}
