package services

import "github.com/shopspring/decimal"

// applyFee computes max(amount - amount*feeRate, 0) at DFC precision.
func applyFee(amount decimal.Decimal, feeRate float64) decimal.Decimal {
	fee := amount.Mul(decimal.NewFromFloat(feeRate))
	less := amount.Sub(fee).RoundDown(8)
	if less.IsNegative() {
		return decimal.Zero
	}
	return less
}
