// Package money centralizes fils (integer minor unit) arithmetic. Every fee
// computation in the engine goes through this one rounding policy so that
// many small trades cannot accumulate drift.
package money

const bpsDenominator = 10000

// FeeFils computes a basis-point fee on an amount of fils, rounded to the
// nearest fils with ties rounding up. Negative inputs yield 0; fees are only
// ever charged on positive amounts.
func FeeFils(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	numerator := amount * bps
	fee := numerator / bpsDenominator
	if rem := numerator % bpsDenominator; rem*2 >= bpsDenominator {
		fee++
	}
	return fee
}

// Total computes quantity × pricePerUnit in fils.
func Total(quantity, pricePerUnit int64) int64 {
	return quantity * pricePerUnit
}
