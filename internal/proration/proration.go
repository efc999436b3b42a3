// Package proration implements the proportional-underpayment rule: when the
// user underpays the solver by some fraction of the weighted committed total,
// the solver's counter-obligation shrinks by the same fraction.
//
// All arithmetic is fixed-point over Unit with floor (integer) division, so
// results are bit-exact across implementations.
package proration

import "math/big"

// Unit is the fixed-point scale for underpayment ratios.
var Unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Entry is one input payment's committed amount, the amount actually
// delivered, and the commitment's normalization weight for that input.
type Entry struct {
	Committed *big.Int
	Actual    *big.Int
	Weight    *big.Int
}

// Ratio computes the weighted underpayment ratio, scaled by Unit, across the
// given entries:
//
//	ratio = (sum(committed*weight) - sum(actual*weight)) * Unit / sum(committed*weight)
//
// floored to an integer and clamped to zero when the actual total meets or
// exceeds the committed total. A zero committed total yields a zero ratio.
//
// With a single entry the weight multiplies both numerator and denominator
// equally and cancels out of the result; it participates only when entries
// with different weights are aggregated.
func Ratio(entries []Entry) *big.Int {
	totalCommitted := new(big.Int)
	totalActual := new(big.Int)
	for _, e := range entries {
		totalCommitted.Add(totalCommitted, new(big.Int).Mul(e.Committed, e.Weight))
		totalActual.Add(totalActual, new(big.Int).Mul(e.Actual, e.Weight))
	}

	if totalActual.Cmp(totalCommitted) >= 0 || totalCommitted.Sign() == 0 {
		return new(big.Int)
	}

	shortfall := new(big.Int).Sub(totalCommitted, totalActual)

	return shortfall.Mul(shortfall, Unit).Div(shortfall, totalCommitted)
}

// Scale reduces a committed counter-payment amount by the underpayment ratio:
//
//	needed = committed * (Unit - ratio) / Unit
//
// with floor division. A zero ratio returns the committed amount unchanged.
func Scale(committed, ratio *big.Int) *big.Int {
	remaining := new(big.Int).Sub(Unit, ratio)

	return remaining.Mul(committed, remaining).Div(remaining, Unit)
}
