package mixer

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var bigOne = big.NewInt(1)

// Split partitions total into slots non-negative integers summing exactly to
// total.
//
// Increments drawn uniformly from [1, max(remaining/slots, 1)] are assigned
// to uniformly chosen slots until the remainder falls below
// total/upperBound, at which point the whole remainder joins the last chosen
// slot. upperBound is the session's mix account count, not slots, so the
// closing threshold is the same for every split of a session.
func Split(rng Random, total decimal.Decimal, slots, upperBound int) ([]decimal.Decimal, error) {
	if slots < 1 {
		return nil, invariantf("split into %d slots", slots)
	}
	if upperBound < 1 {
		return nil, invariantf("split with upper bound %d", upperBound)
	}
	if total.IsNegative() || !total.IsInteger() {
		return nil, invariantf("split of non-integral or negative total %s", total)
	}

	parts := make([]*big.Int, slots)
	for i := range parts {
		parts[i] = new(big.Int)
	}

	if !total.IsZero() {
		totalInt := total.BigInt()
		remaining := new(big.Int).Set(totalInt)
		nSlots := big.NewInt(int64(slots))
		bound := big.NewInt(int64(upperBound))
		scaled := new(big.Int)

		for {
			maxStep := new(big.Int).Quo(remaining, nSlots)
			if maxStep.Cmp(bigOne) < 0 {
				maxStep.Set(bigOne)
			}

			step := rng.BigIntN(maxStep)
			step.Add(step, bigOne)
			dest := rng.IntN(slots)

			parts[dest].Add(parts[dest], step)
			remaining.Sub(remaining, step)

			if remaining.Sign() == 0 {
				break
			}

			// remaining < total/upperBound, kept in integers
			if scaled.Mul(remaining, bound).Cmp(totalInt) < 0 {
				parts[dest].Add(parts[dest], remaining)
				break
			}
		}
	}

	out := make([]decimal.Decimal, slots)
	for i, part := range parts {
		out[i] = decimal.NewFromBigInt(part, 0)
	}
	return out, nil
}
